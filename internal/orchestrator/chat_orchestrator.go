// Package orchestrator implements the chat-facing state machine: a single
// function per user message that decides exactly one terminal action
// (slot-filling question, direct personal-calendar write, negotiation
// dispatch, recommendation listing, or free-form reply) and keeps just
// enough state in the chat log's metadata column to interpret the user's
// next message correctly.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/agent"
	"github.com/quantumlife/scheduler/internal/availability"
	"github.com/quantumlife/scheduler/internal/calendar"
	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/intent"
	"github.com/quantumlife/scheduler/internal/koredate"
	"github.com/quantumlife/scheduler/internal/llm"
	"github.com/quantumlife/scheduler/internal/negotiation"
	"github.com/quantumlife/scheduler/internal/storage"
)

// ChatGenerator is the minimal LLM surface the free-form fallback needs.
type ChatGenerator interface {
	Route(ctx context.Context, req llm.RouteRequest) (*llm.RouteResponse, error)
}

// CalendarWriter is the minimal calendar-write surface a direct
// personal-calendar write needs.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, userID core.UserID, req calendar.CreateEventRequest) (*calendar.CreateEventResult, error)
}

// Orchestrator drives the per-message chat state machine described by the
// transition table: prior chat-log state plus the newly extracted intent
// together determine exactly one action.
type Orchestrator struct {
	extractor *intent.Extractor
	avail     *availability.Provider
	neg       *negotiation.Engine
	cal       CalendarWriter
	events    *storage.CalendarEventStore
	chatlogs  *storage.ChatLogStore
	sessions  *storage.SessionStore
	users     *storage.UserStore
	gen       ChatGenerator
	log       *zap.Logger
	now       func() time.Time
}

// New constructs an Orchestrator. nowFn is injectable for deterministic
// tests; pass nil to use time.Now.
func New(extractor *intent.Extractor, avail *availability.Provider, neg *negotiation.Engine, cal CalendarWriter,
	events *storage.CalendarEventStore, chatlogs *storage.ChatLogStore, sessions *storage.SessionStore,
	users *storage.UserStore, gen ChatGenerator, log *zap.Logger, nowFn func() time.Time) *Orchestrator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Orchestrator{
		extractor: extractor, avail: avail, neg: neg, cal: cal, events: events, chatlogs: chatlogs,
		sessions: sessions, users: users, gen: gen, log: log, now: nowFn,
	}
}

// Reply is what Handle hands back to the chat transport.
type Reply struct {
	Text            string
	Recommendations []core.MajorityRecommendation
	SessionID       core.SessionID
}

// defaultHorizonDays bounds a recommendation-mode or negotiation window when
// the user gave no explicit range.
const defaultHorizonDays = 7

// stateFlags is the minimal discriminant read from the user's most recent
// ai_response log to know which mode, if any, is active.
type stateFlags struct {
	TimeSelectionMode    bool `json:"time_selection_mode"`
	RecommendationMode   bool `json:"recommendation_mode"`
	AwaitingConfirmation bool `json:"awaiting_personal_write"`
	AwaitingEndTime      bool `json:"awaiting_end_time"`
}

var reShortConfirm = regexp.MustCompile(`^(응|네|좋아|오케이|ok|okay|yes)[.!~ ]*$`)

// Handle resolves one user utterance to exactly one terminal action and
// returns the reply to show the user. uiSelectedFriends carries any
// friends the user picked through the UI (as opposed to naming in text),
// which several rules in the transition table treat specially.
func (o *Orchestrator) Handle(ctx context.Context, userID core.UserID, utterance string, uiSelectedFriends []core.UserID) (*Reply, error) {
	prior, priorEntry, err := o.latestAIState(userID)
	if err != nil {
		return nil, err
	}

	if prior.TimeSelectionMode {
		return o.handleTimeSelection(ctx, userID, utterance, priorEntry)
	}
	if prior.RecommendationMode {
		if reply, handled, err := o.handleRecommendationSelection(ctx, userID, utterance, priorEntry); err != nil || handled {
			return reply, err
		}
		// else: fall through to a fresh extraction below.
	}
	if prior.AwaitingConfirmation && reShortConfirm.MatchString(strings.TrimSpace(utterance)) {
		return o.handleConfirmedPersonalWrite(ctx, userID, priorEntry)
	}
	if prior.AwaitingEndTime {
		return o.handleEndTimeAnswer(ctx, userID, utterance, priorEntry)
	}

	if reply, handled, err := o.handleRecoordination(ctx, userID, utterance); err != nil || handled {
		return reply, err
	}

	in := o.extractor.Extract(ctx, utterance)
	hasFriends := in.FriendName != "" || len(in.FriendNames) > 0 || len(uiSelectedFriends) > 0

	if !hasFriends {
		return o.handleNoFriends(ctx, userID, in, utterance)
	}

	friendIDs, friendNames, err := o.resolveFriends(ctx, in, uiSelectedFriends)
	if err != nil {
		return nil, err
	}
	if len(friendIDs) == 0 {
		return o.askForFriendClarification(userID, in)
	}

	dateConcrete := in.Date != "" || in.StartDate != ""
	timeConcrete := in.Time != "" || in.StartTime != ""
	isRange := in.StartDate != "" && in.EndDate != "" && in.StartDate != in.EndDate

	switch {
	case dateConcrete && timeConcrete && !isRange:
		return o.dispatchNegotiation(ctx, userID, in, friendIDs, friendNames)
	case dateConcrete && !timeConcrete:
		return o.enterTimeSelection(ctx, userID, in, friendIDs, friendNames)
	default:
		return o.enterRecommendationMode(ctx, userID, friendIDs, friendNames, in.Activity, in.Location)
	}
}

// latestAIState reads back the state the orchestrator itself left on the
// user's most recent ai_response log entry.
func (o *Orchestrator) latestAIState(userID core.UserID) (stateFlags, *core.ChatLogEntry, error) {
	entry, err := o.chatlogs.LatestOfTypes(userID, []core.ChatLogType{core.ChatAIResponse})
	if err != nil {
		return stateFlags{}, nil, err
	}
	if entry == nil {
		return stateFlags{}, nil, nil
	}
	var flags stateFlags
	_ = json.Unmarshal([]byte(entry.Metadata), &flags)
	return flags, entry, nil
}

func (o *Orchestrator) appendUserMessage(userID core.UserID, text string) error {
	return o.chatlogs.Append(&core.ChatLogEntry{
		ID: core.ChatLogID(uuid.NewString()), UserID: userID, RequestText: text, Type: core.ChatUserMessage,
	})
}

func (o *Orchestrator) appendAIResponse(userID core.UserID, text string, metadata interface{}) error {
	body := "{}"
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		body = string(b)
	}
	return o.chatlogs.Append(&core.ChatLogEntry{
		ID: core.ChatLogID(uuid.NewString()), UserID: userID, ResponseText: text, Type: core.ChatAIResponse, Metadata: body,
	})
}

func (o *Orchestrator) reply(userID core.UserID, text string, metadata interface{}) (*Reply, error) {
	if err := o.appendAIResponse(userID, text, metadata); err != nil {
		return nil, err
	}
	return &Reply{Text: text}, nil
}

// resolveFriends turns the extractor's friend name(s) into UserIDs,
// preferring explicit UI selections when present.
func (o *Orchestrator) resolveFriends(ctx context.Context, in core.Intent, uiSelected []core.UserID) ([]core.UserID, []string, error) {
	if len(uiSelected) > 0 {
		names, err := o.users.GetDisplayNames(ctx, uiSelected)
		if err != nil {
			return nil, nil, err
		}
		out := make([]string, 0, len(uiSelected))
		for _, id := range uiSelected {
			out = append(out, names[id])
		}
		return uiSelected, out, nil
	}

	candidates := in.FriendNames
	if len(candidates) == 0 && in.FriendName != "" {
		candidates = []string{in.FriendName}
	}
	var ids []core.UserID
	var names []string
	for _, name := range candidates {
		u, err := o.users.FindByDisplayName(ctx, name)
		if err != nil {
			continue
		}
		ids = append(ids, u.ID)
		names = append(names, u.DisplayName)
	}
	return ids, names, nil
}

// askForFriendClarification handles the case where the utterance named a
// friend but no user record matches: the extractor never fabricates an id,
// so the orchestrator must ask rather than silently dropping the request.
func (o *Orchestrator) askForFriendClarification(userID core.UserID, in core.Intent) (*Reply, error) {
	name := in.FriendName
	if name == "" && len(in.FriendNames) > 0 {
		name = in.FriendNames[0]
	}
	question := "누구와 만나시나요?"
	if name != "" {
		question = fmt.Sprintf("%s님을 친구 목록에서 찾지 못했어요. 다시 알려주실래요?", name)
	}
	return o.reply(userID, question, nil)
}

func (o *Orchestrator) enterTimeSelection(ctx context.Context, userID core.UserID, in core.Intent, friendIDs []core.UserID, friendNames []string) (*Reply, error) {
	date := in.Date
	if date == "" {
		date = in.StartDate
	}
	payload := core.TimeSelectionPayload{
		TimeSelectionMode: true, Date: date, FriendIDs: friendIDs, FriendNames: friendNames,
		Activity: in.Activity, Location: in.Location,
	}
	text := fmt.Sprintf("%s에 만나는 걸로 할게요. 몇 시가 좋을까요?", date)
	return o.reply(userID, text, payload)
}

func (o *Orchestrator) enterRecommendationMode(ctx context.Context, userID core.UserID, friendIDs []core.UserID, friendNames []string, activity, location string) (*Reply, error) {
	window := core.TimeSlot{Start: civilDay(o.now()), End: civilDay(o.now()).AddDate(0, 0, defaultHorizonDays)}
	participants := append([]core.UserID{userID}, friendIDs...)
	recs := o.recommend(ctx, participants, window, -1)

	candidates := make([]core.RecommendationCandidate, len(recs))
	text := "다음 중에서 골라주세요:\n"
	for i, r := range recs {
		candidates[i] = core.RecommendationCandidate{Date: r.Date, TimeCondition: r.TimeCondition}
		text += fmt.Sprintf("%d. %s (%s)\n", i+1, r.Date, r.TimeCondition)
	}

	payload := core.RecommendationPayload{
		RecommendationMode: true, Recommendations: candidates, FriendIDs: friendIDs, FriendNames: friendNames,
		Activity: activity, Location: location,
	}
	return o.reply(userID, text, payload)
}

var (
	reOrdinalPick = regexp.MustCompile(`^([123])\s*(번|번째)?$`)
	reMonthDayPick = regexp.MustCompile(`(\d{1,2})\s*/\s*(\d{1,2})`)
)

func (o *Orchestrator) handleRecommendationSelection(ctx context.Context, userID core.UserID, utterance string, priorEntry *core.ChatLogEntry) (*Reply, bool, error) {
	var payload core.RecommendationPayload
	if err := json.Unmarshal([]byte(priorEntry.Metadata), &payload); err != nil {
		return nil, false, nil
	}

	trimmed := strings.TrimSpace(utterance)
	var picked *core.RecommendationCandidate
	if m := reOrdinalPick.FindStringSubmatch(trimmed); m != nil {
		idx, _ := strconv.Atoi(m[1])
		if idx >= 1 && idx <= len(payload.Recommendations) {
			picked = &payload.Recommendations[idx-1]
		}
	} else if m := reMonthDayPick.FindStringSubmatch(trimmed); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		for i := range payload.Recommendations {
			d, err := time.Parse("2006-01-02", payload.Recommendations[i].Date)
			if err == nil && int(d.Month()) == month && d.Day() == day {
				picked = &payload.Recommendations[i]
				break
			}
		}
	}

	if picked == nil {
		return nil, false, nil
	}

	reply, err := o.enterTimeSelection(ctx, userID, core.Intent{
		Date: picked.Date, Activity: payload.Activity, Location: payload.Location,
	}, payload.FriendIDs, payload.FriendNames)
	return reply, true, err
}

func (o *Orchestrator) handleTimeSelection(ctx context.Context, userID core.UserID, utterance string, priorEntry *core.ChatLogEntry) (*Reply, error) {
	var payload core.TimeSelectionPayload
	if err := json.Unmarshal([]byte(priorEntry.Metadata), &payload); err != nil {
		return nil, err
	}

	tm, ok := findTimeExpr(utterance)
	if !ok {
		return o.reply(userID, "시간을 이해하지 못했어요. 다시 말씀해 주실래요?", payload)
	}
	if payload.TimeCondition != "" && violatesTimeCondition(tm, payload.TimeCondition) {
		return o.reply(userID, fmt.Sprintf("%s 조건에 맞지 않아요. 다른 시간은 어떠세요?", payload.TimeCondition), payload)
	}

	in := core.Intent{Date: payload.Date, Time: tm, Activity: payload.Activity, Location: payload.Location}
	return o.dispatchNegotiation(ctx, userID, in, payload.FriendIDs, payload.FriendNames)
}

func violatesTimeCondition(tm, condition string) bool {
	hour, _, ok := splitHourMinute(tm)
	if !ok {
		return false
	}
	var h1, h2 int
	switch {
	case strings.HasSuffix(condition, "시 이전"):
		fmt.Sscanf(condition, "%d시 이전", &h1)
		return hour >= h1
	case strings.HasSuffix(condition, "시 이후"):
		fmt.Sscanf(condition, "%d시 이후", &h1)
		return hour < h1
	case strings.Contains(condition, "-"):
		fmt.Sscanf(condition, "%d시-%d시", &h1, &h2)
		return hour < h1 || hour >= h2
	}
	return false
}

func splitHourMinute(tm string) (hour, minute int, ok bool) {
	parts := strings.SplitN(tm, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return h, m, true
}

func findTimeExpr(utterance string) (string, bool) {
	re := regexp.MustCompile(`\d{1,2}\s*시(\s*\d{1,2}\s*분)?(\s*반)?|점심|저녁|아침|새벽`)
	m := re.FindString(utterance)
	if m == "" {
		return "", false
	}
	return koredate.ConvertRelativeTime(m, utterance)
}

// dispatchNegotiation creates a new session and hands it to the
// negotiation engine. The engine streams its own messages over the event
// bus, so this returns immediately with an acknowledgement.
func (o *Orchestrator) dispatchNegotiation(ctx context.Context, userID core.UserID, in core.Intent, friendIDs []core.UserID, friendNames []string) (*Reply, error) {
	if len(friendIDs) == 0 {
		return o.reply(userID, "같이 만날 친구를 찾지 못했어요. 이름을 다시 알려주실래요?", nil)
	}

	threadID := core.ThreadID(uuid.NewString())
	participants := append([]core.UserID{userID}, friendIDs...)
	sess := &core.Session{
		ID: core.SessionID(uuid.NewString()), InitiatorID: userID, ParticipantIDs: participants,
		Status: core.SessionInProgress,
		TimeWindow: core.TimeSlot{Start: o.now(), End: o.now().AddDate(0, 0, defaultHorizonDays)},
		PlacePref: core.PlacePref{
			ThreadID: threadID, Participants: participants, Activity: in.Activity, Location: in.Location,
			RequestedDate: in.Date, RequestedTime: in.Time,
		},
	}
	if err := o.sessions.Create(sess); err != nil {
		return nil, err
	}

	req := agent.InitialProposalRequest{
		RequestedDate: in.Date, RequestedTime: in.Time, Activity: in.Activity, Location: in.Location,
		DurationMin: 60, RawUtterance: in.Date + " " + in.Time,
	}
	go func() {
		runCtx := context.Background()
		if err := o.neg.Run(runCtx, sess, req); err != nil {
			o.log.Error("negotiation run failed", zap.String("session_id", string(sess.ID)), zap.Error(err))
		}
	}()

	text := fmt.Sprintf("%s님과 %s %s 일정 조율을 시작할게요.", strings.Join(friendNames, ", "), in.Date, in.Time)
	if err := o.appendAIResponse(userID, text, nil); err != nil {
		return nil, err
	}
	return &Reply{Text: text, SessionID: sess.ID}, nil
}

// handleNoFriends implements the table's two single-participant rows: a
// fully concrete explicit range writes straight to the calendar; a single
// instant without an end asks for one.
func (o *Orchestrator) handleNoFriends(ctx context.Context, userID core.UserID, in core.Intent, utterance string) (*Reply, error) {
	if !in.HasScheduleRequest || in.Date == "" || in.Time == "" {
		return o.freeFormReply(ctx, userID, utterance)
	}

	if in.EndTime == "" {
		payload := core.PendingPersonalWrite{
			AwaitingEndTime: true, Date: in.Date, Time: in.Time, Activity: in.Activity, Location: in.Location,
		}
		return o.reply(userID, "끝나는 시간은 언제인가요?", payload)
	}

	return o.writePersonalEvent(ctx, userID, in.Date, in.Time, in.EndTime, in.Activity, in.Location, false)
}

// handleEndTimeAnswer resumes the "ask for end time" state once the user
// supplies one.
func (o *Orchestrator) handleEndTimeAnswer(ctx context.Context, userID core.UserID, utterance string, priorEntry *core.ChatLogEntry) (*Reply, error) {
	var payload core.PendingPersonalWrite
	if err := json.Unmarshal([]byte(priorEntry.Metadata), &payload); err != nil {
		return nil, err
	}
	endTime, ok := findTimeExpr(utterance)
	if !ok {
		return o.reply(userID, "시간을 이해하지 못했어요. 몇 시에 끝나나요?", payload)
	}
	return o.writePersonalEvent(ctx, userID, payload.Date, payload.Time, endTime, payload.Activity, payload.Location, false)
}

// handleConfirmedPersonalWrite resumes a conflict confirmation: the user
// already said "응"/"네" to "write anyway", so the conflict check is skipped.
func (o *Orchestrator) handleConfirmedPersonalWrite(ctx context.Context, userID core.UserID, priorEntry *core.ChatLogEntry) (*Reply, error) {
	var payload core.PendingPersonalWrite
	if err := json.Unmarshal([]byte(priorEntry.Metadata), &payload); err != nil {
		return nil, err
	}
	endTime := payload.EndTime
	if endTime == "" {
		endTime = addOneHour(payload.Time)
	}
	return o.writePersonalEvent(ctx, userID, payload.Date, payload.Time, endTime, payload.Activity, payload.Location, true)
}

func addOneHour(tm string) string {
	hour, minute, ok := splitHourMinute(tm)
	if !ok {
		return tm
	}
	hour = (hour + 1) % 24
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// writePersonalEvent writes a single-participant event directly to the
// user's own calendar, skipping negotiation. skipConflictCheck is set when
// the user has already confirmed a previously reported conflict.
func (o *Orchestrator) writePersonalEvent(ctx context.Context, userID core.UserID, date, startTime, endTime, activity, location string, skipConflictCheck bool) (*Reply, error) {
	start, err := time.Parse("2006-01-02 15:04", date+" "+startTime)
	if err != nil {
		return o.reply(userID, "날짜나 시간을 이해하지 못했어요.", nil)
	}
	end, err := time.Parse("2006-01-02 15:04", date+" "+endTime)
	if err != nil || !end.After(start) {
		return o.reply(userID, "종료 시간이 시작 시간보다 뒤여야 해요.", nil)
	}

	if !skipConflictCheck {
		window := core.TimeSlot{Start: civilDay(start), End: civilDay(start).AddDate(0, 0, 1)}
		busy := o.avail.GetEvents(ctx, userID, window)
		for _, b := range busy {
			if b.Slot().Overlaps(core.TimeSlot{Start: start, End: end}) {
				payload := core.PendingPersonalWrite{
					AwaitingConfirmation: true, Date: date, Time: startTime, EndTime: endTime,
					Activity: activity, Location: location,
				}
				return o.reply(userID, fmt.Sprintf("이미 '%s' 일정이 있어요. 그래도 진행할까요?", b.Summary), payload)
			}
		}
	}

	summary := activity
	if summary == "" {
		summary = "일정"
	}
	created, err := o.cal.CreateEvent(ctx, userID, calendar.CreateEventRequest{
		Summary: summary, Location: location, Start: start, End: end,
	})
	if err != nil {
		return o.reply(userID, "캘린더에 일정을 쓰지 못했어요. 다시 시도해 주세요.", nil)
	}

	rec := &storage.CalendarEventRecord{
		ID: uuid.NewString(), OwnerUserID: userID, GoogleEventID: created.ID,
		Summary: summary, Location: location, Start: start, End: end, HTMLLink: created.HTMLLink,
	}
	if err := o.events.Create(rec); err != nil && err != core.ErrDuplicateRecord {
		o.log.Warn("failed to persist direct calendar event record", zap.Error(err))
	}

	text := fmt.Sprintf("%s %s에 '%s' 일정을 등록했어요.", date, startTime, summary)
	return o.reply(userID, text, nil)
}

// handleRecoordination implements §4.4's recoordination detection rule: any
// rejection/recoordination log newer than the most recent all_approved
// marker, combined with a new message carrying date/time/text, restarts
// negotiation on the prior thread. Explicit friend names override it.
func (o *Orchestrator) handleRecoordination(ctx context.Context, userID core.UserID, utterance string) (*Reply, bool, error) {
	lastSuccess, err := o.chatlogs.LatestOfTypes(userID, []core.ChatLogType{core.ChatScheduleConfirmed})
	if err != nil {
		return nil, false, err
	}
	rejection, err := o.chatlogs.LatestOfTypes(userID, []core.ChatLogType{core.ChatScheduleRejection})
	if err != nil {
		return nil, false, err
	}
	if rejection == nil {
		return nil, false, nil
	}
	if lastSuccess != nil && !rejection.CreatedAt.After(lastSuccess.CreatedAt) {
		return nil, false, nil
	}

	in := o.extractor.Extract(ctx, utterance)
	if in.FriendName != "" || len(in.FriendNames) > 0 {
		return nil, false, nil // explicit friend names override recoordination
	}
	if in.Date == "" && in.Time == "" && strings.TrimSpace(utterance) == "" {
		return nil, false, nil
	}

	var payload core.RecoordinationPayload
	if err := json.Unmarshal([]byte(rejection.Metadata), &payload); err != nil || len(payload.SessionIDs) == 0 {
		return nil, false, nil
	}

	sess, err := o.sessions.GetByID(payload.SessionIDs[0])
	if err != nil {
		return nil, false, nil
	}
	sess.Status = core.SessionInProgress
	if err := o.sessions.Update(sess); err != nil {
		return nil, false, err
	}

	req := agent.InitialProposalRequest{RequestedDate: in.Date, RequestedTime: in.Time, DurationMin: 60}
	go func() {
		if err := o.neg.Run(context.Background(), sess, req); err != nil {
			o.log.Error("recoordination run failed", zap.String("session_id", string(sess.ID)), zap.Error(err))
		}
	}()

	reply, err := o.reply(userID, "다시 일정을 조율해볼게요.", nil)
	return reply, true, err
}

func (o *Orchestrator) freeFormReply(ctx context.Context, userID core.UserID, utterance string) (*Reply, error) {
	if o.gen == nil {
		return o.reply(userID, "어떻게 도와드릴까요?", nil)
	}
	resp, err := o.gen.Route(ctx, llm.RouteRequest{
		System: "You are a friendly Korean scheduling assistant. Reply briefly.",
		Prompt: utterance, MaxTokens: 300, Temperature: 0.5,
	})
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		return o.reply(userID, "어떻게 도와드릴까요?", nil)
	}
	return o.reply(userID, resp.Content, nil)
}
