// Package approval implements the fresh-scan approval aggregation that
// turns a unanimously agreed negotiation into calendar writes. It never
// trusts a cached approved-by list; every approve re-scans every
// participant's latest response before deciding whether to finalize.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/calendar"
	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/eventbus"
	"github.com/quantumlife/scheduler/internal/storage"
)

// CalendarWriter is the minimal calendar-write surface the coordinator
// needs; internal/calendar.Provider satisfies it.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, userID core.UserID, req calendar.CreateEventRequest) (*calendar.CreateEventResult, error)
}

// Coordinator drives the approve/reject protocol for a pending_approval
// session.
type Coordinator struct {
	sessions *storage.SessionStore
	messages *storage.MessageStore
	chatlogs *storage.ChatLogStore
	events   *storage.CalendarEventStore
	cal      CalendarWriter
	users    *storage.UserStore
	bus      *eventbus.Hub
	log      *zap.Logger
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[core.ThreadID]*sync.Mutex
}

// New constructs a Coordinator. nowFn is injectable for deterministic
// tests; pass nil to use time.Now.
func New(sessions *storage.SessionStore, messages *storage.MessageStore, chatlogs *storage.ChatLogStore,
	events *storage.CalendarEventStore, cal CalendarWriter, users *storage.UserStore, bus *eventbus.Hub,
	log *zap.Logger, nowFn func() time.Time) *Coordinator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Coordinator{
		sessions: sessions, messages: messages, chatlogs: chatlogs, events: events,
		cal: cal, users: users, bus: bus, log: log, now: nowFn,
		locks: make(map[core.ThreadID]*sync.Mutex),
	}
}

// approvalResponseMeta is the metadata shape of one participant's
// approval_response chat log row.
type approvalResponseMeta struct {
	Approved bool          `json:"approved"`
	ThreadID core.ThreadID `json:"thread_id"`
}

// ApproveResult reports what Approve did, for the caller's HTTP response.
type ApproveResult struct {
	AllApproved    bool
	ApprovedBy     core.UserID
	Remaining      int
	FailedOwners   []core.UserID
	CalendarEvents []*storage.CalendarEventRecord
}

// threadLock returns the mutex serializing every approve/reject for
// threadID, so two concurrent clicks never both observe "I'm the last
// approver" and double-finalize.
func (c *Coordinator) threadLock(threadID core.ThreadID) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[threadID] = l
	}
	return l
}

// allParticipants unions InitiatorID with ParticipantIDs, mirroring
// internal/negotiation's convention: a session's participant list is not
// guaranteed to include the initiator explicitly.
func allParticipants(sess *core.Session) []core.UserID {
	seen := map[core.UserID]bool{sess.InitiatorID: true}
	out := []core.UserID{sess.InitiatorID}
	for _, uid := range sess.ParticipantIDs {
		if !seen[uid] {
			seen[uid] = true
			out = append(out, uid)
		}
	}
	return out
}

func threadOf(sess *core.Session) core.ThreadID {
	if sess.PlacePref.ThreadID != "" {
		return sess.PlacePref.ThreadID
	}
	return core.ThreadID(sess.ID)
}

// Approve records U's approval for the thread sessionID belongs to, then
// performs a fresh scan of every participant's latest response before
// deciding whether the thread is fully approved. On full approval it writes
// one owner-local calendar event per participant, tolerating individual
// failures.
func (c *Coordinator) Approve(ctx context.Context, sessionID core.SessionID, userID core.UserID) (*ApproveResult, error) {
	sess, err := c.sessions.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != core.SessionPendingApproval {
		return nil, core.ErrNotPendingApproval
	}
	threadID := threadOf(sess)

	lock := c.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	participants := allParticipants(sess)
	names, err := c.users.GetDisplayNames(ctx, participants)
	if err != nil {
		return nil, err
	}

	respMeta, _ := json.Marshal(approvalResponseMeta{Approved: true, ThreadID: threadID})
	if err := c.chatlogs.Append(&core.ChatLogEntry{
		ID: core.ChatLogID(uuid.NewString()), UserID: userID, SessionRef: sessionID,
		Type: core.ChatApprovalResponse, Metadata: string(respMeta),
	}); err != nil {
		return nil, err
	}

	approvedSet := map[core.UserID]bool{userID: true}
	for _, p := range participants {
		if p == userID {
			continue
		}
		entry, err := c.chatlogs.LatestOfTypeForThread(p, core.ChatApprovalResponse, threadID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		var meta approvalResponseMeta
		if err := json.Unmarshal([]byte(entry.Metadata), &meta); err == nil && meta.Approved {
			approvedSet[p] = true
		}
	}
	allApproved := len(approvedSet) == len(participants)

	approvedList := make([]core.UserID, 0, len(approvedSet))
	for p := range approvedSet {
		approvedList = append(approvedList, p)
	}
	sort.Slice(approvedList, func(i, j int) bool { return approvedList[i] < approvedList[j] })

	now := c.now()
	for _, p := range participants {
		if err := c.updateApprovalRequestMetadata(p, threadID, func(payload *core.ApprovalPayload) {
			payload.ApprovedByList = approvedList
			payload.AllApproved = allApproved
			if p == userID {
				payload.ApprovedBy = userID
				payload.ApprovedAt = &now
			}
		}); err != nil {
			c.log.Warn("failed to update approval-request metadata", zap.String("user_id", string(p)), zap.Error(err))
		}
	}

	remaining := len(participants) - len(approvedSet)
	statusProse := fmt.Sprintf("%s approved. (remaining %d)", names[userID], remaining)
	if allApproved {
		statusProse = fmt.Sprintf("%s approved. (all approved — writing calendar...)", names[userID])
	}
	if err := c.broadcastSystemMessage(ctx, threadID, statusProse); err != nil {
		return nil, err
	}

	result := &ApproveResult{AllApproved: allApproved, ApprovedBy: userID, Remaining: remaining}
	if !allApproved {
		return result, nil
	}

	records, failed, err := c.finalizeCalendar(ctx, sess)
	if err != nil {
		return nil, err
	}
	result.CalendarEvents = records
	result.FailedOwners = failed

	siblings, err := c.sessions.GetByThread(threadID)
	if err != nil || len(siblings) == 0 {
		siblings = []*core.Session{sess}
	}
	for _, s := range siblings {
		s.Status = core.SessionCompleted
		if err := c.sessions.Update(s); err != nil {
			return nil, err
		}
	}

	if err := c.broadcastFinalSummary(ctx, threadID, participants, names, failed); err != nil {
		return nil, err
	}
	return result, nil
}

// Reject records U's rejection: it appends a rejection notice to every
// participant's chat log so the orchestrator's recoordination scan can pick
// it up, and rewrites each participant's approval-request metadata with the
// thread id. ApprovalPayload has no field that marks the request as
// rejected or its buttons as disabled, so that metadata carries no
// rejected state.
func (c *Coordinator) Reject(ctx context.Context, sessionID core.SessionID, userID core.UserID) error {
	sess, err := c.sessions.GetByID(sessionID)
	if err != nil {
		return err
	}
	threadID := threadOf(sess)

	lock := c.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	participants := allParticipants(sess)
	sessionIDs := []core.SessionID{sess.ID}
	if threadID != core.ThreadID(sess.ID) {
		siblings, err := c.sessions.GetByThread(threadID)
		if err == nil {
			sessionIDs = sessionIDs[:0]
			for _, s := range siblings {
				sessionIDs = append(sessionIDs, s.ID)
			}
		}
	}

	payload := core.RecoordinationPayload{
		NeedsRecoordination: true, ThreadID: threadID, SessionIDs: sessionIDs, RejectedBy: userID,
	}
	body, _ := json.Marshal(payload)

	for _, p := range participants {
		if err := c.chatlogs.Append(&core.ChatLogEntry{
			ID: core.ChatLogID(uuid.NewString()), UserID: p, SessionRef: sess.ID,
			Type: core.ChatScheduleRejection, Metadata: string(body),
		}); err != nil {
			return err
		}
		if err := c.updateApprovalRequestMetadata(p, threadID, func(a *core.ApprovalPayload) {}); err != nil {
			c.log.Warn("failed to update approval-request metadata", zap.String("user_id", string(p)), zap.Error(err))
		}
	}

	names, err := c.users.GetDisplayNames(ctx, participants)
	if err != nil {
		return err
	}
	if err := c.broadcastSystemMessage(ctx, threadID, fmt.Sprintf("%s declined the proposed time.", names[userID])); err != nil {
		return err
	}

	for _, s := range sessionIDs {
		sibling, err := c.sessions.GetByID(s)
		if err != nil {
			continue
		}
		sibling.Status = core.SessionNeedsReschedule
		if err := c.sessions.Update(sibling); err != nil {
			return err
		}
	}

	if c.bus != nil {
		for _, p := range participants {
			if _, err := c.bus.Publish(ctx, p, eventbus.KindRecoordination, payload); err != nil {
				c.log.Warn("failed to publish recoordination event", zap.Error(err))
			}
		}
	}
	return nil
}

// updateApprovalRequestMetadata loads userID's latest approval-request log
// for threadID, applies mutate, and writes it back. It is the only place
// that rewrites an already-persisted chat log row.
func (c *Coordinator) updateApprovalRequestMetadata(userID core.UserID, threadID core.ThreadID, mutate func(*core.ApprovalPayload)) error {
	entry, err := c.chatlogs.LatestOfTypeForThread(userID, core.ChatScheduleApproval, threadID)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	var payload core.ApprovalPayload
	_ = json.Unmarshal([]byte(entry.Metadata), &payload)
	payload.ThreadID = threadID
	mutate(&payload)
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.chatlogs.UpdateMetadata(entry.ID, string(body))
}

// finalizeCalendar writes one owner-local event per participant. A
// participant whose write fails (commonly a stale refresh token) is
// recorded in failed and skipped; the rest still get their event.
func (c *Coordinator) finalizeCalendar(ctx context.Context, sess *core.Session) ([]*storage.CalendarEventRecord, []core.UserID, error) {
	start, end, allDay, err := agreedSlot(sess.PlacePref)
	if err != nil {
		return nil, nil, err
	}
	summary := sess.PlacePref.Summary
	if summary == "" {
		summary = sess.PlacePref.Activity
	}
	if summary == "" {
		summary = "일정"
	}

	var records []*storage.CalendarEventRecord
	var failed []core.UserID
	for _, owner := range allParticipants(sess) {
		exists, err := c.events.ExistsForOwner(owner, sess.ID)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			continue
		}

		created, err := c.cal.CreateEvent(ctx, owner, calendar.CreateEventRequest{
			Summary: summary, Location: sess.PlacePref.Location,
			Start: start, End: end, AllDay: allDay, Attendees: nil,
		})
		if err != nil {
			c.log.Warn("calendar write failed for participant", zap.String("user_id", string(owner)), zap.Error(err))
			failed = append(failed, owner)
			continue
		}

		rec := &storage.CalendarEventRecord{
			ID: uuid.NewString(), OwnerUserID: owner, SessionID: sess.ID, GoogleEventID: created.ID,
			Summary: summary, Location: sess.PlacePref.Location, Start: start, End: end, HTMLLink: created.HTMLLink,
		}
		if err := c.events.Create(rec); err != nil && err != core.ErrDuplicateRecord {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	return records, failed, nil
}

func agreedSlot(pref core.PlacePref) (start, end time.Time, allDay bool, err error) {
	start, err = time.Parse("2006-01-02", pref.AgreedDate)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("parse agreed date %q: %w", pref.AgreedDate, err)
	}
	if pref.AgreedDurationNights > 0 {
		return start, start.AddDate(0, 0, pref.AgreedDurationNights), true, nil
	}

	timeOfDay, err := time.Parse("15:04", pref.AgreedTime)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("parse agreed time %q: %w", pref.AgreedTime, err)
	}
	start = time.Date(start.Year(), start.Month(), start.Day(), timeOfDay.Hour(), timeOfDay.Minute(), 0, 0, start.Location())
	durationMin := pref.AgreedDurationMin
	if durationMin <= 0 {
		durationMin = 60
	}
	return start, start.Add(time.Duration(durationMin) * time.Minute), false, nil
}

// broadcastSystemMessage appends prose as a system NegotiationMessage to
// every session sharing threadID and pushes it to every participant.
func (c *Coordinator) broadcastSystemMessage(ctx context.Context, threadID core.ThreadID, prose string) error {
	siblings, err := c.sessions.GetByThread(threadID)
	if err != nil || len(siblings) == 0 {
		siblings = nil
	}
	if len(siblings) == 0 {
		sess, err := c.sessions.GetByID(core.SessionID(threadID))
		if err != nil {
			return nil
		}
		siblings = []*core.Session{sess}
	}

	for _, sess := range siblings {
		msg := &core.NegotiationMessage{
			ID: core.MessageID(uuid.NewString()), SessionID: sess.ID, Type: core.MsgInfo,
			SenderDisplayName: "system", Prose: prose, Timestamp: c.now(),
		}
		if err := c.messages.Append(msg); err != nil {
			return err
		}
		if c.bus != nil {
			for _, p := range allParticipants(sess) {
				if _, err := c.bus.Publish(ctx, p, eventbus.KindApprovalResponse, msg); err != nil {
					c.log.Warn("failed to publish approval status", zap.Error(err))
				}
			}
		}
	}
	return nil
}

func (c *Coordinator) broadcastFinalSummary(ctx context.Context, threadID core.ThreadID, participants []core.UserID, names map[core.UserID]string, failed []core.UserID) error {
	summary := "일정이 확정되었습니다."
	if len(failed) > 0 {
		failedNames := make([]string, 0, len(failed))
		for _, f := range failed {
			failedNames = append(failedNames, names[f])
		}
		summary = fmt.Sprintf("일정이 확정되었으나, 다음 사용자의 캘린더 등록에 실패했습니다: %s. (권한/로그인 확인 필요)",
			strings.Join(failedNames, ", "))
	}
	if err := c.broadcastSystemMessage(ctx, threadID, summary); err != nil {
		return err
	}
	if c.bus != nil {
		for _, p := range participants {
			if _, err := c.bus.Publish(ctx, p, eventbus.KindCalendarFinalized, summary); err != nil {
				c.log.Warn("failed to publish finalization event", zap.Error(err))
			}
		}
	}
	return nil
}
