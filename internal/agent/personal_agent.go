// Package agent implements the PersonalAgent decision kernel: one agent per
// (user, session), holding a cached view of that user's calendar for the
// session's planning horizon and resolving proposals to ACCEPT/COUNTER/
// NEED_HUMAN by code, never by the LLM.
package agent

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/availability"
	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/koredate"
)

const defaultMeetingMinutes = 60

// PersonalAgent evaluates and proposes meeting slots on behalf of one user
// within one negotiation session.
type PersonalAgent struct {
	userID      core.UserID
	displayName string
	horizon     core.TimeSlot
	busy        []core.CalendarEvent

	avail *availability.Provider
	llm   ProseGenerator
	log   *zap.Logger
	now   func() time.Time
}

// New constructs a PersonalAgent. nowFn is injectable for deterministic
// tests; pass nil to use time.Now.
func New(userID core.UserID, displayName string, horizon core.TimeSlot, avail *availability.Provider, gen ProseGenerator, log *zap.Logger, nowFn func() time.Time) *PersonalAgent {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &PersonalAgent{
		userID:      userID,
		displayName: displayName,
		horizon:     horizon,
		avail:       avail,
		llm:         gen,
		log:         log,
		now:         nowFn,
	}
}

// Prime loads and caches the user's busy events for the full horizon. It
// must be called once before EvaluateProposal or MakeInitialProposal.
func (a *PersonalAgent) Prime(ctx context.Context) {
	a.busy = a.avail.GetEvents(ctx, a.userID, a.horizon)
}

// InitialProposalRequest carries the initiator's stated (possibly partial,
// possibly Korean-relative) scheduling preference.
type InitialProposalRequest struct {
	RequestedDate  string
	RequestedTime  string
	Activity       string
	Location       string
	DurationMin    int
	DurationNights int
	RawUtterance   string
}

// MakeInitialProposal resolves req into a concrete Proposal per §4.2.C: a
// stated date+time is honored verbatim even if it conflicts with the
// initiator's own calendar; a partial or absent preference falls back to
// the agent's own free-slot search.
func (a *PersonalAgent) MakeInitialProposal(ctx context.Context, req InitialProposalRequest) *core.AgentDecision {
	durationMin := req.DurationMin
	if durationMin <= 0 {
		durationMin = defaultMeetingMinutes
	}

	switch {
	case req.RequestedDate != "" && req.RequestedTime != "":
		date := a.resolveDate(req.RequestedDate)
		tm := a.resolveTime(req.RequestedTime, req.RawUtterance)
		proposal := core.Proposal{
			Date: date, Time: tm, DurationMin: durationMin,
			DurationNights: req.DurationNights, Activity: req.Activity, Location: req.Location,
		}
		if _, conflict, err := a.isAvailable(proposal); err == nil && conflict != nil {
			a.log.Info("initiator's stated time conflicts with their own calendar, proceeding with stated intent",
				zap.String("user_id", string(a.userID)), zap.String("conflicting_event", conflict.EventName))
		}
		return a.proposeDecision(ctx, proposal)

	case req.RequestedDate != "":
		date := a.resolveDate(req.RequestedDate)
		slot := a.earliestSlotOnDate(date, durationMin)
		if slot == nil {
			return a.needHuman(ctx, core.Proposal{Date: date, DurationMin: durationMin, Activity: req.Activity, Location: req.Location})
		}
		return a.proposeDecision(ctx, slotToProposal(*slot, core.Proposal{DurationMin: durationMin, Activity: req.Activity, Location: req.Location}))

	case req.RequestedTime != "":
		tm := a.resolveTime(req.RequestedTime, req.RawUtterance)
		hour, _ := strconv.Atoi(strings.SplitN(tm, ":", 2)[0])
		slot := a.nearestSlotToHour(hour, durationMin)
		if slot == nil {
			return a.needHuman(ctx, core.Proposal{DurationMin: durationMin, Activity: req.Activity, Location: req.Location})
		}
		return a.proposeDecision(ctx, slotToProposal(*slot, core.Proposal{DurationMin: durationMin, Activity: req.Activity, Location: req.Location}))

	default:
		slot := a.earliestSlotAnywhere(durationMin)
		if slot == nil {
			return a.needHuman(ctx, core.Proposal{DurationMin: durationMin, Activity: req.Activity, Location: req.Location})
		}
		return a.proposeDecision(ctx, slotToProposal(*slot, core.Proposal{DurationMin: durationMin, Activity: req.Activity, Location: req.Location}))
	}
}

// EvaluateProposal implements §4.2.B. The outcome (ACCEPT/COUNTER/
// NEED_HUMAN) is chosen entirely by code; the LLM only phrases it.
func (a *PersonalAgent) EvaluateProposal(ctx context.Context, p core.Proposal) *core.AgentDecision {
	available, conflict, err := a.isAvailable(p)
	if err != nil {
		a.log.Warn("failed to evaluate proposal, escalating to human",
			zap.String("user_id", string(a.userID)), zap.Error(err))
		return a.needHuman(ctx, p)
	}
	if available {
		prose := a.generateProse(ctx, proseRequest{decision: core.DecisionAccept, proposal: p})
		return &core.AgentDecision{Kind: core.DecisionAccept, Proposal: &p, Prose: prose}
	}

	alt := a.findAlternative(p)
	if alt == nil {
		prose := a.generateProse(ctx, proseRequest{decision: core.DecisionNeedHuman, proposal: p})
		return &core.AgentDecision{Kind: core.DecisionNeedHuman, Conflict: conflict, Prose: prose}
	}
	prose := a.generateProse(ctx, proseRequest{decision: core.DecisionCounter, proposal: p, counter: alt})
	return &core.AgentDecision{Kind: core.DecisionCounter, Proposal: alt, Conflict: conflict, Prose: prose}
}

func (a *PersonalAgent) proposeDecision(ctx context.Context, p core.Proposal) *core.AgentDecision {
	prose := a.generateProse(ctx, proseRequest{decision: core.DecisionPropose, proposal: p})
	return &core.AgentDecision{Kind: core.DecisionPropose, Proposal: &p, Prose: prose}
}

func (a *PersonalAgent) needHuman(ctx context.Context, p core.Proposal) *core.AgentDecision {
	prose := a.generateProse(ctx, proseRequest{decision: core.DecisionNeedHuman, proposal: p})
	return &core.AgentDecision{Kind: core.DecisionNeedHuman, Prose: prose}
}

// isAvailable implements §4.2.A. Single-day proposals must fit entirely
// inside one cached free slot; multi-day proposals must have no busy
// interval overlapping any covered civil day.
func (a *PersonalAgent) isAvailable(p core.Proposal) (bool, *core.ConflictInfo, error) {
	loc := a.horizon.Start.Location()

	if p.IsMultiDay() {
		start, end, err := proposalDayRange(p, loc)
		if err != nil {
			return false, nil, err
		}
		for _, ev := range a.busy {
			if ev.Start.Before(end) && ev.End.After(start) {
				return false, &core.ConflictInfo{EventName: ev.Summary, Start: ev.Start, End: ev.End, AllDay: ev.AllDay}, nil
			}
		}
		return true, nil, nil
	}

	target, err := proposalSlot(p, loc)
	if err != nil {
		return false, nil, err
	}
	free := availability.ComputeFree(a.busy, dayWindowFor(target.Start, loc), p.DurationMin, a.now())
	for _, f := range free {
		if f.Contains(target) {
			return true, nil, nil
		}
	}
	for _, ev := range a.busy {
		if ev.Slot().Overlaps(target) {
			return false, &core.ConflictInfo{EventName: ev.Summary, Start: ev.Start, End: ev.End, AllDay: ev.AllDay}, nil
		}
	}
	return false, nil, nil
}

// findAlternative implements §4.2.B's counter-proposal ranking: same-day
// free slots first, nearest to the original target; otherwise the nearest
// free slot anywhere in the horizon. Returns nil when none exists.
func (a *PersonalAgent) findAlternative(p core.Proposal) *core.Proposal {
	loc := a.horizon.Start.Location()

	if p.IsMultiDay() {
		return a.findAlternativeMultiDay(p, loc)
	}

	target, err := proposalSlot(p, loc)
	if err != nil {
		return nil
	}

	freeSameDay := availability.ComputeFree(a.busy, dayWindowFor(target.Start, loc), p.DurationMin, a.now())
	if best := nearestSlot(freeSameDay, target.Start); best != nil {
		alt := slotToProposal(*best, p)
		return &alt
	}

	freeAll := availability.ComputeFree(a.busy, a.horizon, p.DurationMin, a.now())
	if best := nearestSlot(freeAll, target.Start); best != nil {
		alt := slotToProposal(*best, p)
		return &alt
	}
	return nil
}

func (a *PersonalAgent) findAlternativeMultiDay(p core.Proposal, loc *time.Location) *core.Proposal {
	nights := p.DurationNights
	if nights < 1 {
		nights = 1
	}
	day := civilDay(a.horizon.Start, loc)
	last := civilDay(a.horizon.End, loc)
	for !day.After(last) {
		end := day.AddDate(0, 0, nights)
		conflictFree := true
		for _, ev := range a.busy {
			if ev.Start.Before(end) && ev.End.After(day) {
				conflictFree = false
				break
			}
		}
		if conflictFree {
			return &core.Proposal{
				Date: day.Format("2006-01-02"), DurationNights: nights,
				Activity: p.Activity, Location: p.Location,
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return nil
}

func (a *PersonalAgent) resolveDate(expr string) string {
	if resolved, ok := koredate.ConvertRelativeDate(expr, a.now()); ok {
		return resolved
	}
	return expr
}

func (a *PersonalAgent) resolveTime(expr, utterance string) string {
	if resolved, ok := koredate.ConvertRelativeTime(expr, utterance); ok {
		return resolved
	}
	return expr
}

func (a *PersonalAgent) earliestSlotOnDate(date string, durationMin int) *core.TimeSlot {
	loc := a.horizon.Start.Location()
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil
	}
	free := availability.ComputeFree(a.busy, dayWindowFor(day, loc), durationMin, a.now())
	if len(free) == 0 {
		return nil
	}
	return &free[0]
}

func (a *PersonalAgent) nearestSlotToHour(hour, durationMin int) *core.TimeSlot {
	free := availability.ComputeFree(a.busy, a.horizon, durationMin, a.now())
	var best *core.TimeSlot
	var bestDiff time.Duration
	for i := range free {
		diff := absDuration(time.Duration(free[i].Start.Hour()-hour) * time.Hour)
		if diff > 2*time.Hour {
			continue
		}
		if best == nil || diff < bestDiff {
			s := free[i]
			best, bestDiff = &s, diff
		}
	}
	return best
}

func (a *PersonalAgent) earliestSlotAnywhere(durationMin int) *core.TimeSlot {
	free := availability.ComputeFree(a.busy, a.horizon, durationMin, a.now())
	if len(free) == 0 {
		return nil
	}
	return &free[0]
}

func proposalSlot(p core.Proposal, loc *time.Location) (core.TimeSlot, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", p.Date+" "+p.Time, loc)
	if err != nil {
		return core.TimeSlot{}, err
	}
	duration := time.Duration(p.DurationMin) * time.Minute
	if duration <= 0 {
		duration = time.Hour
	}
	return core.TimeSlot{Start: start, End: start.Add(duration)}, nil
}

func proposalDayRange(p core.Proposal, loc *time.Location) (start, end time.Time, err error) {
	start, err = time.ParseInLocation("2006-01-02", p.Date, loc)
	if err != nil {
		return
	}
	nights := p.DurationNights
	if nights < 1 {
		nights = 1
	}
	end = start.AddDate(0, 0, nights)
	return
}

func dayWindowFor(t time.Time, loc *time.Location) core.TimeSlot {
	day := civilDay(t, loc)
	return core.TimeSlot{Start: day, End: day.AddDate(0, 0, 1)}
}

func civilDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func nearestSlot(slots []core.TimeSlot, target time.Time) *core.TimeSlot {
	if len(slots) == 0 {
		return nil
	}
	best := slots[0]
	bestDiff := absDuration(best.Start.Sub(target))
	for _, s := range slots[1:] {
		d := absDuration(s.Start.Sub(target))
		if d < bestDiff {
			best, bestDiff = s, d
		}
	}
	return &best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func slotToProposal(slot core.TimeSlot, orig core.Proposal) core.Proposal {
	return core.Proposal{
		Date:        slot.Start.Format("2006-01-02"),
		Time:        slot.Start.Format("15:04"),
		DurationMin: orig.DurationMin,
		Activity:    orig.Activity,
		Location:    orig.Location,
	}
}
