// Package negotiation implements the round-based multi-agent proposal
// protocol: the engine drives each participant's PersonalAgent through a
// bounded number of rounds, detects deadlock, and hands off a fully agreed
// proposal to the approval coordinator without ever writing a calendar
// event itself.
package negotiation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/agent"
	"github.com/quantumlife/scheduler/internal/availability"
	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/eventbus"
	"github.com/quantumlife/scheduler/internal/storage"
)

// Config bounds the round loop. MaxRounds and DeadlockThreshold mirror the
// negotiation section of internal/config.Config; StepDelay is the
// deliberate pacing the product wants between streamed messages.
type Config struct {
	MaxRounds         int
	DeadlockThreshold int
	StepDelay         time.Duration
}

// DefaultConfig returns the values named in the protocol description.
func DefaultConfig() Config {
	return Config{MaxRounds: 5, DeadlockThreshold: 2, StepDelay: 400 * time.Millisecond}
}

// Engine drives one negotiation session's round loop.
type Engine struct {
	sessions *storage.SessionStore
	messages *storage.MessageStore
	users    *storage.UserStore
	avail    *availability.Provider
	gen      agent.ProseGenerator
	bus      *eventbus.Hub
	log      *zap.Logger
	cfg      Config
	now      func() time.Time
}

// New constructs an Engine. nowFn is injectable for deterministic tests;
// pass nil to use time.Now.
func New(sessions *storage.SessionStore, messages *storage.MessageStore, users *storage.UserStore,
	avail *availability.Provider, gen agent.ProseGenerator, bus *eventbus.Hub, log *zap.Logger, cfg Config, nowFn func() time.Time) *Engine {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Engine{sessions: sessions, messages: messages, users: users, avail: avail, gen: gen, bus: bus, log: log, cfg: cfg, now: nowFn}
}

// Run drives sess from its initiator's initial request through to either
// AGREED (session transitions to pending_approval) or NEED_HUMAN. It never
// writes a calendar event; that is ApprovalCoordinator's job on AGREED.
func (e *Engine) Run(ctx context.Context, sess *core.Session, initial agent.InitialProposalRequest) error {
	participants := allParticipants(sess)
	names, err := e.users.GetDisplayNames(ctx, participants)
	if err != nil {
		return err
	}

	agents := make(map[core.UserID]*agent.PersonalAgent, len(participants))
	for _, uid := range participants {
		a := agent.New(uid, names[uid], sess.TimeWindow, e.avail, e.gen, e.log, e.now)
		a.Prime(ctx)
		agents[uid] = a
	}

	initiatorAgent := agents[sess.InitiatorID]
	decision := initiatorAgent.MakeInitialProposal(ctx, initial)
	if decision.Kind == core.DecisionNeedHuman {
		if err := e.appendMessage(ctx, sess, &core.NegotiationMessage{
			Type: core.MsgNeedHuman, SenderID: sess.InitiatorID, SenderDisplayName: names[sess.InitiatorID],
			Prose: decision.Prose,
		}); err != nil {
			return err
		}
		return e.terminate(ctx, sess, core.SessionNeedsReschedule)
	}

	current := *decision.Proposal
	if err := e.appendMessage(ctx, sess, &core.NegotiationMessage{
		Type: core.MsgPropose, SenderID: sess.InitiatorID, SenderDisplayName: names[sess.InitiatorID],
		Proposal: &current, Prose: decision.Prose,
	}); err != nil {
		return err
	}

	others := nonInitiatorParticipants(sess)
	deadlockRounds := 0
	priorCounters := make(map[core.UserID]core.Proposal)

	for round := 1; round <= e.cfg.MaxRounds; round++ {
		allAccepted := true
		roundCounters := make(map[core.UserID]core.Proposal)
		anyCycling := false

		for _, uid := range others {
			if err := e.appendMessage(ctx, sess, &core.NegotiationMessage{
				Type: core.MsgInfo, SenderID: uid, SenderDisplayName: names[uid],
				RoundNumber: round, Prose: names[uid] + "님 일정 확인 중...",
			}); err != nil {
				return err
			}

			d := agents[uid].EvaluateProposal(ctx, current)
			msg := &core.NegotiationMessage{
				Type: decisionMessageType(d.Kind), SenderID: uid, SenderDisplayName: names[uid],
				RoundNumber: round, Proposal: d.Proposal, Prose: d.Prose, Conflict: d.Conflict,
			}
			if err := e.appendMessage(ctx, sess, msg); err != nil {
				return err
			}

			if d.Kind == core.DecisionNeedHuman {
				return e.terminate(ctx, sess, core.SessionNeedsReschedule)
			}
			if d.Kind == core.DecisionCounter {
				allAccepted = false
				roundCounters[uid] = *d.Proposal

				// Cycling per §4.5: this participant's counter this round
				// is identical to its own counter from the prior round.
				if prev, ok := priorCounters[uid]; ok && prev.Date == d.Proposal.Date && prev.Time == d.Proposal.Time {
					anyCycling = true
				}
			}
		}
		for uid, p := range roundCounters {
			priorCounters[uid] = p
		}

		if allAccepted {
			if err := e.appendMessage(ctx, sess, &core.NegotiationMessage{
				Type: core.MsgAccept, SenderID: sess.InitiatorID, SenderDisplayName: "system",
				RoundNumber: round, Prose: "모든 참가자가 동의했습니다.",
			}); err != nil {
				return err
			}
			return e.finalize(ctx, sess, current)
		}

		if anyCycling {
			deadlockRounds++
		} else {
			deadlockRounds = 0
		}
		if deadlockRounds >= e.cfg.DeadlockThreshold {
			return e.escalate(ctx, sess, current, "참가자들이 같은 제안을 반복하고 있어 사람의 확인이 필요합니다.")
		}

		current = latestCounter(roundCounters, others)

		d := initiatorAgent.EvaluateProposal(ctx, current)
		if err := e.appendMessage(ctx, sess, &core.NegotiationMessage{
			Type: decisionMessageType(d.Kind), SenderID: sess.InitiatorID, SenderDisplayName: names[sess.InitiatorID],
			RoundNumber: round, Proposal: d.Proposal, Prose: d.Prose, Conflict: d.Conflict,
		}); err != nil {
			return err
		}
		if d.Kind == core.DecisionNeedHuman {
			return e.terminate(ctx, sess, core.SessionNeedsReschedule)
		}
		if d.Kind == core.DecisionCounter {
			current = *d.Proposal
		}
	}

	return e.escalate(ctx, sess, current, "라운드 한도 내에 합의하지 못해 사람의 확인이 필요합니다.")
}

// finalize implements §4.5's AGREED path: every session sharing the
// thread_id moves to pending_approval and records both the original human
// request and the agreed slot. It never writes a calendar event.
func (e *Engine) finalize(ctx context.Context, sess *core.Session, agreed core.Proposal) error {
	threadID := sess.PlacePref.ThreadID
	siblings := []*core.Session{sess}
	if threadID != "" {
		found, err := e.sessions.GetByThread(threadID)
		if err == nil {
			siblings = found
		}
	}
	for _, s := range siblings {
		s.Status = core.SessionPendingApproval
		s.PlacePref.AgreedDate = agreed.Date
		s.PlacePref.AgreedTime = agreed.Time
		s.PlacePref.AgreedDurationMin = agreed.DurationMin
		s.PlacePref.AgreedDurationNights = agreed.DurationNights
		if s.PlacePref.RequestedDate == "" {
			s.PlacePref.RequestedDate = agreed.Date
		}
		if s.PlacePref.RequestedTime == "" {
			s.PlacePref.RequestedTime = agreed.Time
		}
		if err := e.sessions.Update(s); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) terminate(ctx context.Context, sess *core.Session, status core.SessionStatus) error {
	sess.Status = status
	return e.sessions.Update(sess)
}

// escalate appends a system NEED_HUMAN message carrying the last proposal
// under negotiation before terminating. Unlike a participant's own
// NEED_HUMAN decision, the deadlock and round-overflow paths have no
// message of their own to carry the proposal forward for the human who
// picks this back up, so escalate supplies one (§4.5, §7, S3).
func (e *Engine) escalate(ctx context.Context, sess *core.Session, proposal core.Proposal, reason string) error {
	p := proposal
	if err := e.appendMessage(ctx, sess, &core.NegotiationMessage{
		Type: core.MsgNeedHuman, SenderID: sess.InitiatorID, SenderDisplayName: "system",
		Proposal: &p, Prose: reason,
	}); err != nil {
		return err
	}
	return e.terminate(ctx, sess, core.SessionNeedsReschedule)
}

// appendMessage persists msg exactly once then best-effort publishes it to
// every participant's EventBus channel, preserving per-message ordering
// with the configured step delay before the next round step proceeds.
func (e *Engine) appendMessage(ctx context.Context, sess *core.Session, msg *core.NegotiationMessage) error {
	msg.ID = core.MessageID(uuid.NewString())
	msg.SessionID = sess.ID
	msg.Timestamp = e.now()

	if err := e.messages.Append(msg); err != nil {
		return err
	}

	if e.bus != nil {
		for _, uid := range allParticipants(sess) {
			if _, err := e.bus.Publish(ctx, uid, eventbus.KindNegotiationMessage, msg); err != nil {
				e.log.Warn("failed to publish negotiation message", zap.String("session_id", string(sess.ID)), zap.Error(err))
			}
		}
	}

	if e.cfg.StepDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.StepDelay):
		}
	}
	return nil
}

// ParticipantSnapshot computes §4.5's per-instant availability snapshot.
// Conflict event names are populated only for the owning participant's own
// element; callers must not copy one participant's conflict into another's
// view when serializing per-recipient.
func (e *Engine) ParticipantSnapshot(ctx context.Context, sess *core.Session, target core.Proposal) ([]core.ParticipantAvailability, error) {
	participants := allParticipants(sess)
	names, err := e.users.GetDisplayNames(ctx, participants)
	if err != nil {
		return nil, err
	}

	out := make([]core.ParticipantAvailability, 0, len(participants))
	for _, uid := range participants {
		a := agent.New(uid, names[uid], sess.TimeWindow, e.avail, e.gen, e.log, e.now)
		a.Prime(ctx)
		decision := a.EvaluateProposal(ctx, target)
		out = append(out, core.ParticipantAvailability{
			UserID: uid, DisplayName: names[uid],
			IsAvailable: decision.Kind == core.DecisionAccept,
			Conflict:    decision.Conflict,
		})
	}
	return out, nil
}

func decisionMessageType(k core.DecisionKind) core.MessageType {
	switch k {
	case core.DecisionAccept:
		return core.MsgAccept
	case core.DecisionCounter:
		return core.MsgCounter
	case core.DecisionNeedHuman:
		return core.MsgNeedHuman
	default:
		return core.MsgInfo
	}
}

// latestCounter adopts the most recently evaluated participant's counter,
// scanning in participant order (mirroring the source's list-append
// "counters[-1]" semantics).
func latestCounter(counters map[core.UserID]core.Proposal, order []core.UserID) core.Proposal {
	var last core.Proposal
	for _, uid := range order {
		if c, ok := counters[uid]; ok {
			last = c
		}
	}
	return last
}

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

func nonInitiatorParticipants(sess *core.Session) []core.UserID {
	out := make([]core.UserID, 0, len(sess.ParticipantIDs))
	for _, uid := range sess.ParticipantIDs {
		if uid != sess.InitiatorID {
			out = append(out, uid)
		}
	}
	return out
}
