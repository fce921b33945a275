package negotiation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/agent"
	"github.com/quantumlife/scheduler/internal/availability"
	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/storage"
)

type fakeCalendar struct {
	byUser map[core.UserID][]core.CalendarEvent
}

func (f fakeCalendar) ListEvents(ctx context.Context, userID core.UserID, window core.TimeSlot) ([]core.CalendarEvent, error) {
	return f.byUser[userID], nil
}

func dt(s string) time.Time {
	tm, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return tm
}

func newTestEngine(t *testing.T, busy map[core.UserID][]core.CalendarEvent, cfg Config) (*Engine, *storage.SessionStore, *storage.MessageStore) {
	t.Helper()
	db, err := storage.Open(storage.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	users := storage.NewUserStore(db)
	ctx := context.Background()
	require.NoError(t, users.Upsert(ctx, core.User{ID: "alice", DisplayName: "Alice"}, ""))
	require.NoError(t, users.Upsert(ctx, core.User{ID: "bob", DisplayName: "Bob"}, ""))

	avail := availability.New(fakeCalendar{byUser: busy}, zap.NewNop(), func() time.Time { return dt("2025-12-01 00:00") })
	sessions := storage.NewSessionStore(db)
	messages := storage.NewMessageStore(db)

	e := New(sessions, messages, users, avail, nil, nil, zap.NewNop(), cfg, func() time.Time { return dt("2025-12-01 00:00") })
	return e, sessions, messages
}

func testConfig() Config {
	return Config{MaxRounds: 5, DeadlockThreshold: 2, StepDelay: 0}
}

func newSession(t *testing.T, sessions *storage.SessionStore) *core.Session {
	t.Helper()
	sess := &core.Session{
		ID: "s1", InitiatorID: "alice", ParticipantIDs: []core.UserID{"alice", "bob"},
		Status: core.SessionInProgress,
		TimeWindow: core.TimeSlot{Start: dt("2025-12-17 00:00"), End: dt("2025-12-20 00:00")},
		PlacePref: core.PlacePref{ThreadID: "t1"},
	}
	require.NoError(t, sessions.Create(sess))
	return sess
}

func TestRun_UnanimousAcceptFinalizes(t *testing.T) {
	e, sessions, _ := newTestEngine(t, nil, testConfig())
	sess := newSession(t, sessions)

	err := e.Run(context.Background(), sess, agent.InitialProposalRequest{
		RequestedDate: "2025-12-17", RequestedTime: "14:00", DurationMin: 60,
	})
	require.NoError(t, err)

	got, err := sessions.GetByID(sess.ID)
	require.NoError(t, err)
	require.Equal(t, core.SessionPendingApproval, got.Status)
	require.Equal(t, "2025-12-17", got.PlacePref.AgreedDate)
	require.Equal(t, "14:00", got.PlacePref.AgreedTime)
}

func TestRun_BobConflictCountersThenAccepts(t *testing.T) {
	busy := map[core.UserID][]core.CalendarEvent{
		"bob": {{Summary: "회의", Start: dt("2025-12-17 14:00"), End: dt("2025-12-17 15:00")}},
	}
	e, sessions, _ := newTestEngine(t, busy, testConfig())
	sess := newSession(t, sessions)

	err := e.Run(context.Background(), sess, agent.InitialProposalRequest{
		RequestedDate: "2025-12-17", RequestedTime: "14:00", DurationMin: 60,
	})
	require.NoError(t, err)

	got, err := sessions.GetByID(sess.ID)
	require.NoError(t, err)
	require.Equal(t, core.SessionPendingApproval, got.Status)
}

func TestRun_NoAvailabilityAnywhereEscalates(t *testing.T) {
	busy := map[core.UserID][]core.CalendarEvent{
		"bob": {{Summary: "휴가", Start: dt("2025-12-17 00:00"), End: dt("2025-12-20 00:00"), AllDay: true}},
	}
	e, sessions, _ := newTestEngine(t, busy, testConfig())
	sess := newSession(t, sessions)

	err := e.Run(context.Background(), sess, agent.InitialProposalRequest{
		RequestedDate: "2025-12-17", RequestedTime: "14:00", DurationMin: 60,
	})
	require.NoError(t, err)

	got, err := sessions.GetByID(sess.ID)
	require.NoError(t, err)
	require.Equal(t, core.SessionNeedsReschedule, got.Status)
}

// TestRun_DeadlockEscalatesWithNeedHumanMessage covers §4.5's deadlock path:
// alice's only free slot that day is 11:00, bob's only free slot is 09:00,
// so each round the two agents counter back to their own fixed slot and
// neither ever lands on the other's. Two consecutive rounds of bob
// repeating his own prior counter must escalate to NEED_HUMAN carrying the
// proposal on the table, not merely flip the session status.
func TestRun_DeadlockEscalatesWithNeedHumanMessage(t *testing.T) {
	busy := map[core.UserID][]core.CalendarEvent{
		"alice": {{Summary: "다른 일정", Start: dt("2025-12-17 09:00"), End: dt("2025-12-17 11:00")}},
		"bob":   {{Summary: "회의", Start: dt("2025-12-17 10:00"), End: dt("2025-12-17 22:00")}},
	}
	e, sessions, messages := newTestEngine(t, busy, testConfig())
	sess := newSession(t, sessions)

	err := e.Run(context.Background(), sess, agent.InitialProposalRequest{
		RequestedDate: "2025-12-17", RequestedTime: "14:00", DurationMin: 60,
	})
	require.NoError(t, err)

	got, err := sessions.GetByID(sess.ID)
	require.NoError(t, err)
	require.Equal(t, core.SessionNeedsReschedule, got.Status)

	msgs, err := messages.GetBySession(sess.ID)
	require.NoError(t, err)
	var needHuman *core.NegotiationMessage
	for _, m := range msgs {
		if m.Type == core.MsgNeedHuman {
			needHuman = m
		}
	}
	require.NotNil(t, needHuman, "deadlock escalation must append a NEED_HUMAN message")
	require.NotNil(t, needHuman.Proposal, "the last proposal under negotiation must be retained")
	require.Equal(t, "2025-12-17", needHuman.Proposal.Date)
}

func TestRun_FinalizeUpdatesAllSessionsInThread(t *testing.T) {
	e, sessions, _ := newTestEngine(t, nil, testConfig())
	sess := newSession(t, sessions)

	sibling := &core.Session{
		ID: "s2", InitiatorID: "alice", ParticipantIDs: []core.UserID{"alice", "bob"},
		Status: core.SessionInProgress,
		TimeWindow: sess.TimeWindow,
		PlacePref: core.PlacePref{ThreadID: "t1"},
	}
	require.NoError(t, sessions.Create(sibling))

	err := e.Run(context.Background(), sess, agent.InitialProposalRequest{
		RequestedDate: "2025-12-17", RequestedTime: "14:00", DurationMin: 60,
	})
	require.NoError(t, err)

	got, err := sessions.GetByID(sibling.ID)
	require.NoError(t, err)
	require.Equal(t, core.SessionPendingApproval, got.Status, "all sessions sharing a thread_id finalize together")
}
