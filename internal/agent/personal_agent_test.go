package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/availability"
	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/llm"
)

type stubCalendar struct {
	events []core.CalendarEvent
	err    error
}

func (s stubCalendar) ListEvents(ctx context.Context, userID core.UserID, window core.TimeSlot) ([]core.CalendarEvent, error) {
	return s.events, s.err
}

type stubGenerator struct {
	response *llm.RouteResponse
	err      error
}

func (s stubGenerator) Route(ctx context.Context, req llm.RouteRequest) (*llm.RouteResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func dt(s string) time.Time {
	tm, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return tm
}

func newAgent(t *testing.T, busy []core.CalendarEvent, gen ProseGenerator, now time.Time) *PersonalAgent {
	t.Helper()
	horizon := core.TimeSlot{Start: dt("2025-12-17 00:00"), End: dt("2025-12-24 00:00")}
	avail := availability.New(stubCalendar{events: busy}, zap.NewNop(), func() time.Time { return now })
	a := New("u1", "민수", horizon, avail, gen, zap.NewNop(), func() time.Time { return now })
	a.Prime(context.Background())
	return a
}

func TestEvaluateProposal_AvailableAccepts(t *testing.T) {
	a := newAgent(t, nil, nil, dt("2025-12-01 00:00"))
	decision := a.EvaluateProposal(context.Background(), core.Proposal{Date: "2025-12-17", Time: "14:00", DurationMin: 60})
	require.Equal(t, core.DecisionAccept, decision.Kind)
	require.NotNil(t, decision.Proposal)
	assert.Equal(t, "14:00", decision.Proposal.Time)
	assert.NotEmpty(t, decision.Prose)
}

func TestEvaluateProposal_ConflictCounters(t *testing.T) {
	busy := []core.CalendarEvent{
		{Summary: "팀 회의", Start: dt("2025-12-17 14:00"), End: dt("2025-12-17 15:00")},
	}
	a := newAgent(t, busy, nil, dt("2025-12-01 00:00"))
	decision := a.EvaluateProposal(context.Background(), core.Proposal{Date: "2025-12-17", Time: "14:00", DurationMin: 60})
	require.Equal(t, core.DecisionCounter, decision.Kind)
	require.NotNil(t, decision.Proposal)
	require.NotNil(t, decision.Conflict)
	assert.Equal(t, "팀 회의", decision.Conflict.EventName)
	assert.NotContains(t, decision.Prose, "팀 회의", "conflicting event name must never appear in surfaced prose")
}

func TestEvaluateProposal_FullyBookedNeedsHuman(t *testing.T) {
	busy := []core.CalendarEvent{
		{Summary: "휴가", Start: dt("2025-12-17 00:00"), End: dt("2025-12-24 00:00"), AllDay: true},
	}
	a := newAgent(t, busy, nil, dt("2025-12-01 00:00"))
	decision := a.EvaluateProposal(context.Background(), core.Proposal{Date: "2025-12-18", Time: "10:00", DurationMin: 60})
	require.Equal(t, core.DecisionNeedHuman, decision.Kind)
}

func TestEvaluateProposal_ParseFailureNeedsHuman(t *testing.T) {
	a := newAgent(t, nil, nil, dt("2025-12-01 00:00"))
	decision := a.EvaluateProposal(context.Background(), core.Proposal{Date: "not-a-date", Time: "14:00", DurationMin: 60})
	require.Equal(t, core.DecisionNeedHuman, decision.Kind)
}

func TestMakeInitialProposal_ConcreteTimeHonoredDespiteConflict(t *testing.T) {
	busy := []core.CalendarEvent{
		{Summary: "선약", Start: dt("2025-12-17 14:00"), End: dt("2025-12-17 15:00")},
	}
	a := newAgent(t, busy, nil, dt("2025-12-01 00:00"))
	decision := a.MakeInitialProposal(context.Background(), InitialProposalRequest{
		RequestedDate: "2025-12-17",
		RequestedTime: "14:00",
		DurationMin:   60,
	})
	require.Equal(t, core.DecisionPropose, decision.Kind)
	assert.Equal(t, "2025-12-17", decision.Proposal.Date)
	assert.Equal(t, "14:00", decision.Proposal.Time, "initiator's own stated time is authoritative even over their own conflict")
}

func TestMakeInitialProposal_DateOnlyPicksEarliestSlot(t *testing.T) {
	busy := []core.CalendarEvent{
		{Summary: "회의", Start: dt("2025-12-17 09:00"), End: dt("2025-12-17 11:00")},
	}
	a := newAgent(t, busy, nil, dt("2025-12-01 00:00"))
	decision := a.MakeInitialProposal(context.Background(), InitialProposalRequest{
		RequestedDate: "2025-12-17",
		DurationMin:   60,
	})
	require.Equal(t, core.DecisionPropose, decision.Kind)
	assert.Equal(t, "11:00", decision.Proposal.Time)
}

func TestMakeInitialProposal_RelativeKoreanDate(t *testing.T) {
	a := newAgent(t, nil, nil, dt("2025-12-17 08:00"))
	decision := a.MakeInitialProposal(context.Background(), InitialProposalRequest{
		RequestedDate: "내일",
		RequestedTime: "3시",
		RawUtterance:  "내일 3시에 만나자",
		DurationMin:   60,
	})
	require.Equal(t, core.DecisionPropose, decision.Kind)
	assert.Equal(t, "2025-12-18", decision.Proposal.Date)
	assert.Equal(t, "15:00", decision.Proposal.Time, "bare hour 1-6 without qualifier infers PM")
}

func TestGenerateProse_LLMFailureFallsBack(t *testing.T) {
	a := newAgent(t, nil, stubGenerator{err: errors.New("provider down")}, dt("2025-12-01 00:00"))
	decision := a.EvaluateProposal(context.Background(), core.Proposal{Date: "2025-12-17", Time: "14:00", DurationMin: 60})
	assert.Contains(t, decision.Prose, "민수")
}

func TestGenerateProse_StrayJSONEnvelopeUnwrapped(t *testing.T) {
	gen := stubGenerator{response: &llm.RouteResponse{Content: `{"message": "좋아요, 그 시간 확정할게요."}`}}
	a := newAgent(t, nil, gen, dt("2025-12-01 00:00"))
	decision := a.EvaluateProposal(context.Background(), core.Proposal{Date: "2025-12-17", Time: "14:00", DurationMin: 60})
	assert.Equal(t, "좋아요, 그 시간 확정할게요.", decision.Prose)
}

func TestGenerateProse_UnparseableJSONFallsBack(t *testing.T) {
	gen := stubGenerator{response: &llm.RouteResponse{Content: `{not valid json`}}
	a := newAgent(t, nil, gen, dt("2025-12-01 00:00"))
	decision := a.EvaluateProposal(context.Background(), core.Proposal{Date: "2025-12-17", Time: "14:00", DurationMin: 60})
	assert.Contains(t, decision.Prose, "민수")
}
