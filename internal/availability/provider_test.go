package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantumlife/scheduler/internal/core"
)

func dt(s string) time.Time {
	tm, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return tm
}

func TestComputeFree_NoBusy(t *testing.T) {
	window := core.TimeSlot{Start: dt("2025-12-17 00:00"), End: dt("2025-12-18 00:00")}
	free := ComputeFree(nil, window, 60, dt("2025-12-01 00:00"))
	if assert.Len(t, free, 1) {
		assert.Equal(t, dt("2025-12-17 09:00"), free[0].Start)
		assert.Equal(t, dt("2025-12-17 22:00"), free[0].End)
	}
}

func TestComputeFree_MergesOverlappingBusy(t *testing.T) {
	window := core.TimeSlot{Start: dt("2025-12-17 00:00"), End: dt("2025-12-18 00:00")}
	busy := []core.CalendarEvent{
		{Summary: "A", Start: dt("2025-12-17 10:00"), End: dt("2025-12-17 12:00")},
		{Summary: "B", Start: dt("2025-12-17 11:00"), End: dt("2025-12-17 13:00")},
	}
	free := ComputeFree(busy, window, 30, dt("2025-12-01 00:00"))
	if assert.Len(t, free, 2) {
		assert.Equal(t, dt("2025-12-17 09:00"), free[0].Start)
		assert.Equal(t, dt("2025-12-17 10:00"), free[0].End)
		assert.Equal(t, dt("2025-12-17 13:00"), free[1].Start)
		assert.Equal(t, dt("2025-12-17 22:00"), free[1].End)
	}
}

func TestComputeFree_DropsSlotsShorterThanDuration(t *testing.T) {
	window := core.TimeSlot{Start: dt("2025-12-17 00:00"), End: dt("2025-12-18 00:00")}
	busy := []core.CalendarEvent{
		{Summary: "A", Start: dt("2025-12-17 09:30"), End: dt("2025-12-17 22:00")},
	}
	free := ComputeFree(busy, window, 60, dt("2025-12-01 00:00"))
	assert.Empty(t, free, "the 09:00-09:30 gap is shorter than the requested duration")
}

func TestComputeFree_SuppressesPastSlotsToday(t *testing.T) {
	window := core.TimeSlot{Start: dt("2025-12-17 00:00"), End: dt("2025-12-18 00:00")}
	now := dt("2025-12-17 15:00")
	free := ComputeFree(nil, window, 30, now)
	if assert.Len(t, free, 1) {
		assert.Equal(t, now, free[0].Start)
	}
}

func TestComputeFree_AllDayEventBlocksWholeDay(t *testing.T) {
	window := core.TimeSlot{Start: dt("2025-12-17 00:00"), End: dt("2025-12-19 00:00")}
	busy := []core.CalendarEvent{
		{Summary: "휴가", Start: dt("2025-12-17 00:00"), End: dt("2025-12-18 00:00"), AllDay: true},
	}
	free := ComputeFree(busy, window, 30, dt("2025-12-01 00:00"))
	if assert.Len(t, free, 1) {
		assert.Equal(t, dt("2025-12-18 09:00"), free[0].Start)
	}
}
