// Package availability computes per-user free/busy intervals over a date
// range, reading through to the external calendar collaborator and caching
// nothing beyond the caller's lifetime — the PersonalAgent is the one that
// holds a session-scoped cache (see internal/agent).
package availability

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/core"
)

// CalendarReader is the minimal read surface this package needs from the
// external calendar collaborator (internal/calendar.Provider satisfies it).
// Token-refresh failure for a user must be reported as a plain error; the
// caller decides to treat it as "fully free" per §4.1.
type CalendarReader interface {
	ListEvents(ctx context.Context, userID core.UserID, window core.TimeSlot) ([]core.CalendarEvent, error)
}

// Provider is the AvailabilityProvider described by the specification.
type Provider struct {
	calendar CalendarReader
	log      *zap.Logger
	now      func() time.Time
}

// New constructs a Provider. nowFn is injectable for deterministic tests;
// pass nil to use time.Now.
func New(calendar CalendarReader, log *zap.Logger, nowFn func() time.Time) *Provider {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Provider{calendar: calendar, log: log, now: nowFn}
}

// GetEvents returns the busy events for userID over window. The calendar
// collaborator reports a user with no stored credentials, or whose token
// refresh fails, as an error; GetEvents logs any non-nil error and returns
// nil ("fully free") so that one broken participant never halts a
// negotiation.
func (p *Provider) GetEvents(ctx context.Context, userID core.UserID, window core.TimeSlot) []core.CalendarEvent {
	events, err := p.calendar.ListEvents(ctx, userID, window)
	if err != nil {
		p.log.Warn("calendar read failed, treating user as fully free",
			zap.String("user_id", string(userID)), zap.Error(err))
		return nil
	}
	return events
}

// ComputeFree merges overlapping busy events, clips to working hours
// [core.WorkingHourStart, core.WorkingHourEnd) per civil day within window,
// drops slots that would start in the past when the day is today, and
// returns the free slots whose length is at least durationMin.
func (p *Provider) ComputeFree(busy []core.CalendarEvent, window core.TimeSlot, durationMin int) []core.TimeSlot {
	return ComputeFree(busy, window, durationMin, p.now())
}

// ComputeFree is the pure function underlying Provider.ComputeFree, exposed
// directly so callers that already hold a busy-event cache (the
// PersonalAgent) do not need a Provider instance to recompute it.
func ComputeFree(busy []core.CalendarEvent, window core.TimeSlot, durationMin int, now time.Time) []core.TimeSlot {
	merged := mergeBusy(busy)
	duration := time.Duration(durationMin) * time.Minute

	var free []core.TimeSlot
	loc := window.Start.Location()
	for day := civilDay(window.Start, loc); !day.After(civilDay(window.End.Add(-time.Nanosecond), loc)); day = day.AddDate(0, 0, 1) {
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), core.WorkingHourStart, 0, 0, 0, loc)
		dayEnd := time.Date(day.Year(), day.Month(), day.Day(), core.WorkingHourEnd, 0, 0, 0, loc)
		if dayStart.Before(window.Start) {
			dayStart = window.Start
		}
		if dayEnd.After(window.End) {
			dayEnd = window.End
		}
		if !dayStart.Before(dayEnd) {
			continue
		}

		cursor := dayStart
		if civilDay(now, loc).Equal(day) && now.After(cursor) {
			cursor = now
		}

		for _, b := range merged {
			if b.End.Before(cursor) || !b.Start.Before(dayEnd) {
				continue
			}
			if b.Start.After(cursor) {
				gap := core.TimeSlot{Start: cursor, End: minTime(b.Start, dayEnd)}
				if gap.Duration() >= duration {
					free = append(free, gap)
				}
			}
			if b.End.After(cursor) {
				cursor = b.End
			}
			if !cursor.Before(dayEnd) {
				break
			}
		}
		if cursor.Before(dayEnd) {
			gap := core.TimeSlot{Start: cursor, End: dayEnd}
			if gap.Duration() >= duration {
				free = append(free, gap)
			}
		}
	}
	return free
}

// mergeBusy sorts busy events by start and coalesces overlapping or
// touching intervals. All-day events are treated as spanning their full
// civil day span (the caller, internal/calendar, already expands them).
func mergeBusy(events []core.CalendarEvent) []core.TimeSlot {
	if len(events) == 0 {
		return nil
	}
	slots := make([]core.TimeSlot, len(events))
	for i, e := range events {
		slots[i] = e.Slot()
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })

	merged := []core.TimeSlot{slots[0]}
	for _, s := range slots[1:] {
		last := &merged[len(merged)-1]
		if !s.Start.After(last.End) {
			if s.End.After(last.End) {
				last.End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func civilDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
