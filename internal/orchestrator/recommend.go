package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/quantumlife/scheduler/internal/availability"
	"github.com/quantumlife/scheduler/internal/core"
)

const recommendationCount = 3

// dayStats accumulates one civil date's recommendation-scoring inputs.
type dayStats struct {
	date      string
	available map[core.UserID]bool
	hours     map[int]map[core.UserID]bool // hour -> participants with a slot covering it
}

// recommend implements §4.4's recommendation generator: for participants P
// over range R, it asks the availability provider for each participant's
// free slots, groups them by civil date, and scores each date.
func (o *Orchestrator) recommend(ctx context.Context, participants []core.UserID, window core.TimeSlot, preferredHour int) []core.MajorityRecommendation {
	byDate := map[string]*dayStats{}
	var order []string

	for _, uid := range participants {
		busy := o.avail.GetEvents(ctx, uid, window)
		free := availability.ComputeFree(busy, window, 30, o.now())
		for _, slot := range free {
			for day := civilDay(slot.Start); day.Before(slot.End) && day.Before(window.End); day = day.AddDate(0, 0, 1) {
				key := day.Format("2006-01-02")
				ds, ok := byDate[key]
				if !ok {
					ds = &dayStats{date: key, available: map[core.UserID]bool{}, hours: map[int]map[core.UserID]bool{}}
					byDate[key] = ds
					order = append(order, key)
				}
				ds.available[uid] = true
				for h := core.WorkingHourStart; h < core.WorkingHourEnd; h++ {
					hourStart := time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, day.Location())
					hourEnd := hourStart.Add(time.Hour)
					if hourStart.Before(slot.End) && hourEnd.After(slot.Start) {
						if ds.hours[h] == nil {
							ds.hours[h] = map[core.UserID]bool{}
						}
						ds.hours[h][uid] = true
					}
				}
			}
		}
	}

	type scored struct {
		rec   core.MajorityRecommendation
		score int
	}
	now := civilDay(o.now())
	var candidates []scored
	for _, key := range order {
		ds := byDate[key]
		day, err := time.Parse("2006-01-02", key)
		if err != nil || day.Before(now) {
			continue
		}
		allAvailable := len(ds.available) == len(participants)
		shared := sharedHours(ds.hours, len(participants))

		score := 10*len(ds.available) + 20*boolToInt(preferredHour >= 0 && shared[preferredHour])
		if allAvailable {
			score += 100
		}
		candidates = append(candidates, scored{
			rec: core.MajorityRecommendation{
				Date: key, TimeCondition: timeCondition(shared), AvailableCount: len(ds.available), AllAvailable: allAvailable,
			},
			score: score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > recommendationCount {
		candidates = candidates[:recommendationCount]
	}

	out := make([]core.MajorityRecommendation, len(candidates))
	for i, c := range candidates {
		out[i] = c.rec
	}
	return out
}

func sharedHours(hours map[int]map[core.UserID]bool, participantCount int) map[int]bool {
	shared := map[int]bool{}
	for h, who := range hours {
		if len(who) == participantCount {
			shared[h] = true
		}
	}
	return shared
}

// timeCondition derives a human-readable label from the set of hours every
// participant shares, per §4.4.
func timeCondition(shared map[int]bool) string {
	if len(shared) == 0 {
		return "시간 무관"
	}
	min, max := core.WorkingHourEnd, core.WorkingHourStart
	for h := core.WorkingHourStart; h < core.WorkingHourEnd; h++ {
		if shared[h] {
			if h < min {
				min = h
			}
			if h+1 > max {
				max = h + 1
			}
		}
	}
	allHours := core.WorkingHourEnd - core.WorkingHourStart
	if max-min == allHours {
		return "시간 무관"
	}
	if min == core.WorkingHourStart {
		return fmt.Sprintf("%d시 이전", max)
	}
	if max == core.WorkingHourEnd {
		return fmt.Sprintf("%d시 이후", min)
	}
	return fmt.Sprintf("%d시-%d시", min, max)
}

func civilDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
