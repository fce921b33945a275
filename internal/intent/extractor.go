// Package intent extracts structured scheduling intent from a free-text
// user utterance: LLM-first with a deterministic Korean heuristic fallback
// sharing internal/koredate with the personal agent, so both resolve the
// same utterance to the same instant.
package intent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/koredate"
	"github.com/quantumlife/scheduler/internal/llm"
)

// Generator is the minimal LLM surface Extractor needs.
type Generator interface {
	Route(ctx context.Context, req llm.RouteRequest) (*llm.RouteResponse, error)
}

// Extractor resolves a user utterance to a core.Intent.
type Extractor struct {
	llm Generator
	log *zap.Logger
	now func() time.Time
}

// New constructs an Extractor. nowFn is injectable for deterministic tests;
// pass nil to use time.Now.
func New(gen Generator, log *zap.Logger, nowFn func() time.Time) *Extractor {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Extractor{llm: gen, log: log, now: nowFn}
}

const extractSystemPrompt = `Extract scheduling intent from a Korean user message as JSON with exactly
these fields: friend_name, friend_names (array), date, start_date, end_date, time, start_time,
end_time, activity, title, location, has_schedule_request (bool). Never invent a friend name the
user did not mention. Respond with JSON only, no prose.`

// Extract resolves utterance to a structured Intent. It tries the
// configured LLM first; any failure or malformed response falls back to
// the deterministic heuristic, which shares internal/koredate with
// internal/agent so both resolve the same utterance identically.
func (e *Extractor) Extract(ctx context.Context, utterance string) core.Intent {
	if e.llm != nil {
		if in, ok := e.extractViaLLM(ctx, utterance); ok {
			return e.fillMissingFields(in)
		}
	}
	return e.fillMissingFields(e.extractHeuristic(utterance))
}

func (e *Extractor) extractViaLLM(ctx context.Context, utterance string) (core.Intent, bool) {
	resp, err := e.llm.Route(ctx, llm.RouteRequest{
		System:      extractSystemPrompt,
		Prompt:      utterance,
		MaxTokens:   300,
		Temperature: 0,
	})
	if err != nil || resp == nil {
		if err != nil {
			e.log.Warn("intent extraction LLM call failed, using heuristic fallback", zap.Error(err))
		}
		return core.Intent{}, false
	}

	raw := strings.TrimSpace(resp.Content)
	if idx := strings.IndexByte(raw, '{'); idx > 0 {
		raw = raw[idx:]
	}
	var in core.Intent
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		e.log.Warn("intent extraction returned unparseable JSON, using heuristic fallback", zap.Error(err))
		return core.Intent{}, false
	}
	return in, true
}

var (
	reFriendMarker = regexp.MustCompile(`([가-힣A-Za-z0-9]{1,10})(?:랑|와|하고|한테)\s`)
	reActivity     = regexp.MustCompile(`(밥|점심|저녁|커피|술|영화|회의|미팅|여행|데이트)`)
)

// extractHeuristic is a deterministic fallback for when no LLM is
// configured or the call fails: it never fabricates a friend name, and
// resolves date/time using the same rules as the personal agent.
func (e *Extractor) extractHeuristic(utterance string) core.Intent {
	now := e.now()
	in := core.Intent{}

	if m := reFriendMarker.FindStringSubmatch(utterance); m != nil {
		in.FriendName = m[1]
		in.FriendNames = []string{m[1]}
	}

	if date, ok := findDateExpr(utterance, now); ok {
		in.Date = date
	}
	if tm, ok := findTimeExpr(utterance); ok {
		in.Time = tm
	}
	if m := reActivity.FindStringSubmatch(utterance); m != nil {
		in.Activity = m[1]
	}

	in.HasScheduleRequest = in.Date != "" || in.Time != "" || in.Activity != "" || in.FriendName != ""
	return in
}

var dateExprs = []string{"오늘", "모레", "내일", "이번주", "다음주"}
var reMonthDay = regexp.MustCompile(`\d{1,2}월\s*\d{1,2}일`)
var reDayOnly = regexp.MustCompile(`\d{1,2}일`)
var weekdayNames = []string{"월요일", "화요일", "수요일", "목요일", "금요일", "토요일", "일요일"}

func findDateExpr(utterance string, now time.Time) (string, bool) {
	for _, expr := range dateExprs {
		if strings.Contains(utterance, expr) {
			return koredate.ConvertRelativeDate(expr, now)
		}
	}
	for _, wd := range weekdayNames {
		if strings.Contains(utterance, wd) {
			prefix := ""
			if strings.Contains(utterance, "다음주") {
				prefix = "다음주"
			}
			return koredate.ConvertRelativeDate(prefix+wd, now)
		}
	}
	if m := reMonthDay.FindString(utterance); m != "" {
		return koredate.ConvertRelativeDate(m, now)
	}
	if m := reDayOnly.FindString(utterance); m != "" {
		return koredate.ConvertRelativeDate(m, now)
	}
	return "", false
}

var reTimeExpr = regexp.MustCompile(`\d{1,2}\s*시(\s*\d{1,2}\s*분)?(\s*반)?|점심|저녁|아침|새벽`)

func findTimeExpr(utterance string) (string, bool) {
	m := reTimeExpr.FindString(utterance)
	if m == "" {
		return "", false
	}
	return koredate.ConvertRelativeTime(m, utterance)
}

// fillMissingFields computes the §4.3 missingFields list: the hard
// requirement is {date, time}; friend_name is only required when the
// caller has not already resolved participants via UI, which this
// package cannot know — ChatOrchestrator re-derives that condition itself
// before using MissingFields, per §4.4.
func (e *Extractor) fillMissingFields(in core.Intent) core.Intent {
	var missing []string
	if in.Date == "" && in.StartDate == "" {
		missing = append(missing, "date")
	}
	if in.Time == "" && in.StartTime == "" {
		missing = append(missing, "time")
	}
	if in.FriendName == "" && len(in.FriendNames) == 0 {
		missing = append(missing, "friend_name")
	}
	in.MissingFields = missing
	return in
}
