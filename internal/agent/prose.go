package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/llm"
)

// ProseGenerator is the minimal LLM surface a PersonalAgent needs to phrase
// an already-made decision. internal/llm.Client satisfies it.
type ProseGenerator interface {
	Route(ctx context.Context, req llm.RouteRequest) (*llm.RouteResponse, error)
}

const proseSystemPrompt = "You write one short, natural Korean sentence announcing a scheduling " +
	"decision that has already been made. Never invent or change the decision given to you, and " +
	"never mention another participant's calendar event by name."

// proseRequest carries the facts a decision's prose must reflect. It has
// no field for the owner's conflicting event, so that event's details never
// reach the LLM prompt, per §4.2.B's non-disclosure rule.
type proseRequest struct {
	decision core.DecisionKind
	proposal core.Proposal
	counter  *core.Proposal
}

// generateProse asks the configured LLM to phrase req, injecting the
// already-decided facts so the model cannot override them, then applies
// the §4.2.D safety net. A nil generator or any failure falls back to a
// deterministic sentence built directly from the facts.
func (a *PersonalAgent) generateProse(ctx context.Context, req proseRequest) string {
	fallback := a.fallbackProse(req)
	if a.llm == nil {
		return fallback
	}

	resp, err := a.llm.Route(ctx, llm.RouteRequest{
		System:      proseSystemPrompt,
		Prompt:      buildProsePrompt(req),
		MaxTokens:   200,
		Temperature: 0.4,
	})
	if err != nil || resp == nil {
		if err != nil {
			a.log.Warn("prose generation failed, using deterministic fallback",
				zap.String("user_id", string(a.userID)), zap.Error(err))
		}
		return fallback
	}
	return sanitizeProse(resp.Content, fallback)
}

func buildProsePrompt(req proseRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Decision: %s\n", req.decision)
	fmt.Fprintf(&b, "Proposed date: %s\n", req.proposal.Date)
	if req.proposal.Time != "" {
		fmt.Fprintf(&b, "Proposed time: %s\n", req.proposal.Time)
	}
	if req.proposal.DurationNights > 0 {
		fmt.Fprintf(&b, "Duration: %d night(s)\n", req.proposal.DurationNights)
	}
	if req.proposal.Activity != "" {
		fmt.Fprintf(&b, "Activity: %s\n", req.proposal.Activity)
	}
	if req.counter != nil {
		fmt.Fprintf(&b, "The original time is unavailable. Counter-proposed date: %s\n", req.counter.Date)
		fmt.Fprintf(&b, "Counter-proposed time: %s\n", req.counter.Time)
		b.WriteString("Do not reveal the name or nature of the conflicting event.\n")
	}
	b.WriteString("Write exactly one short sentence announcing this decision.")
	return b.String()
}

func (a *PersonalAgent) fallbackProse(req proseRequest) string {
	switch req.decision {
	case core.DecisionAccept:
		return fmt.Sprintf("%s님이 %s %s 일정에 동의했습니다.", a.displayName, req.proposal.Date, req.proposal.Time)
	case core.DecisionCounter:
		if req.counter != nil {
			return fmt.Sprintf("%s님은 해당 시간이 어려워 %s %s로 다른 시간을 제안합니다.", a.displayName, req.counter.Date, req.counter.Time)
		}
		return fmt.Sprintf("%s님은 해당 시간이 어렵습니다.", a.displayName)
	case core.DecisionNeedHuman:
		return fmt.Sprintf("%s님의 일정은 직접 확인이 필요합니다.", a.displayName)
	case core.DecisionPropose:
		if req.proposal.IsMultiDay() {
			return fmt.Sprintf("%s부터 %s박 일정을 제안합니다.", req.proposal.Date, strconv.Itoa(req.proposal.DurationNights))
		}
		return fmt.Sprintf("%s %s 일정을 제안합니다.", req.proposal.Date, req.proposal.Time)
	default:
		return "일정을 확인해 주세요."
	}
}

// sanitizeProse implements §4.2.D: an LLM reply that is itself a stray JSON
// envelope is unwrapped to its message (or reason) field; anything that
// still yields no usable text falls back to fallback.
func sanitizeProse(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if !strings.HasPrefix(raw, "{") {
		return raw
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return fallback
	}
	if msg, ok := obj["message"].(string); ok && strings.TrimSpace(msg) != "" {
		return msg
	}
	if reason, ok := obj["reason"].(string); ok && strings.TrimSpace(reason) != "" {
		return reason
	}
	return fallback
}
