// Package eventbus fans negotiation, approval, and chat events out to live
// WebSocket subscribers, persisting every event first so a client that
// reconnects can replay what it missed.
package eventbus

import (
	"encoding/json"
	"time"

	"github.com/quantumlife/scheduler/internal/core"
)

// Kind is the tagged sum type for an Event's payload shape.
type Kind string

const (
	KindNegotiationMessage Kind = "negotiation_message"
	KindRecommendation     Kind = "recommendation"
	KindApprovalRequest    Kind = "approval_request"
	KindApprovalResponse   Kind = "approval_response"
	KindRecoordination     Kind = "recoordination"
	KindCalendarFinalized  Kind = "calendar_finalized"
)

// Event is one row of the durable event log, and the wire shape pushed to
// subscribed WebSocket clients.
type Event struct {
	ID        int64           `json:"id"`
	UserID    core.UserID     `json:"user_id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent marshals payload into an Event ready for Hub.Publish.
func NewEvent(userID core.UserID, kind Kind, payload interface{}) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{UserID: userID, Kind: kind, Payload: body}, nil
}
