// Package core defines the fundamental types shared across the scheduling
// negotiation service.
package core

import "time"

// UserID is a type-safe identifier for a user.
type UserID string

// SessionID is a type-safe identifier for a negotiation session.
type SessionID string

// MessageID is a type-safe identifier for a negotiation message.
type MessageID string

// ChatLogID is a type-safe identifier for a chat log entry.
type ChatLogID string

// ThreadID groups sessions that share a participant cohort.
type ThreadID string

// -----------------------------------------------------------------------------
// TIME & AVAILABILITY
// -----------------------------------------------------------------------------

// TimeSlot is a half-open interval [Start, End) in the service's civil time zone.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the slot's length.
func (t TimeSlot) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// Overlaps reports whether t and o share any instant.
func (t TimeSlot) Overlaps(o TimeSlot) bool {
	return t.Start.Before(o.End) && t.End.After(o.Start)
}

// Contains reports whether the slot fully contains the other slot.
func (t TimeSlot) Contains(o TimeSlot) bool {
	return !o.Start.Before(t.Start) && !o.End.After(t.End)
}

// CalendarEvent is a read-only external calendar event.
type CalendarEvent struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	AllDay  bool      `json:"all_day"`
}

// Slot returns the event's busy interval as a TimeSlot. All-day events span
// the full civil day(s) they cover.
func (e CalendarEvent) Slot() TimeSlot {
	return TimeSlot{Start: e.Start, End: e.End}
}

// WorkingHourStart and WorkingHourEnd bound the civil day considered for
// availability sweeps.
const (
	WorkingHourStart = 9
	WorkingHourEnd   = 22
)

// -----------------------------------------------------------------------------
// PROPOSAL
// -----------------------------------------------------------------------------

// Proposal is a candidate meeting slot under negotiation.
type Proposal struct {
	Date           string `json:"date"` // civil date, "2006-01-02"
	Time           string `json:"time"` // civil time, "15:04"; unused when DurationNights>0
	DurationMin    int    `json:"duration_minutes"`
	DurationNights int    `json:"duration_nights"`
	Activity       string `json:"activity,omitempty"`
	Location       string `json:"location,omitempty"`
}

// IsMultiDay reports whether the proposal spans more than one civil day.
func (p Proposal) IsMultiDay() bool {
	return p.DurationNights > 0
}

// -----------------------------------------------------------------------------
// AGENT DECISION
// -----------------------------------------------------------------------------

// DecisionKind is the tagged variant a PersonalAgent resolves a proposal to.
type DecisionKind string

const (
	DecisionPropose   DecisionKind = "PROPOSE"
	DecisionAccept    DecisionKind = "ACCEPT"
	DecisionCounter   DecisionKind = "COUNTER"
	DecisionNeedHuman DecisionKind = "NEED_HUMAN"
	DecisionInfo      DecisionKind = "INFO"
)

// ConflictInfo describes an agent owner's overlapping event. It is used
// internally to generate a plausible counter-proposal and for logging; it
// must never be surfaced to other participants' prose.
type ConflictInfo struct {
	EventName string    `json:"event_name"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	AllDay    bool      `json:"all_day"`
}

// AgentDecision is the outcome of a PersonalAgent evaluating or proposing a slot.
type AgentDecision struct {
	Kind     DecisionKind  `json:"kind"`
	Proposal *Proposal     `json:"proposal,omitempty"`
	Conflict *ConflictInfo `json:"conflict,omitempty"`
	Prose    string        `json:"prose"`
}

// -----------------------------------------------------------------------------
// NEGOTIATION MESSAGE
// -----------------------------------------------------------------------------

// MessageType is the tagged sum type for a NegotiationMessage's wire/storage shape.
type MessageType string

const (
	MsgPropose           MessageType = "PROPOSE"
	MsgAccept            MessageType = "ACCEPT"
	MsgReject            MessageType = "REJECT"
	MsgCounter           MessageType = "COUNTER"
	MsgQuery             MessageType = "QUERY"
	MsgNeedHuman         MessageType = "NEED_HUMAN"
	MsgInfo              MessageType = "INFO"
	MsgConflictChoice    MessageType = "CONFLICT_CHOICE"
	MsgAwaitingChoice    MessageType = "AWAITING_CHOICE"
	MsgMajorityRecommend MessageType = "MAJORITY_RECOMMEND"
)

// ParticipantAvailability is a per-participant snapshot for a target instant,
// attached to messages that require human disambiguation. Conflict event
// names are visible only to the owning participant's own view.
type ParticipantAvailability struct {
	UserID      UserID        `json:"user_id"`
	DisplayName string        `json:"display_name"`
	IsAvailable bool          `json:"is_available"`
	Conflict    *ConflictInfo `json:"conflict,omitempty"`
}

// MajorityRecommendation carries one recommendation-mode candidate.
type MajorityRecommendation struct {
	Date           string `json:"date"`
	TimeCondition  string `json:"time_condition"`
	AvailableCount int    `json:"available_count"`
	AllAvailable   bool   `json:"all_available"`
}

// NegotiationMessage is persisted once per session, never rewritten.
type NegotiationMessage struct {
	ID                        MessageID                `json:"id"`
	SessionID                 SessionID                `json:"session_id"`
	Type                      MessageType               `json:"type"`
	SenderID                  UserID                    `json:"sender_id"`
	SenderDisplayName         string                    `json:"sender_display_name"`
	RoundNumber               int                       `json:"round_number"`
	Proposal                  *Proposal                 `json:"proposal,omitempty"`
	Prose                     string                    `json:"message"`
	Timestamp                 time.Time                 `json:"timestamp"`
	Conflict                  *ConflictInfo             `json:"conflict_info,omitempty"`
	MajorityRecommendation    []MajorityRecommendation  `json:"majority_recommendation,omitempty"`
	ParticipantAvailabilities []ParticipantAvailability `json:"participant_availabilities,omitempty"`
}

// -----------------------------------------------------------------------------
// SESSION
// -----------------------------------------------------------------------------

// SessionStatus is the session state-machine vocabulary.
type SessionStatus string

const (
	SessionPending         SessionStatus = "pending"
	SessionInProgress      SessionStatus = "in_progress"
	SessionPendingApproval SessionStatus = "pending_approval"
	SessionCompleted       SessionStatus = "completed"
	SessionNeedsReschedule SessionStatus = "needs_reschedule"
	SessionFailed          SessionStatus = "failed"
)

// PlacePref is the named record replacing the source's JSON preference bag.
// Persistence still stores it as JSON; this is the decoded shape.
type PlacePref struct {
	Summary          string   `json:"summary,omitempty"`
	Location         string   `json:"location,omitempty"`
	Activity         string   `json:"activity,omitempty"`
	ThreadID         ThreadID `json:"thread_id,omitempty"`
	Participants     []UserID `json:"participants,omitempty"`
	RequestedDate    string   `json:"requested_date,omitempty"`
	RequestedTime    string   `json:"requested_time,omitempty"`
	AgreedDate       string   `json:"agreed_date,omitempty"`
	AgreedTime       string   `json:"agreed_time,omitempty"`
	AgreedDurationMin    int  `json:"agreed_duration_minutes,omitempty"`
	AgreedDurationNights int  `json:"agreed_duration_nights,omitempty"`
	HiddenBy         []UserID `json:"hidden_by,omitempty"`
	LeftParticipants []UserID `json:"left_participants,omitempty"`
}

// Session is one negotiation instance among a fixed participant set.
type Session struct {
	ID             SessionID     `json:"id"`
	InitiatorID    UserID        `json:"initiator_id"`
	ParticipantIDs []UserID      `json:"participant_ids"`
	Intent         string        `json:"intent"`
	Status         SessionStatus `json:"status"`
	TimeWindow     TimeSlot      `json:"time_window"`
	PlacePref      PlacePref     `json:"place_pref"`
	FinalEventID   string        `json:"final_event_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// -----------------------------------------------------------------------------
// CHAT LOG
// -----------------------------------------------------------------------------

// ChatLogType is the tagged sum type replacing the source's free-form
// message_type string.
type ChatLogType string

const (
	ChatUserMessage       ChatLogType = "user_message"
	ChatAIResponse        ChatLogType = "ai_response"
	ChatScheduleApproval  ChatLogType = "schedule_approval"
	ChatApprovalResponse  ChatLogType = "approval_response"
	ChatScheduleRejection ChatLogType = "schedule_rejection"
	ChatScheduleConfirmed ChatLogType = "schedule_confirmed"
	ChatFriendRequest     ChatLogType = "friend_request"
	ChatFriendAccepted    ChatLogType = "friend_accepted"
	ChatFriendRejected    ChatLogType = "friend_rejected"
	ChatAgentQuery        ChatLogType = "agent_query"
	ChatAgentReply        ChatLogType = "agent_reply"
	ChatProposal          ChatLogType = "proposal"
	ChatConfirm           ChatLogType = "confirm"
	ChatFinal             ChatLogType = "final"
	ChatSystem            ChatLogType = "system"
)

// RecommendationCandidate is one entry of a recommendation-mode payload.
type RecommendationCandidate struct {
	Date          string `json:"date"`
	TimeCondition string `json:"time_condition"`
}

// RecommendationPayload is the named record for recommendation-mode metadata.
type RecommendationPayload struct {
	RecommendationMode bool                      `json:"recommendation_mode"`
	Recommendations    []RecommendationCandidate `json:"recommendations"`
	FriendIDs          []UserID                  `json:"friend_ids,omitempty"`
	FriendNames        []string                  `json:"friend_names,omitempty"`
	Activity           string                    `json:"activity,omitempty"`
	Location           string                    `json:"location,omitempty"`
}

// TimeSelectionPayload marks the chat session as awaiting a time for an
// already-picked date. The orchestrator stores it on the ai_response log it
// just wrote and reads it back on the user's next message.
type TimeSelectionPayload struct {
	TimeSelectionMode bool     `json:"time_selection_mode"`
	Date              string   `json:"date"`
	TimeCondition     string   `json:"time_condition,omitempty"`
	FriendIDs         []UserID `json:"friend_ids,omitempty"`
	FriendNames       []string `json:"friend_names,omitempty"`
	Activity          string   `json:"activity,omitempty"`
	Location          string   `json:"location,omitempty"`
}

// PendingPersonalWrite marks the chat session as having offered to write a
// single-participant event to the user's own calendar, awaiting a short
// confirmation ("응"/"네") on the next message.
type PendingPersonalWrite struct {
	AwaitingConfirmation bool   `json:"awaiting_personal_write"`
	AwaitingEndTime      bool   `json:"awaiting_end_time"`
	Date                 string `json:"date"`
	Time                 string `json:"time"`
	EndTime              string `json:"end_time,omitempty"`
	Activity             string `json:"activity,omitempty"`
	Location             string `json:"location,omitempty"`
}

// ApprovalPayload is the named record for approval-request/response metadata.
type ApprovalPayload struct {
	ApprovedByList []UserID    `json:"approved_by_list"`
	AllApproved    bool        `json:"all_approved"`
	ApprovedBy     UserID      `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time  `json:"approved_at,omitempty"`
	ThreadID       ThreadID    `json:"thread_id,omitempty"`
	SessionIDs     []SessionID `json:"session_ids,omitempty"`
}

// RecoordinationPayload is the named record for rejection/recoordination metadata.
type RecoordinationPayload struct {
	NeedsRecoordination bool        `json:"needs_recoordination"`
	ThreadID            ThreadID    `json:"thread_id"`
	SessionIDs          []SessionID `json:"session_ids"`
	RejectedBy          UserID      `json:"rejected_by,omitempty"`
}

// ChatLogEntry is one row of the per-user conversation log.
type ChatLogEntry struct {
	ID           ChatLogID   `json:"id"`
	UserID       UserID      `json:"user_id"`
	SessionRef   SessionID   `json:"session_ref,omitempty"`
	FriendRef    UserID      `json:"friend_ref,omitempty"`
	RequestText  string      `json:"request_text,omitempty"`
	ResponseText string      `json:"response_text,omitempty"`
	Type         ChatLogType `json:"type"`
	Metadata     string      `json:"metadata"` // raw JSON bag; decode per usage site
	CreatedAt    time.Time   `json:"created_at"`
}

// -----------------------------------------------------------------------------
// INTENT
// -----------------------------------------------------------------------------

// Intent is the structured record an IntentExtractor produces from free text.
type Intent struct {
	FriendName         string   `json:"friend_name,omitempty"`
	FriendNames        []string `json:"friend_names,omitempty"`
	Date               string   `json:"date,omitempty"`
	StartDate          string   `json:"start_date,omitempty"`
	EndDate            string   `json:"end_date,omitempty"`
	Time               string   `json:"time,omitempty"`
	StartTime          string   `json:"start_time,omitempty"`
	EndTime            string   `json:"end_time,omitempty"`
	Activity           string   `json:"activity,omitempty"`
	Title              string   `json:"title,omitempty"`
	Location           string   `json:"location,omitempty"`
	HasScheduleRequest bool     `json:"has_schedule_request"`
	MissingFields      []string `json:"missing_fields"`
}

// User is the minimal identity record the core needs: an opaque id and
// display name. External-calendar credentials are held by the calendar
// collaborator (internal/calendar), never by core.
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"display_name"`
}
