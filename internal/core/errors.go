// Package core defines the fundamental types and errors for the scheduling
// negotiation service.
package core

import "errors"

// Sentinel errors grouped by domain.
var (
	// Session errors
	ErrSessionNotFound   = errors.New("session not found")
	ErrThreadNotFound    = errors.New("thread not found")
	ErrInvalidTransition = errors.New("invalid session status transition")

	// Availability errors
	ErrNoAvailability  = errors.New("no availability in horizon")
	ErrCredentialsMissing = errors.New("calendar credentials missing")

	// Negotiation errors
	ErrRoundOverflow = errors.New("negotiation exceeded maximum rounds")
	ErrDeadlocked    = errors.New("negotiation deadlocked")

	// Proposal errors
	ErrInvalidProposal = errors.New("invalid proposal")

	// Intent errors
	ErrAmbiguousIntent = errors.New("could not extract a schedulable intent")

	// Approval errors
	ErrAlreadyApproved  = errors.New("user has already approved this thread")
	ErrNotPendingApproval = errors.New("session is not pending approval")

	// Calendar errors
	ErrCalendarWriteFailed = errors.New("calendar write failed")
	ErrDuplicateEvent      = errors.New("event already written for this session and owner")

	// Persistence errors
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateRecord = errors.New("duplicate record")

	// LLM errors
	ErrLLMUnavailable = errors.New("LLM provider unavailable")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)
