package calendar

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/quantumlife/scheduler/internal/core"
)

// TokenStore persists and retrieves one OAuth token per user. Implemented by
// internal/storage.CredentialStore.
type TokenStore interface {
	GetToken(ctx context.Context, userID core.UserID) (*oauth2.Token, error)
	SaveToken(ctx context.Context, userID core.UserID, token *oauth2.Token) error
}

// Provider is the Calendar external interface described by spec §6, fanned
// out across every negotiating user rather than the single-identity `Space`
// the teacher's connector served.
type Provider struct {
	oauth  *OAuthClient
	tokens TokenStore
	log    *zap.Logger
}

// New constructs a multi-user calendar Provider.
func New(oauth *OAuthClient, tokens TokenStore, log *zap.Logger) *Provider {
	return &Provider{oauth: oauth, tokens: tokens, log: log}
}

func (p *Provider) clientFor(ctx context.Context, userID core.UserID) (*Client, error) {
	token, err := p.tokens.GetToken(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load token for %s: %w", userID, err)
	}
	if token == nil {
		return nil, core.ErrCredentialsMissing
	}
	if !token.Valid() {
		refreshed, err := p.oauth.RefreshToken(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("refresh token for %s: %w", userID, err)
		}
		if err := p.tokens.SaveToken(ctx, userID, refreshed); err != nil {
			p.log.Warn("failed to persist refreshed token", zap.String("user_id", string(userID)), zap.Error(err))
		}
		token = refreshed
	}
	return NewClient(ctx, p.oauth, token)
}

// ListEvents satisfies availability.CalendarReader. A user with no stored
// credentials, or whose refresh fails, is reported as a plain error; the
// caller (internal/availability) treats that as "fully free" rather than
// halting the negotiation — one broken participant must never block the rest.
func (p *Provider) ListEvents(ctx context.Context, userID core.UserID, window core.TimeSlot) ([]core.CalendarEvent, error) {
	client, err := p.clientFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	events, err := client.GetEvents(ctx, "primary", window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", userID, err)
	}

	out := make([]core.CalendarEvent, 0, len(events))
	for _, e := range events {
		if e.Status == "cancelled" {
			continue
		}
		start, end := e.Start, e.End
		if e.AllDay {
			// Google reports all-day end as exclusive already; the Date
			// parsing in convertEvents already yields a half-open
			// [Start, End) day span.
			start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
			end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, end.Location())
		}
		out = append(out, core.CalendarEvent{
			ID:      e.ID,
			Summary: e.Summary,
			Start:   start,
			End:     end,
			AllDay:  e.AllDay,
		})
	}
	return out, nil
}

// CreateEventResult is the §6 "create event" operation's output shape.
type CreateEventResult struct {
	ID       string
	HTMLLink string
}

// CreateEvent writes an event to userID's primary calendar. Callers in the
// approval flow deliberately leave Attendees empty: each participant gets
// their own owner-local event instead of one shared invitation, which
// avoids duplicate invitation mail (see ApprovalCoordinator, §4.6).
func (p *Provider) CreateEvent(ctx context.Context, userID core.UserID, req CreateEventRequest) (*CreateEventResult, error) {
	client, err := p.clientFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	created, err := client.CreateEvent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create event for %s: %w", userID, err)
	}
	return &CreateEventResult{ID: created.ID, HTMLLink: created.Link}, nil
}

// DeleteEvent deletes an event by id from userID's primary calendar.
func (p *Provider) DeleteEvent(ctx context.Context, userID core.UserID, eventID string) error {
	client, err := p.clientFor(ctx, userID)
	if err != nil {
		return err
	}
	return client.DeleteEvent(ctx, "primary", eventID)
}
