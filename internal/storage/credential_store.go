// Package storage provides persistence for the scheduling negotiation
// service.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/quantumlife/scheduler/internal/core"
)

// CredentialStore persists one Google OAuth token per user. It implements
// internal/calendar.TokenStore.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore creates a new credential store.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// GetToken returns the stored token for userID, or nil if none exists.
func (s *CredentialStore) GetToken(ctx context.Context, userID core.UserID) (*oauth2.Token, error) {
	var tokenJSON string
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT token_json FROM credential WHERE user_id = ?
	`, userID).Scan(&tokenJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query credential for %s: %w", userID, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(tokenJSON), &token); err != nil {
		return nil, fmt.Errorf("decode token for %s: %w", userID, err)
	}
	return &token, nil
}

// SaveToken upserts the token for userID.
func (s *CredentialStore) SaveToken(ctx context.Context, userID core.UserID, token *oauth2.Token) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token for %s: %w", userID, err)
	}

	now := time.Now().UTC()
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO credential (user_id, token_json, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			token_json = excluded.token_json,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, userID, string(tokenJSON), token.Expiry, now, now)
	if err != nil {
		return fmt.Errorf("save credential for %s: %w", userID, err)
	}
	return nil
}

// DeleteToken removes a user's stored credential, e.g. when the user
// revokes calendar access.
func (s *CredentialStore) DeleteToken(ctx context.Context, userID core.UserID) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM credential WHERE user_id = ?`, userID)
	return err
}

// HasToken reports whether a credential row exists for userID, without
// decoding it.
func (s *CredentialStore) HasToken(ctx context.Context, userID core.UserID) (bool, error) {
	var count int
	err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM credential WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
