package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/quantumlife/scheduler/internal/core"
)

// UserStore handles user identity persistence. Calendar credentials live
// separately in CredentialStore.
type UserStore struct {
	db *DB
}

// NewUserStore creates a new user store.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// Upsert creates userID if absent, or updates its display name and email.
func (s *UserStore) Upsert(ctx context.Context, user core.User, email string) error {
	now := time.Now().UTC()
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO user (id, name, email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			updated_at = excluded.updated_at
	`, user.ID, user.DisplayName, nullIfEmpty(email), now, now)
	return err
}

// GetByID returns a user by id.
func (s *UserStore) GetByID(ctx context.Context, id core.UserID) (*core.User, error) {
	var u core.User
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, name FROM user WHERE id = ?
	`, id).Scan(&u.ID, &u.DisplayName)
	if err == sql.ErrNoRows {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByDisplayName resolves a user by exact display name, used by the chat
// orchestrator to turn a mentioned friend's name into a UserID. Returns
// core.ErrRecordNotFound if no user has that name.
func (s *UserStore) FindByDisplayName(ctx context.Context, name string) (*core.User, error) {
	var u core.User
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, name FROM user WHERE name = ? LIMIT 1
	`, name).Scan(&u.ID, &u.DisplayName)
	if err == sql.ErrNoRows {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetDisplayNames resolves display names for a batch of ids in one round
// trip; ids with no matching row are simply absent from the result.
func (s *UserStore) GetDisplayNames(ctx context.Context, ids []core.UserID) (map[core.UserID]string, error) {
	out := make(map[core.UserID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := "SELECT id, name FROM user WHERE id IN (" + strings.Join(placeholders, ",") + ")"
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id core.UserID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}
