package eventbus

import (
	"context"
	"time"

	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/storage"
)

// Store persists the durable event log backing replay.
type Store struct {
	db *storage.DB
}

// NewStore creates a new event store.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// Append writes ev and fills in its ID and CreatedAt.
func (s *Store) Append(ctx context.Context, ev *Event) error {
	ev.CreatedAt = time.Now().UTC()
	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO event (user_id, type, payload, created_at) VALUES (?, ?, ?, ?)
	`, ev.UserID, ev.Kind, string(ev.Payload), ev.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = id
	return nil
}

// Since returns every event for userID with id > afterID, oldest first. A
// reconnecting client passes the last id it saw to replay what it missed.
func (s *Store) Since(ctx context.Context, userID core.UserID, afterID int64) ([]Event, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, user_id, type, payload, created_at
		FROM event WHERE user_id = ? AND id > ?
		ORDER BY id ASC
	`, userID, afterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var payload string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Kind, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Payload = []byte(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}
