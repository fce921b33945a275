package storage

import (
	"database/sql"
	"encoding/json"

	"github.com/quantumlife/scheduler/internal/core"
)

// MessageStore persists the append-only negotiation message log.
type MessageStore struct {
	db *DB
}

// NewMessageStore creates a new message store.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append writes one negotiation message. Messages are never updated or
// deleted; each round adds a new row.
func (s *MessageStore) Append(msg *core.NegotiationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO a2a_message (id, session_id, sender_user_id, type, round_number, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.SenderID, msg.Type, msg.RoundNumber, string(body), msg.Timestamp)
	return err
}

// GetBySession returns every message for a session in round order.
func (s *MessageStore) GetBySession(sessionID core.SessionID) ([]*core.NegotiationMessage, error) {
	rows, err := s.db.conn.Query(`
		SELECT message FROM a2a_message WHERE session_id = ? ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// LastRound returns the most recent message for a session, or nil if the
// session has no messages yet.
func (s *MessageStore) LastRound(sessionID core.SessionID) (*core.NegotiationMessage, error) {
	var body string
	err := s.db.conn.QueryRow(`
		SELECT message FROM a2a_message WHERE session_id = ? ORDER BY created_at DESC LIMIT 1
	`, sessionID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	msg := &core.NegotiationMessage{}
	if err := json.Unmarshal([]byte(body), msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func scanMessages(rows *sql.Rows) ([]*core.NegotiationMessage, error) {
	var out []*core.NegotiationMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		msg := &core.NegotiationMessage{}
		if err := json.Unmarshal([]byte(body), msg); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
