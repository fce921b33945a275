package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/quantumlife/scheduler/internal/core"
)

// SessionStore persists negotiation sessions.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a new session.
func (s *SessionStore) Create(sess *core.Session) error {
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	participants, _ := json.Marshal(sess.ParticipantIDs)
	window, _ := json.Marshal(sess.TimeWindow)
	placePref, _ := json.Marshal(sess.PlacePref)

	_, err := s.db.conn.Exec(`
		INSERT INTO a2a_session (
		    id, initiator_user_id, participant_user_ids, intent, status,
		    time_window, place_pref, final_event_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sess.ID, sess.InitiatorID, string(participants), sess.Intent, sess.Status,
		string(window), string(placePref), nullIfEmpty(sess.FinalEventID), sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

// GetByID returns a session by id.
func (s *SessionStore) GetByID(id core.SessionID) (*core.Session, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, initiator_user_id, participant_user_ids, intent, status,
		       time_window, place_pref, final_event_id, created_at, updated_at
		FROM a2a_session WHERE id = ?
	`, id)
	return scanSession(row)
}

// GetByThread returns every session sharing threadID, most recent first.
func (s *SessionStore) GetByThread(threadID core.ThreadID) ([]*core.Session, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, initiator_user_id, participant_user_ids, intent, status,
		       time_window, place_pref, final_event_id, created_at, updated_at
		FROM a2a_session
		WHERE json_extract(place_pref, '$.thread_id') = ?
		ORDER BY created_at DESC
	`, string(threadID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// Update persists status/window/placePref/final-event changes.
func (s *SessionStore) Update(sess *core.Session) error {
	sess.UpdatedAt = time.Now().UTC()

	window, _ := json.Marshal(sess.TimeWindow)
	placePref, _ := json.Marshal(sess.PlacePref)

	_, err := s.db.conn.Exec(`
		UPDATE a2a_session SET
		    status = ?, time_window = ?, place_pref = ?, final_event_id = ?, updated_at = ?
		WHERE id = ?
	`,
		sess.Status, string(window), string(placePref), nullIfEmpty(sess.FinalEventID), sess.UpdatedAt,
		sess.ID,
	)
	return err
}

func scanSession(row *sql.Row) (*core.Session, error) {
	sess := &core.Session{}
	var participants, window, placePref string
	var intent, finalEventID sql.NullString

	err := row.Scan(
		&sess.ID, &sess.InitiatorID, &participants, &intent, &sess.Status,
		&window, &placePref, &finalEventID, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	sess.Intent = intent.String
	sess.FinalEventID = finalEventID.String
	json.Unmarshal([]byte(participants), &sess.ParticipantIDs)
	json.Unmarshal([]byte(window), &sess.TimeWindow)
	json.Unmarshal([]byte(placePref), &sess.PlacePref)

	return sess, nil
}

func scanSessions(rows *sql.Rows) ([]*core.Session, error) {
	var out []*core.Session
	for rows.Next() {
		sess := &core.Session{}
		var participants, window, placePref string
		var intent, finalEventID sql.NullString

		err := rows.Scan(
			&sess.ID, &sess.InitiatorID, &participants, &intent, &sess.Status,
			&window, &placePref, &finalEventID, &sess.CreatedAt, &sess.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		sess.Intent = intent.String
		sess.FinalEventID = finalEventID.String
		json.Unmarshal([]byte(participants), &sess.ParticipantIDs)
		json.Unmarshal([]byte(window), &sess.TimeWindow)
		json.Unmarshal([]byte(placePref), &sess.PlacePref)

		out = append(out, sess)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
