package storage

import (
	"database/sql"
	"time"

	"github.com/quantumlife/scheduler/internal/core"
)

// ChatLogStore persists the per-user conversation log that the chat
// orchestrator both writes to and scans for recoordination markers.
type ChatLogStore struct {
	db *DB
}

// NewChatLogStore creates a new chat log store.
func NewChatLogStore(db *DB) *ChatLogStore {
	return &ChatLogStore{db: db}
}

// Append writes one chat log entry. Metadata must already be a JSON object
// (possibly "{}"); callers marshal the relevant payload type themselves.
func (s *ChatLogStore) Append(entry *core.ChatLogEntry) error {
	entry.CreatedAt = time.Now().UTC()
	if entry.Metadata == "" {
		entry.Metadata = "{}"
	}

	_, err := s.db.conn.Exec(`
		INSERT INTO chat_log (
		    id, user_id, friend_id, session_id, request_text, response_text,
		    message_type, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.UserID, nullIfEmpty(string(entry.FriendRef)), nullIfEmpty(string(entry.SessionRef)),
		entry.RequestText, entry.ResponseText, entry.Type, entry.Metadata, entry.CreatedAt,
	)
	return err
}

// GetByUser returns a user's chat log, most recent first, bounded by limit.
func (s *ChatLogStore) GetByUser(userID core.UserID, limit int) ([]*core.ChatLogEntry, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, user_id, friend_id, session_id, request_text, response_text,
		       message_type, metadata, created_at
		FROM chat_log
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChatLogEntries(rows)
}

// GetBySession returns every chat log entry tied to a session, oldest first.
func (s *ChatLogStore) GetBySession(sessionID core.SessionID) ([]*core.ChatLogEntry, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, user_id, friend_id, session_id, request_text, response_text,
		       message_type, metadata, created_at
		FROM chat_log
		WHERE session_id = ?
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChatLogEntries(rows)
}

// LatestOfTypes returns the most recent entry in userID's log whose type is
// one of types, or nil if none exists. Used by the recoordination scan to
// find the newest 'schedule_confirmed'/'schedule_rejection' marker.
func (s *ChatLogStore) LatestOfTypes(userID core.UserID, types []core.ChatLogType) (*core.ChatLogEntry, error) {
	if len(types) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := []interface{}{userID}
	for i, t := range types {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, t)
	}

	row := s.db.conn.QueryRow(`
		SELECT id, user_id, friend_id, session_id, request_text, response_text,
		       message_type, metadata, created_at
		FROM chat_log
		WHERE user_id = ? AND message_type IN (`+placeholders+`)
		ORDER BY created_at DESC
		LIMIT 1
	`, args...)

	return scanChatLogEntry(row)
}

// LatestOfTypeForThread returns userID's most recent entry of type t whose
// JSON metadata carries thread_id == threadID, or nil if none exists. Used
// by the approval coordinator's fresh-scan: it never trusts a cached
// approved-by list, only the newest row per participant.
func (s *ChatLogStore) LatestOfTypeForThread(userID core.UserID, t core.ChatLogType, threadID core.ThreadID) (*core.ChatLogEntry, error) {
	row := s.db.conn.QueryRow(`
		SELECT id, user_id, friend_id, session_id, request_text, response_text,
		       message_type, metadata, created_at
		FROM chat_log
		WHERE user_id = ? AND message_type = ? AND json_extract(metadata, '$.thread_id') = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, t, string(threadID))
	return scanChatLogEntry(row)
}

// UpdateMetadata overwrites one entry's metadata column in place. The chat
// log is otherwise append-only; this is the sole exception, needed to keep
// an approval-request message's approved_by_list current as the rest of the
// thread's participants respond.
func (s *ChatLogStore) UpdateMetadata(id core.ChatLogID, metadata string) error {
	_, err := s.db.conn.Exec(`UPDATE chat_log SET metadata = ? WHERE id = ?`, metadata, id)
	return err
}

func scanChatLogEntry(row *sql.Row) (*core.ChatLogEntry, error) {
	e := &core.ChatLogEntry{}
	var friendID, sessionID, request, response sql.NullString

	err := row.Scan(&e.ID, &e.UserID, &friendID, &sessionID, &request, &response, &e.Type, &e.Metadata, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.FriendRef = core.UserID(friendID.String)
	e.SessionRef = core.SessionID(sessionID.String)
	e.RequestText = request.String
	e.ResponseText = response.String
	return e, nil
}

func scanChatLogEntries(rows *sql.Rows) ([]*core.ChatLogEntry, error) {
	var out []*core.ChatLogEntry
	for rows.Next() {
		e := &core.ChatLogEntry{}
		var friendID, sessionID, request, response sql.NullString

		err := rows.Scan(&e.ID, &e.UserID, &friendID, &sessionID, &request, &response, &e.Type, &e.Metadata, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.FriendRef = core.UserID(friendID.String)
		e.SessionRef = core.SessionID(sessionID.String)
		e.RequestText = request.String
		e.ResponseText = response.String
		out = append(out, e)
	}
	return out, rows.Err()
}
