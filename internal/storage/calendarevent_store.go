package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/quantumlife/scheduler/internal/core"
)

// CalendarEventRecord links a finalized negotiation to the Google Calendar
// event written to one participant's primary calendar. One row per
// (owner, event) pair — each participant gets their own local event.
type CalendarEventRecord struct {
	ID            string
	OwnerUserID   core.UserID
	SessionID     core.SessionID
	GoogleEventID string
	Summary       string
	Location      string
	Start         time.Time
	End           time.Time
	HTMLLink      string
	Status        string
	CreatedAt     time.Time
}

// CalendarEventStore persists the calendar_event table. The table's
// UNIQUE(owner_user_id, google_event_id) constraint rejects a second row
// for the same Google event. Retrying a partially-failed approval never
// double-books a participant who already got their event because the
// approval coordinator checks ExistsForOwner for (owner, session) first.
type CalendarEventStore struct {
	db *DB
}

// NewCalendarEventStore creates a new calendar event store.
func NewCalendarEventStore(db *DB) *CalendarEventStore {
	return &CalendarEventStore{db: db}
}

// Create inserts a calendar event record. A duplicate (owner, google event
// id) pair returns core.ErrDuplicateRecord rather than a raw driver error.
func (s *CalendarEventStore) Create(rec *CalendarEventRecord) error {
	rec.CreatedAt = time.Now().UTC()
	if rec.Status == "" {
		rec.Status = "confirmed"
	}

	_, err := s.db.conn.Exec(`
		INSERT INTO calendar_event (
		    id, owner_user_id, session_id, google_event_id, summary, location,
		    start_at, end_at, html_link, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.OwnerUserID, nullIfEmpty(string(rec.SessionID)), rec.GoogleEventID, rec.Summary,
		rec.Location, rec.Start, rec.End, rec.HTMLLink, rec.Status, rec.CreatedAt,
	)
	if isUniqueConstraintErr(err) {
		return core.ErrDuplicateRecord
	}
	return err
}

// ExistsForOwner reports whether owner already has a row for sessionID,
// which the approval coordinator uses to skip a participant it already
// wrote an event for during a retried finalization.
func (s *CalendarEventStore) ExistsForOwner(owner core.UserID, sessionID core.SessionID) (bool, error) {
	var count int
	err := s.db.conn.QueryRow(`
		SELECT COUNT(*) FROM calendar_event WHERE owner_user_id = ? AND session_id = ?
	`, owner, sessionID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetBySession returns every participant's calendar event row for a session.
func (s *CalendarEventStore) GetBySession(sessionID core.SessionID) ([]*CalendarEventRecord, error) {
	rows, err := s.db.conn.Query(`
		SELECT id, owner_user_id, session_id, google_event_id, summary, location,
		       start_at, end_at, html_link, status, created_at
		FROM calendar_event WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CalendarEventRecord
	for rows.Next() {
		rec := &CalendarEventRecord{}
		var sid, location, htmlLink sql.NullString
		err := rows.Scan(
			&rec.ID, &rec.OwnerUserID, &sid, &rec.GoogleEventID, &rec.Summary, &location,
			&rec.Start, &rec.End, &htmlLink, &rec.Status, &rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.SessionID = core.SessionID(sid.String)
		rec.Location = location.String
		rec.HTMLLink = htmlLink.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// isUniqueConstraintErr matches modernc.org/sqlite's driver error text.
// The driver doesn't expose a typed constraint-violation error, so this
// checks the SQLite message directly.
func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
