package notes

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Summary kinds stored in the archive
const (
	SummaryKindGeneral = "general"
	SummaryKindSpeaker = "speaker"
)

// ArchivedSession is one row of the sessions table
type ArchivedSession struct {
	ID        int64
	ChannelID uint64
	Channel   string
	StartedBy uint64
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	EndReason string
	NoteID    int64
}

// ArchivedFragment is one transcribed fragment of a session
type ArchivedFragment struct {
	Speaker uint64
	Start   time.Time
	End     time.Time
	Text    string
}

// Archive stores the full history of finished sessions in SQLite.
// Writes are best-effort from the caller's point of view: a failed
// archive insert never loses the note itself.
type Archive struct {
	db *sql.DB
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id  INTEGER NOT NULL,
	channel     TEXT NOT NULL,
	started_by  INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMP NOT NULL,
	ended_at    TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	end_reason  TEXT NOT NULL DEFAULT '',
	note_id     INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_note ON sessions(note_id);
CREATE INDEX IF NOT EXISTS idx_sessions_channel ON sessions(channel_id, started_at);

CREATE TABLE IF NOT EXISTS fragments (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	speaker_id INTEGER NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP NOT NULL,
	text       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fragments_session ON fragments(session_id);

CREATE TABLE IF NOT EXISTS summaries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	kind       TEXT NOT NULL,
	speaker_id INTEGER NOT NULL DEFAULT 0,
	text       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id);
`

// OpenArchive opens (and if needed creates) the archive database at path
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	// The driver is not safe for concurrent writers on one file
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create archive schema: %w", err)
	}

	return &Archive{db: db}, nil
}

// RecordSession inserts a finished session and returns its archive id
func (a *Archive) RecordSession(session ArchivedSession) (int64, error) {
	noteID := sql.NullInt64{Int64: session.NoteID, Valid: session.NoteID > 0}

	result, err := a.db.Exec(
		`INSERT INTO sessions (channel_id, channel, started_by, started_at, ended_at, duration_ms, end_reason, note_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(session.ChannelID), session.Channel, int64(session.StartedBy),
		session.StartedAt.UTC(), session.EndedAt.UTC(),
		session.Duration.Milliseconds(), session.EndReason, noteID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get session id: %w", err)
	}

	return id, nil
}

// RecordFragments inserts the transcribed fragments of a session
func (a *Archive) RecordFragments(sessionID int64, fragments []ArchivedFragment) error {
	if len(fragments) == 0 {
		return nil
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO fragments (session_id, speaker_id, started_at, ended_at, text) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare fragment insert: %w", err)
	}
	defer stmt.Close()

	for _, frag := range fragments {
		if _, err := stmt.Exec(sessionID, int64(frag.Speaker), frag.Start.UTC(), frag.End.UTC(), frag.Text); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert fragment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fragments: %w", err)
	}

	return nil
}

// RecordSummary inserts a general or per-speaker summary for a session
func (a *Archive) RecordSummary(sessionID int64, kind string, speaker uint64, text string) error {
	if kind != SummaryKindGeneral && kind != SummaryKindSpeaker {
		return fmt.Errorf("invalid summary kind: %s", kind)
	}

	_, err := a.db.Exec(
		`INSERT INTO summaries (session_id, kind, speaker_id, text) VALUES (?, ?, ?, ?)`,
		sessionID, kind, int64(speaker), text,
	)
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}

	return nil
}

// RecentSessions returns the latest sessions, newest first. A channel of 0
// matches all channels; a limit <= 0 defaults to 10.
func (a *Archive) RecentSessions(channel uint64, limit int) ([]ArchivedSession, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT id, channel_id, channel, started_by, started_at, ended_at, duration_ms, end_reason, note_id
		FROM sessions`
	args := []interface{}{}
	if channel != 0 {
		query += ` WHERE channel_id = ?`
		args = append(args, int64(channel))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ArchivedSession
	for rows.Next() {
		var s ArchivedSession
		var channelID, startedBy int64
		var durationMs int64
		var noteID sql.NullInt64

		err := rows.Scan(&s.ID, &channelID, &s.Channel, &startedBy, &s.StartedAt, &s.EndedAt, &durationMs, &s.EndReason, &noteID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		s.ChannelID = uint64(channelID)
		s.StartedBy = uint64(startedBy)
		s.Duration = time.Duration(durationMs) * time.Millisecond
		if noteID.Valid {
			s.NoteID = noteID.Int64
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// SessionCount returns the number of archived sessions
func (a *Archive) SessionCount() (int64, error) {
	var count int64
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// ImportNotes archives every note of the store that is not already
// present, keyed by note id. Returns how many notes were imported.
func (a *Archive) ImportNotes(store *Store) (int, error) {
	imported := 0

	for _, note := range store.All() {
		var exists int64
		err := a.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE note_id = ?`, note.ID).Scan(&exists)
		if err != nil {
			return imported, fmt.Errorf("failed to check note %d: %w", note.ID, err)
		}
		if exists > 0 {
			continue
		}

		sessionID, err := a.RecordSession(ArchivedSession{
			ChannelID: note.ChannelID,
			Channel:   note.ChannelName,
			StartedAt: note.CreatedAt,
			EndedAt:   note.CreatedAt,
			EndReason: "imported",
			NoteID:    note.ID,
		})
		if err != nil {
			return imported, fmt.Errorf("failed to import note %d: %w", note.ID, err)
		}

		if note.Summary != "" {
			if err := a.RecordSummary(sessionID, SummaryKindGeneral, 0, note.Summary); err != nil {
				return imported, fmt.Errorf("failed to import summary of note %d: %w", note.ID, err)
			}
		}

		imported++
	}

	return imported, nil
}

// Close closes the underlying database
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("failed to close archive database: %w", err)
	}
	return nil
}
