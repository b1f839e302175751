// Package journal persists the outcome of every transcribed chunk in a
// SQLite database, grouped by session and recording.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/voxquill/internal/session"
)

// Entry is one journaled chunk result.
type Entry struct {
	RecordingID string
	Seq         uint64
	Text        string
	Status      string
	Error       string
	Latency     time.Duration
	Audio       time.Duration
	CapturedAt  time.Time
	Final       bool
	CreatedAt   time.Time
}

// Recording summarises one recording of a session.
type Recording struct {
	ID        string
	SessionID string
	StartedAt time.Time
	Chunks    int
}

// Store is a SQLite-backed chunk journal. It is safe for concurrent use.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open opens or creates the journal database at path. Use ":memory:" for a
// throwaway journal.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("journal: create data dir: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS recordings (
    recording_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    started_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recording_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    text TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    latency_ms INTEGER NOT NULL,
    audio_ms INTEGER NOT NULL DEFAULT 0,
    captured_at TEXT,
    final INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    UNIQUE(recording_id, seq),
    FOREIGN KEY(recording_id) REFERENCES recordings(recording_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_recordings_session ON recordings(session_id, started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ForSession returns a [session.Journal] writing under sessionID.
func (s *Store) ForSession(sessionID string) *SessionJournal {
	return &SessionJournal{store: s, sessionID: sessionID}
}

// SessionJournal records chunk results of one session.
type SessionJournal struct {
	store     *Store
	sessionID string
}

var _ session.Journal = (*SessionJournal)(nil)

// RecordChunk implements [session.Journal].
func (j *SessionJournal) RecordChunk(ctx context.Context, recordingID string, r session.ChunkResult) error {
	return j.store.record(ctx, j.sessionID, recordingID, r)
}

func (s *Store) record(ctx context.Context, sessionID, recordingID string, r session.ChunkResult) (err error) {
	now := s.clock().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO recordings(recording_id, session_id, started_at) VALUES(?, ?, ?)
		 ON CONFLICT(recording_id) DO NOTHING`,
		recordingID, sessionID, formatTime(now)); err != nil {
		return fmt.Errorf("journal: insert recording: %w", err)
	}

	var errText sql.NullString
	if r.Err != nil {
		errText = sql.NullString{String: r.Err.Error(), Valid: true}
	}
	var captured sql.NullString
	if !r.CapturedAt.IsZero() {
		captured = sql.NullString{String: formatTime(r.CapturedAt), Valid: true}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO chunks(recording_id, seq, text, status, error, latency_ms, audio_ms, captured_at, final, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recordingID, int64(r.Seq), r.Text, r.Status, errText, r.Latency.Milliseconds(), r.Audio.Milliseconds(),
		captured, r.Final, formatTime(now)); err != nil {
		return fmt.Errorf("journal: insert chunk %d: %w", r.Seq, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("journal: commit: %w", err)
	}
	return nil
}

// Entries returns the journaled chunks of a recording in sequence order.
func (s *Store) Entries(ctx context.Context, recordingID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recording_id, seq, text, status, error, latency_ms, audio_ms, captured_at, final, created_at
		 FROM chunks WHERE recording_id = ? ORDER BY seq ASC`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("journal: query chunks: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			seq, latency, aud int64
			errText, captured sql.NullString
			created           string
		)
		if err := rows.Scan(&e.RecordingID, &seq, &e.Text, &e.Status, &errText, &latency, &aud, &captured, &e.Final, &created); err != nil {
			return nil, fmt.Errorf("journal: scan chunk: %w", err)
		}
		e.Seq = uint64(seq)
		e.Error = errText.String
		e.Latency = time.Duration(latency) * time.Millisecond
		e.Audio = time.Duration(aud) * time.Millisecond
		if captured.Valid {
			e.CapturedAt = parseTime(captured.String)
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Recordings lists the recordings of a session, oldest first.
func (s *Store) Recordings(ctx context.Context, sessionID string) ([]Recording, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.recording_id, r.session_id, r.started_at, COUNT(c.id)
		 FROM recordings r LEFT JOIN chunks c ON c.recording_id = r.recording_id
		 WHERE r.session_id = ?
		 GROUP BY r.recording_id
		 ORDER BY r.started_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal: query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var r Recording
		var started string
		if err := rows.Scan(&r.ID, &r.SessionID, &started, &r.Chunks); err != nil {
			return nil, fmt.Errorf("journal: scan recording: %w", err)
		}
		r.StartedAt = parseTime(started)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transcript reassembles the text of a recording from its journaled chunks,
// in sequence order, skipping empty results.
func (s *Store) Transcript(ctx context.Context, recordingID string) (string, error) {
	entries, err := s.Entries(ctx, recordingID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("journal: no chunks for recording " + recordingID)
	}
	var text []byte
	for _, e := range entries {
		if e.Text == "" {
			continue
		}
		text = append(text, e.Text...)
		text = append(text, ' ')
	}
	return string(text), nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
