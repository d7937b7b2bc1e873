// Package transcript persists console lines per sandbox session in SQLite.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deniskipeles/swalang-sandbox/internal/console"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project TEXT NOT NULL,
	started INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS lines (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	text TEXT NOT NULL,
	at INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
) WITHOUT ROWID;
`

// Session is one recorded sandbox session.
type Session struct {
	ID      string
	Project string
	Started time.Time
}

// Store is a transcript database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer keeps appends ordered without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records the start of a session. Beginning an existing session
// is a no-op.
func (s *Store) Begin(ctx context.Context, sessionID, project string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, project, started) VALUES (?, ?, ?)`,
		sessionID, project, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("begin session %s: %w", sessionID, err)
	}
	return nil
}

// Append stores one console line.
func (s *Store) Append(ctx context.Context, sessionID string, line console.Line) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO lines (session_id, seq, text, at) VALUES (?, ?, ?, ?)`,
		sessionID, int64(line.Seq), line.Text, line.Time.UnixMilli())
	if err != nil {
		return fmt.Errorf("append line %d: %w", line.Seq, err)
	}
	return nil
}

// Lines returns a session's lines in order.
func (s *Store) Lines(ctx context.Context, sessionID string) ([]console.Line, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, text, at FROM lines WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []console.Line
	for rows.Next() {
		var (
			seq  int64
			text string
			at   int64
		)
		if err := rows.Scan(&seq, &text, &at); err != nil {
			return nil, err
		}
		out = append(out, console.Line{Seq: uint64(seq), Text: text, Time: time.UnixMilli(at)})
	}
	return out, rows.Err()
}

// Sessions lists recorded sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, started FROM sessions ORDER BY started DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess    Session
			started int64
		)
		if err := rows.Scan(&sess.ID, &sess.Project, &started); err != nil {
			return nil, err
		}
		sess.Started = time.UnixMilli(started)
		out = append(out, sess)
	}
	return out, rows.Err()
}
