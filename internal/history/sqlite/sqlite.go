package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/botfleet/botfleet/internal/history"
)

// DB implements history.Sink for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bot_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			pid INTEGER NOT NULL,
			profile TEXT NOT NULL,
			detail TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_events_profile ON bot_events(profile);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_events_occurred ON bot_events(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_events(event, occurred_at, pid, profile, detail)
		VALUES(?, ?, ?, ?, ?);`,
		string(e.Type), e.OccurredAt.UTC(), e.PID, e.Profile, nullable(e.Detail))
	return err
}

func (s *DB) Recent(ctx context.Context, profile string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if profile == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT event, occurred_at, pid, profile, COALESCE(detail, '')
			FROM bot_events ORDER BY id DESC LIMIT ?;`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT event, occurred_at, pid, profile, COALESCE(detail, '')
			FROM bot_events WHERE profile=? ORDER BY id DESC LIMIT ?;`, profile, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var e history.Event
		var typ string
		if err := rows.Scan(&typ, &e.OccurredAt, &e.PID, &e.Profile, &e.Detail); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
