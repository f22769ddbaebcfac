package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/botfleet/botfleet/internal/history"
)

// DB implements history.Sink on PostgreSQL via the pgx stdlib driver.

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bot_events(
			id BIGSERIAL PRIMARY KEY,
			event TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			pid INTEGER NOT NULL,
			profile TEXT NOT NULL,
			detail TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_events_profile ON bot_events(profile);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_events_occurred ON bot_events(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Send(ctx context.Context, e history.Event) error {
	var detail any
	if e.Detail != "" {
		detail = e.Detail
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bot_events(event, occurred_at, pid, profile, detail)
		VALUES($1, $2, $3, $4, $5);`,
		string(e.Type), e.OccurredAt.UTC(), e.PID, e.Profile, detail)
	return err
}

func (p *DB) Recent(ctx context.Context, profile string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if profile == "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT event, occurred_at, pid, profile, COALESCE(detail, '')
			FROM bot_events ORDER BY id DESC LIMIT $1;`, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT event, occurred_at, pid, profile, COALESCE(detail, '')
			FROM bot_events WHERE profile=$1 ORDER BY id DESC LIMIT $2;`, profile, limit)
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
