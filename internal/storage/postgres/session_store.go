package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/webcam-harvester/internal/session"
)

const defaultSessionTable = "harvest_sessions"

// SessionStore implements session.Recorder and reads session history back.
type SessionStore struct {
	pool  db
	table string
}

// NewSessionStore connects, ensures the table exists and returns the store.
func NewSessionStore(ctx context.Context, cfg PoolConfig, table string) (*SessionStore, error) {
	table, err := checkTable(table, defaultSessionTable)
	if err != nil {
		return nil, err
	}
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &SessionStore{pool: pool, table: table}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewSessionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSessionStoreWithPool(pool db, table string) (*SessionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, defaultSessionTable)
	if err != nil {
		return nil, err
	}
	return &SessionStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the session table when missing.
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id             text        PRIMARY KEY,
	source         text        NOT NULL DEFAULT '',
	started_at     timestamptz NOT NULL,
	finished_at    timestamptz,
	webcams        integer     NOT NULL DEFAULT 0,
	workers        integer     NOT NULL DEFAULT 0,
	period_ms      bigint      NOT NULL DEFAULT 0,
	duration_ms    bigint      NOT NULL DEFAULT 0,
	cycles         integer     NOT NULL DEFAULT 0,
	enqueued       integer     NOT NULL DEFAULT 0,
	attempts       integer     NOT NULL DEFAULT 0,
	succeeded      integer     NOT NULL DEFAULT 0,
	falling_behind integer     NOT NULL DEFAULT 0
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StartSession inserts the session row.
func (s *SessionStore) StartSession(ctx context.Context, rec session.Record) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, source, started_at, webcams, workers, period_ms, duration_ms)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Source,
		rec.StartedAt,
		rec.Webcams,
		rec.Workers,
		rec.Period.Milliseconds(),
		rec.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FinishSession stores the outcome of a session.
func (s *SessionStore) FinishSession(ctx context.Context, rec session.Record) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, cycles = $2, enqueued = $3, attempts = $4, succeeded = $5, falling_behind = $6
WHERE id = $7`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		rec.FinishedAt,
		rec.Cycles,
		rec.Enqueued,
		rec.Attempts,
		rec.Succeeded,
		rec.FallingBehind,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish session %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

const sessionColumns = `id, source, started_at, finished_at, webcams, workers, period_ms, duration_ms,
	cycles, enqueued, attempts, succeeded, falling_behind`

// GetSession retrieves a single session by its ID.
func (s *SessionStore) GetSession(ctx context.Context, id string) (session.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, sessionColumns, s.table)
	rec, err := scanSession(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Record{}, ErrNotFound
		}
		return session.Record{}, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

// ListSessions returns the most recent sessions first.
func (s *SessionStore) ListSessions(ctx context.Context, limit, offset int) ([]session.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
		sessionColumns, s.table)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var records []session.Record
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return records, nil
}

// Close releases the pool.
func (s *SessionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func scanSession(row pgx.Row) (session.Record, error) {
	var (
		rec                  session.Record
		periodMS, durationMS int64
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Source,
		&rec.StartedAt,
		&rec.FinishedAt,
		&rec.Webcams,
		&rec.Workers,
		&periodMS,
		&durationMS,
		&rec.Cycles,
		&rec.Enqueued,
		&rec.Attempts,
		&rec.Succeeded,
		&rec.FallingBehind,
	); err != nil {
		return session.Record{}, err
	}
	rec.Period = time.Duration(periodMS) * time.Millisecond
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return rec, nil
}
