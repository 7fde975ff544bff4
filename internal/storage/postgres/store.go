// Package postgres provides the Postgres-backed target and session stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Threshold is the result above which a target is never selected again.
	Threshold int
}

type pgxIface interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store implements visitor.TargetStore and visitor.SessionStore on Postgres.
type Store struct {
	pool      pgxIface
	threshold int
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, cfg.Threshold)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface, threshold int) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if threshold <= 0 {
		threshold = visitor.DefaultTerminalThreshold
	}
	return &Store{pool: pool, threshold: threshold}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const targetColumns = `u.id, u.scheme, u.host, u.path, u.query, u.fragment, u.invalid, u.created_at, u.updated_at`

const nextTargetQuery = `
SELECT ` + targetColumns + `
FROM url u
LEFT JOIN sessions s ON s.url_id = u.id
GROUP BY u.id
HAVING COALESCE(MAX(s.result), 0) <= $1
ORDER BY COUNT(s.id), u.id
LIMIT 1`

// Next returns the non-terminal target with the fewest sessions.
func (s *Store) Next(ctx context.Context) (visitor.Target, error) {
	target, err := scanTarget(s.pool.QueryRow(ctx, nextTargetQuery, s.threshold))
	if errors.Is(err, pgx.ErrNoRows) {
		return visitor.Target{}, visitor.ErrNoTarget
	}
	if err != nil {
		return visitor.Target{}, fmt.Errorf("select next target: %w", err)
	}
	return target, nil
}

// Get fetches a target by ID.
func (s *Store) Get(ctx context.Context, id int64) (visitor.Target, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM url u WHERE u.id = $1`, id)
	target, err := scanTarget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return visitor.Target{}, fmt.Errorf("target %d: %w", id, visitor.ErrNotFound)
	}
	if err != nil {
		return visitor.Target{}, fmt.Errorf("get target %d: %w", id, err)
	}
	return target, nil
}

// BulkInsert inserts targets in one transaction. Optional columns are only
// written when present; an explicit null is stored as NULL.
func (s *Store) BulkInsert(ctx context.Context, targets []visitor.Target) (err error) {
	if len(targets) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin bulk insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, target := range targets {
		query, args := insertTarget(target)
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert target %s: %w", target, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bulk insert: %w", err)
	}
	return nil
}

func insertTarget(t visitor.Target) (string, []any) {
	cols := []string{"scheme", "host", "path", "query", "fragment", "invalid"}
	args := []any{t.Scheme, t.Host, t.Path, t.Query, t.Fragment, t.Invalid}
	if id, ok := t.ID.Get(); ok {
		cols = append(cols, "id")
		args = append(args, id)
	}
	if t.CreatedAt.Present() {
		cols = append(cols, "created_at")
		args = append(args, t.CreatedAt.Ptr())
	}
	if t.UpdatedAt.Present() {
		cols = append(cols, "updated_at")
		args = append(args, t.UpdatedAt.Ptr())
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO url (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return query, args
}

// MarkInvalid flags a target as invalid.
func (s *Store) MarkInvalid(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE url SET invalid = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark target %d invalid: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("target %d: %w", id, visitor.ErrNotFound)
	}
	return nil
}

// Create inserts a new session row.
func (s *Store) Create(ctx context.Context, sess *visitor.Session) error {
	query := `
INSERT INTO sessions (id, url_id, start_time, end_time, state, response_code, result)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.pool.Exec(ctx, query, sessionArgs(sess)...); err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

// Save upserts the session by ID.
func (s *Store) Save(ctx context.Context, sess *visitor.Session) error {
	query := `
INSERT INTO sessions (id, url_id, start_time, end_time, state, response_code, result)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	url_id = EXCLUDED.url_id,
	start_time = EXCLUDED.start_time,
	end_time = EXCLUDED.end_time,
	state = EXCLUDED.state,
	response_code = EXCLUDED.response_code,
	result = EXCLUDED.result`
	if _, err := s.pool.Exec(ctx, query, sessionArgs(sess)...); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func sessionArgs(sess *visitor.Session) []any {
	return []any{
		sess.ID,
		sess.TargetID,
		sess.StartTime,
		sess.EndTime,
		string(sess.State),
		sess.ResponseCode,
		sess.Result,
	}
}

// ListByTarget returns the sessions recorded for a target, oldest first.
func (s *Store) ListByTarget(ctx context.Context, targetID int64) ([]visitor.Session, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, url_id, start_time, end_time, state, response_code, result
FROM sessions
WHERE url_id = $1
ORDER BY start_time, id`, targetID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for target %d: %w", targetID, err)
	}
	defer rows.Close()

	var out []visitor.Session
	for rows.Next() {
		var (
			sess  visitor.Session
			state string
		)
		if err := rows.Scan(
			&sess.ID,
			&sess.TargetID,
			&sess.StartTime,
			&sess.EndTime,
			&state,
			&sess.ResponseCode,
			&sess.Result,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.State = visitor.State(state)
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func scanTarget(row pgx.Row) (visitor.Target, error) {
	var (
		t                visitor.Target
		id               int64
		created, updated *time.Time
	)
	if err := row.Scan(&id, &t.Scheme, &t.Host, &t.Path, &t.Query, &t.Fragment, &t.Invalid, &created, &updated); err != nil {
		return visitor.Target{}, err
	}
	t.ID = visitor.Value(id)
	t.CreatedAt = visitor.FromPtr(created)
	t.UpdatedAt = visitor.FromPtr(updated)
	return t, nil
}
