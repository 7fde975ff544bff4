// Package sqlite provides target and session stores backed by SQLite (modernc.org/sqlite).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/gentlevisitor/internal/database"
	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements visitor.TargetStore and visitor.SessionStore on SQLite.
type Store struct {
	db        *sql.DB
	threshold int
}

// New opens the database named by dsn and applies migrations.
func New(ctx context.Context, dsn string, threshold int) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := database.MigrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if threshold <= 0 {
		threshold = visitor.DefaultTerminalThreshold
	}
	return &Store{db: db, threshold: threshold}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

const targetColumns = `u.id, u.scheme, u.host, u.path, u.query, u.fragment, u.invalid, u.created_at, u.updated_at`

// Next returns the non-terminal target with the fewest sessions.
func (s *Store) Next(ctx context.Context) (visitor.Target, error) {
	query := `
SELECT ` + targetColumns + `
FROM url u
LEFT JOIN sessions s ON s.url_id = u.id
GROUP BY u.id
HAVING COALESCE(MAX(s.result), 0) <= ?
ORDER BY COUNT(s.id), u.id
LIMIT 1`
	target, err := scanTarget(s.db.QueryRowContext(ctx, query, s.threshold))
	if errors.Is(err, sql.ErrNoRows) {
		return visitor.Target{}, visitor.ErrNoTarget
	}
	if err != nil {
		return visitor.Target{}, fmt.Errorf("select next target: %w", err)
	}
	return target, nil
}

// Get fetches a target by ID.
func (s *Store) Get(ctx context.Context, id int64) (visitor.Target, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM url u WHERE u.id = ?`, id)
	target, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return visitor.Target{}, fmt.Errorf("target %d: %w", id, visitor.ErrNotFound)
	}
	if err != nil {
		return visitor.Target{}, fmt.Errorf("get target %d: %w", id, err)
	}
	return target, nil
}

// BulkInsert inserts targets in one transaction. Optional columns are only
// written when present; an explicit null is stored as NULL.
func (s *Store) BulkInsert(ctx context.Context, targets []visitor.Target) error {
	if len(targets) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, target := range targets {
		query, args := insertTarget(target)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert target %s: %w", target, err)
		}
	}
	if err := tx.Commit(); err != nil {
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
		args = append(args, formatTime(t.CreatedAt.Ptr()))
	}
	if t.UpdatedAt.Present() {
		cols = append(cols, "updated_at")
		args = append(args, formatTime(t.UpdatedAt.Ptr()))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO url (%s) VALUES (%s)", strings.Join(cols, ", "), placeholders)
	return query, args
}

// MarkInvalid flags a target as invalid.
func (s *Store) MarkInvalid(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE url SET invalid = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("mark target %d invalid: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("target %d: %w", id, visitor.ErrNotFound)
	}
	return nil
}

// Create inserts a new session row.
func (s *Store) Create(ctx context.Context, sess *visitor.Session) error {
	query := `
INSERT INTO sessions (id, url_id, start_time, end_time, state, response_code, result)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, sessionArgs(sess)...); err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

// Save upserts the session by ID.
func (s *Store) Save(ctx context.Context, sess *visitor.Session) error {
	query := `
INSERT INTO sessions (id, url_id, start_time, end_time, state, response_code, result)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	url_id = excluded.url_id,
	start_time = excluded.start_time,
	end_time = excluded.end_time,
	state = excluded.state,
	response_code = excluded.response_code,
	result = excluded.result`
	if _, err := s.db.ExecContext(ctx, query, sessionArgs(sess)...); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func sessionArgs(sess *visitor.Session) []any {
	return []any{
		sess.ID,
		sess.TargetID,
		sess.StartTime.UTC().Format(timeLayout),
		formatTime(sess.EndTime),
		string(sess.State),
		nullInt(sess.ResponseCode),
		nullInt(sess.Result),
	}
}

// ListByTarget returns the sessions recorded for a target, oldest first.
func (s *Store) ListByTarget(ctx context.Context, targetID int64) ([]visitor.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, url_id, start_time, end_time, state, response_code, result
FROM sessions
WHERE url_id = ?
ORDER BY start_time, id`, targetID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for target %d: %w", targetID, err)
	}
	defer rows.Close()

	var out []visitor.Session
	for rows.Next() {
		var (
			sess               visitor.Session
			start, state       string
			end                sql.NullString
			responseCode, code sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &sess.TargetID, &start, &end, &state, &responseCode, &code); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sess.StartTime, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, fmt.Errorf("parse start_time: %w", err)
		}
		if sess.EndTime, err = parseTime(end); err != nil {
			return nil, fmt.Errorf("parse end_time: %w", err)
		}
		sess.State = visitor.State(state)
		sess.ResponseCode = intPtr(responseCode)
		sess.Result = intPtr(code)
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func scanTarget(row *sql.Row) (visitor.Target, error) {
	var (
		t                visitor.Target
		id               int64
		created, updated sql.NullString
	)
	if err := row.Scan(&id, &t.Scheme, &t.Host, &t.Path, &t.Query, &t.Fragment, &t.Invalid, &created, &updated); err != nil {
		return visitor.Target{}, err
	}
	t.ID = visitor.Value(id)
	createdAt, err := parseTime(created)
	if err != nil {
		return visitor.Target{}, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := parseTime(updated)
	if err != nil {
		return visitor.Target{}, fmt.Errorf("parse updated_at: %w", err)
	}
	t.CreatedAt = visitor.FromPtr(createdAt)
	t.UpdatedAt = visitor.FromPtr(updatedAt)
	return t, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
