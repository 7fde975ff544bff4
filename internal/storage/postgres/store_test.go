package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

var targetRowColumns = []string{"id", "scheme", "host", "path", "query", "fragment", "invalid", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, 0)
	require.NoError(t, err)
	return store, mock
}

func TestNextSelectsFewestAttempts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery(`HAVING COALESCE\(MAX\(s.result\), 0\) <= \$1\s+ORDER BY COUNT\(s.id\), u.id\s+LIMIT 1`).
		WithArgs(visitor.DefaultTerminalThreshold).
		WillReturnRows(pgxmock.NewRows(targetRowColumns).
			AddRow(int64(3), "https", "example.com", "/a", "q=1", "", false, &created, &created))

	target, err := store.Next(context.Background())
	require.NoError(t, err)
	id, ok := target.ID.Get()
	require.True(t, ok)
	require.Equal(t, int64(3), id)
	require.Equal(t, "https://example.com/a?q=1", target.String())
	require.Equal(t, created, target.CreatedAt.OrZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextNoRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM url u").
		WithArgs(visitor.DefaultTerminalThreshold).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Next(context.Background())
	require.ErrorIs(t, err, visitor.ErrNoTarget)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM url u WHERE u.id = \$1`).
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), 9)
	require.ErrorIs(t, err, visitor.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertWritesPresentColumnsOnly(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	plain, err := visitor.ParseTarget("https://example.com/a")
	require.NoError(t, err)
	explicit, err := visitor.ParseTarget("http://example.org/b#top")
	require.NoError(t, err)
	explicit.ID = visitor.Value[int64](42)
	explicit.CreatedAt = visitor.Null[time.Time]()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO url \(scheme, host, path, query, fragment, invalid\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs("https", "example.com", "/a", "", "", false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO url \(scheme, host, path, query, fragment, invalid, id, created_at\)`).
		WithArgs("http", "example.org", "/b", "", "top", false, int64(42), (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.BulkInsert(context.Background(), []visitor.Target{plain, explicit}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	target, err := visitor.ParseTarget("https://example.com/")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO url").WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err = store.BulkInsert(context.Background(), []visitor.Target{target})
	require.ErrorContains(t, err, "duplicate key")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInvalid(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE url SET invalid = TRUE").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE url SET invalid = TRUE").
		WithArgs(int64(6)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.MarkInvalid(context.Background(), 5))
	require.ErrorIs(t, store.MarkInvalid(context.Background(), 6), visitor.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUpsertsByID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	code, result := 200, 700
	sess := &visitor.Session{
		ID:           "0190a8e2-0000-7000-8000-000000000001",
		TargetID:     7,
		StartTime:    start,
		State:        visitor.StateFetchedValid,
		ResponseCode: &code,
		Result:       &result,
	}

	for i := 0; i < 2; i++ {
		mock.ExpectExec(`INSERT INTO sessions (.+) ON CONFLICT \(id\) DO UPDATE SET`).
			WithArgs(sess.ID, int64(7), start, (*time.Time)(nil), "fetched_and_valid", &code, &result).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	require.NoError(t, store.Save(context.Background(), sess))
	require.NoError(t, store.Save(context.Background(), sess))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInsertsSession(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	sess := &visitor.Session{ID: "s-1", TargetID: 1, StartTime: time.Unix(0, 0).UTC(), State: visitor.StateCreated}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("s-1", int64(1), sess.StartTime, (*time.Time)(nil), "created", (*int)(nil), (*int)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), sess))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByTarget(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(2 * time.Second)
	code := 503

	mock.ExpectQuery("FROM sessions").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url_id", "start_time", "end_time", "state", "response_code", "result"}).
			AddRow("s-1", int64(7), start, &end, "fetched_needs_retry", &code, &code))

	list, err := store.ListByTarget(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, visitor.StateFetchedNeedsRetry, list[0].State)
	require.Equal(t, end, *list[0].EndTime)
	require.Equal(t, 503, *list[0].Result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewWithPool(nil, 0)
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, 0)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
