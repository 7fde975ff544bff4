package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertTargets(t *testing.T, store *Store, raws ...string) []visitor.Target {
	t.Helper()
	ctx := context.Background()
	batch := make([]visitor.Target, 0, len(raws))
	for _, raw := range raws {
		target, err := visitor.ParseTarget(raw)
		require.NoError(t, err)
		batch = append(batch, target)
	}
	require.NoError(t, store.BulkInsert(ctx, batch))

	out := make([]visitor.Target, 0, len(raws))
	for i := range raws {
		target, err := store.Get(ctx, int64(i+1))
		require.NoError(t, err)
		out = append(out, target)
	}
	return out
}

func recordSession(t *testing.T, store *Store, id string, target visitor.Target, start time.Time, result *int) {
	t.Helper()
	sess, err := visitor.NewSession(id, target, start)
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), &sess))
	if result != nil {
		sess.SetResult(*result)
		require.NoError(t, store.Save(context.Background(), &sess))
	}
}

func ptr(v int) *int { return &v }

func TestNextPrefersFewestNonTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	targets := insertTargets(t, store,
		"https://t1.example.com/",
		"https://t2.example.com/",
		"https://t3.example.com/",
	)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	recordSession(t, store, "t2-a", targets[1], base, ptr(500))
	recordSession(t, store, "t2-b", targets[1], base.Add(time.Minute), ptr(200))
	recordSession(t, store, "t3-a", targets[2], base, ptr(650))

	next, err := store.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1.example.com", next.Host)

	recordSession(t, store, "t1-a", targets[0], base, nil)
	recordSession(t, store, "t1-b", targets[0], base.Add(time.Minute), nil)
	recordSession(t, store, "t1-c", targets[0], base.Add(2*time.Minute), nil)

	next, err = store.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t2.example.com", next.Host, "terminal t3 is never selected")
}

func TestNextEmpty(t *testing.T) {
	t.Parallel()

	_, err := newStore(t).Next(context.Background())
	require.ErrorIs(t, err, visitor.ErrNoTarget)
}

func TestBulkInsertNullVersusAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	absent, err := visitor.ParseTarget("https://example.com/a?x=1#frag")
	require.NoError(t, err)
	explicit, err := visitor.ParseTarget("https://example.com/b")
	require.NoError(t, err)
	explicit.ID = visitor.Value[int64](10)
	explicit.CreatedAt = visitor.Null[time.Time]()
	stamp := time.Date(2023, 12, 24, 18, 30, 0, 123000000, time.UTC)
	explicit.UpdatedAt = visitor.Value(stamp)

	require.NoError(t, store.BulkInsert(ctx, []visitor.Target{absent, explicit}))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a?x=1#frag", got.String())
	assert.False(t, got.Invalid)
	_, ok := got.CreatedAt.Get()
	assert.True(t, ok, "absent created_at falls back to the column default")

	got, err = store.Get(ctx, 10)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.IsNull(), "explicit null is stored as NULL")
	assert.True(t, stamp.Equal(got.UpdatedAt.OrZero()))
}

func TestBulkInsertIsAtomic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	insertTargets(t, store, "https://example.com/")

	dup, err := visitor.ParseTarget("https://example.com/dup")
	require.NoError(t, err)
	dup.ID = visitor.Value[int64](1)
	fresh, err := visitor.ParseTarget("https://example.com/fresh")
	require.NoError(t, err)

	require.Error(t, store.BulkInsert(ctx, []visitor.Target{fresh, dup}))
	_, err = store.Get(ctx, 2)
	require.ErrorIs(t, err, visitor.ErrNotFound)
}

func TestMarkInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	insertTargets(t, store, "https://example.com/")

	require.NoError(t, store.MarkInvalid(ctx, 1))
	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Invalid)

	require.ErrorIs(t, store.MarkInvalid(ctx, 2), visitor.ErrNotFound)
}

func TestSaveIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	targets := insertTargets(t, store, "https://example.com/")

	start := time.Date(2024, 5, 1, 9, 0, 0, 5, time.UTC)
	sess, err := visitor.NewSession("s-1", targets[0], start)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, &sess))
	require.Error(t, store.Create(ctx, &sess), "create does not overwrite")

	end := start.Add(1500 * time.Millisecond)
	require.NoError(t, sess.Advance(visitor.StateDispatched))
	require.NoError(t, sess.Advance(visitor.StateFetched))
	sess.EndTime = &end
	sess.ResponseCode = ptr(404)
	sess.SetResult(800)
	require.NoError(t, sess.Advance(visitor.StateFetchedInvalid))

	require.NoError(t, store.Save(ctx, &sess))
	first, err := store.ListByTarget(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, &sess))
	second, err := store.ListByTarget(ctx, 1)
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, visitor.StateFetchedInvalid, second[0].State)
	assert.True(t, start.Equal(second[0].StartTime))
	assert.True(t, end.Equal(*second[0].EndTime))
	assert.Equal(t, 404, *second[0].ResponseCode)
	assert.Equal(t, 800, *second[0].Result)
}

func TestListByTargetOrdersByStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	targets := insertTargets(t, store, "https://example.com/")
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	recordSession(t, store, "late", targets[0], base.Add(500*time.Millisecond), nil)
	recordSession(t, store, "early", targets[0], base, nil)

	list, err := store.ListByTarget(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].ID)
	assert.Nil(t, list[0].Result)
	assert.Nil(t, list[0].EndTime)
}

func TestCreateRejectsUnknownTarget(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	sess := visitor.Session{ID: "orphan", TargetID: 99, StartTime: time.Now(), State: visitor.StateCreated}
	require.Error(t, store.Create(context.Background(), &sess))
}

func TestPingAfterClose(t *testing.T) {
	t.Parallel()

	store, err := New(context.Background(), ":memory:", 0)
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Close())
	require.Error(t, store.Ping(context.Background()))
}
