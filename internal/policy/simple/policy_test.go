package simple

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/gentlevisitor/internal/storage/memory"
	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

type handle struct {
	store  *memory.Store
	logger *zap.Logger
}

func (h handle) Sessions() visitor.SessionStore { return h.store }
func (h handle) Targets() visitor.TargetStore   { return h.store }
func (h handle) History() []visitor.Session     { return nil }
func (h handle) InFlight() int                  { return 0 }
func (h handle) Logger() *zap.Logger            { return h.logger }

func fetchedSession(t *testing.T, store *memory.Store, code int) *visitor.Session {
	t.Helper()
	target, err := visitor.ParseTarget("https://example.com/item")
	require.NoError(t, err)
	require.NoError(t, store.BulkInsert(context.Background(), []visitor.Target{target}))
	target, err = store.Get(context.Background(), 1)
	require.NoError(t, err)

	sess, err := visitor.NewSession("s-1", target, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), &sess))
	require.NoError(t, sess.Advance(visitor.StateDispatched))
	require.NoError(t, sess.Advance(visitor.StateFetched))
	sess.ResponseCode = &code
	return &sess
}

func TestControllerAlwaysRuns(t *testing.T) {
	t.Parallel()

	assert.True(t, New().CanRun(context.Background(), visitor.Target{}, nil, nil, nil))
}

func TestOnFetchStoresResponseCode(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(0)
	sess := fetchedSession(t, store, 503)

	require.NoError(t, New().OnFetch(context.Background(), sess, handle{store: store}))

	list, err := store.ListByTarget(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 503, *list[0].Result)
	require.Equal(t, visitor.StateFetchedNeedsRetry, list[0].State)
}

func TestOnFetchRequiresResponseCode(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(0)
	sess := fetchedSession(t, store, 200)
	sess.ResponseCode = nil
	require.Error(t, New().OnFetch(context.Background(), sess, handle{store: store}))
}

func TestOnErrorLogs(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	h := handle{logger: zap.New(core)}
	New().OnError(context.Background(), errors.New("boom"), &visitor.Session{ID: "s-9"}, h)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "crawl error", entry.Message)
	require.Equal(t, "s-9", entry.ContextMap()["session_id"])
}

func TestAnnotate(t *testing.T) {
	t.Parallel()

	tests := map[int]visitor.State{
		200: visitor.StateFetchedValid,
		301: visitor.StateFetchedValid,
		404: visitor.StateFetchedInvalid,
		408: visitor.StateFetchedNeedsRetry,
		429: visitor.StateFetchedNeedsRetry,
		500: visitor.StateFetchedNeedsRetry,
	}
	for code, want := range tests {
		assert.Equal(t, want, Annotate(code), "code %d", code)
	}
}
