package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gentlevisitor/internal/policy/simple"
	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

type countingController struct {
	simple.Controller
	calls int
}

func (c *countingController) CanRun(context.Context, visitor.Target, visitor.Proxy, []visitor.Session, visitor.Handle) bool {
	c.calls++
	return true
}

func target(t *testing.T, raw string) visitor.Target {
	t.Helper()
	tg, err := visitor.ParseTarget(raw)
	require.NoError(t, err)
	return tg
}

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func session(id, host string, state visitor.State, code int) visitor.Session {
	sess := visitor.Session{ID: id, State: state, Target: visitor.Target{Scheme: "https", Host: host}}
	if code > 0 {
		sess.ResponseCode = &code
	}
	return sess
}

func TestCanRunRateLimitsPerHost(t *testing.T) {
	t.Parallel()

	inner := &countingController{}
	c := New(inner, Config{DefaultRPS: 0.001, DefaultBurst: 1}, nil)
	ctx := context.Background()

	require.True(t, c.CanRun(ctx, target(t, "https://a.com/1"), nil, nil, nil))
	require.False(t, c.CanRun(ctx, target(t, "https://a.com/2"), nil, nil, nil))
	require.True(t, c.CanRun(ctx, target(t, "https://b.com/1"), nil, nil, nil), "hosts are limited independently")
	require.Equal(t, 2, inner.calls)
}

func TestCanRunUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	c := New(&countingController{}, Config{}, nil)
	for i := 0; i < 50; i++ {
		require.True(t, c.CanRun(context.Background(), target(t, "https://a.com/"), nil, nil, nil))
	}
}

func TestCanRunBacksOffAfterFailureStreak(t *testing.T) {
	t.Parallel()

	c := New(&countingController{}, Config{FailureStreak: 2}, nil)
	ctx := context.Background()
	tg := target(t, "https://flaky.com/")

	recent := []visitor.Session{
		session("s-1", "flaky.com", visitor.StateFailedToFetch, 0),
		session("s-2", "other.com", visitor.StateFetchedValid, 200),
	}
	assert.True(t, c.CanRun(ctx, tg, nil, recent, nil), "one failure is below the streak")

	recent = append(recent, session("s-3", "flaky.com", visitor.StateFetchedNeedsRetry, 503))
	assert.False(t, c.CanRun(ctx, tg, nil, recent, nil))
	assert.True(t, c.CanRun(ctx, target(t, "https://other.com/"), nil, recent, nil), "other hosts are unaffected")

	recent = append(recent, session("s-4", "FLAKY.com", visitor.StateFetchedValid, 200))
	assert.True(t, c.CanRun(ctx, tg, nil, recent, nil), "a success resets the streak")
}

func TestFailureStreakCooldownExpires(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
	c := New(&countingController{}, Config{FailureStreak: 2, Cooldown: time.Minute, Clock: clock}, nil)
	ctx := context.Background()
	tg := target(t, "https://flaky.com/")
	recent := []visitor.Session{
		session("s-1", "flaky.com", visitor.StateFailedToFetch, 0),
		session("s-2", "flaky.com", visitor.StateFailedToFetch, 0),
	}

	require.False(t, c.CanRun(ctx, tg, nil, recent, nil))
	clock.Advance(59 * time.Second)
	require.False(t, c.CanRun(ctx, tg, nil, recent, nil), "still cooling down")

	clock.Advance(time.Second)
	require.True(t, c.CanRun(ctx, tg, nil, recent, nil), "one attempt once the cooldown elapses")
	require.False(t, c.CanRun(ctx, tg, nil, recent, nil), "only one attempt per cooldown")

	recent = append(recent, session("s-3", "flaky.com", visitor.StateFetchedNeedsRetry, 502))
	clock.Advance(30 * time.Second)
	require.False(t, c.CanRun(ctx, tg, nil, recent, nil), "a new failure restarts the cooldown")
	clock.Advance(time.Minute)
	require.True(t, c.CanRun(ctx, tg, nil, recent, nil))

	recent = append(recent, session("s-4", "flaky.com", visitor.StateFetchedValid, 200))
	require.True(t, c.CanRun(ctx, tg, nil, recent, nil))
	require.True(t, c.CanRun(ctx, tg, nil, recent, nil), "recovered hosts run every cycle")
}

func TestDelegatesHooks(t *testing.T) {
	t.Parallel()

	c := New(&countingController{}, Config{}, nil)
	err := c.OnFetch(context.Background(), &visitor.Session{ID: "s-1"}, nil)
	require.ErrorContains(t, err, "no response code")
}
