// Package scheduler drives the crawl loop: window gate, target selection,
// controller gate, session creation and bounded fetch dispatch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/gentlevisitor/internal/history"
	"github.com/JakeFAU/gentlevisitor/internal/metrics"
	"github.com/JakeFAU/gentlevisitor/internal/rotation"
	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// DefaultPollInterval is how long the loop waits when the window is closed or the backlog is empty.
const DefaultPollInterval = time.Second

// ActivityWindow decides whether crawling is permitted at a given instant.
type ActivityWindow interface {
	Active(now time.Time) bool
}

// Config controls Scheduler behavior.
type Config struct {
	// Every is the pause after each active cycle.
	Every time.Duration
	// PollInterval is the pause after an inactive cycle.
	PollInterval time.Duration
	// MaxInFlight bounds concurrently running fetches. When the bound is
	// reached the cycle skips dispatch rather than blocking.
	MaxInFlight int
	// Topic receives completed-session notifications when a Publisher is set.
	Topic string
}

// Deps groups the collaborators composed by the Scheduler.
type Deps struct {
	Window     ActivityWindow
	Targets    visitor.TargetStore
	Sessions   visitor.SessionStore
	Proxies    *rotation.ProxyPool
	Identities *rotation.IdentityPool
	History    *history.Trail
	Controller visitor.Controller
	Fetcher    visitor.Fetcher
	Clock      visitor.Clock
	IDs        visitor.IDGenerator
	Publisher  visitor.Publisher
}

// Scheduler is the forever-running control loop.
type Scheduler struct {
	deps     Deps
	cfg      Config
	slots    *semaphore.Weighted
	inFlight atomic.Int64
	wg       sync.WaitGroup
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs a Scheduler.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	switch {
	case deps.Window == nil:
		return nil, errors.New("activity window is required")
	case deps.Targets == nil:
		return nil, errors.New("target store is required")
	case deps.Sessions == nil:
		return nil, errors.New("session store is required")
	case deps.Controller == nil:
		return nil, errors.New("controller is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if cfg.Every < 0 {
		return nil, fmt.Errorf("repeat interval must be >= 0, got %v", cfg.Every)
	}
	if cfg.MaxInFlight <= 0 {
		return nil, fmt.Errorf("max in-flight fetches must be > 0, got %d", cfg.MaxInFlight)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if deps.History == nil {
		deps.History = history.New(history.DefaultCapacity)
	}
	if deps.Identities == nil {
		deps.Identities = rotation.NewIdentityPool(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Scheduler{
		deps:   deps,
		cfg:    cfg,
		slots:  semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		logger: logger,
		sleep:  sleepContext,
	}, nil
}

// Run loops until ctx is cancelled, then waits for in-flight fetches to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Duration("every", s.cfg.Every),
		zap.Int("max_in_flight", s.cfg.MaxInFlight),
	)
	for {
		wait := s.Cycle(ctx)
		if err := s.sleep(ctx, wait); err != nil {
			break
		}
	}
	s.logger.Info("scheduler stopping", zap.Int("in_flight", s.InFlight()))
	s.Wait()
	s.logger.Info("scheduler stopped")
}

// Cycle runs a single scheduling decision and returns how long to sleep before the next one.
func (s *Scheduler) Cycle(ctx context.Context) (wait time.Duration) {
	var (
		sess *visitor.Session
		held bool
	)
	defer func() {
		if rec := recover(); rec != nil {
			if held {
				s.slots.Release(1)
			}
			metrics.ObservePanic()
			metrics.ObserveCycle(metrics.CycleError)
			s.report(ctx, fmt.Errorf("cycle panic: %v", rec), sess)
			wait = s.cfg.Every
		}
	}()

	now := s.deps.Clock.Now()
	if !s.deps.Window.Active(now) {
		metrics.ObserveCycle(metrics.CycleInactive)
		return s.cfg.PollInterval
	}

	target, err := s.deps.Targets.Next(ctx)
	if errors.Is(err, visitor.ErrNoTarget) {
		s.logger.Debug("no target available")
		metrics.ObserveCycle(metrics.CycleNoTarget)
		return s.cfg.PollInterval
	}
	if err != nil {
		metrics.ObserveCycle(metrics.CycleError)
		s.report(ctx, fmt.Errorf("select target: %w", err), nil)
		return s.cfg.Every
	}

	proxy, _ := s.deps.Proxies.Next()
	logger := s.logger.With(zap.String("url", target.String()))

	if !s.deps.Controller.CanRun(ctx, target, proxy, s.deps.History.Recent(), s) {
		logger.Info("controller declined cycle")
		metrics.ObserveCycle(metrics.CycleDeclined)
		return s.cfg.Every
	}

	// Slots are taken before the session row exists so a skipped cycle leaves no record behind.
	if !s.slots.TryAcquire(1) {
		logger.Warn("fetch slots exhausted; skipping dispatch", zap.Int("in_flight", s.InFlight()))
		metrics.ObserveCycle(metrics.CycleSaturated)
		return s.cfg.Every
	}
	held = true

	sess, err = s.createSession(ctx, target, now)
	if err != nil {
		held = false
		s.slots.Release(1)
		metrics.ObserveCycle(metrics.CycleError)
		s.report(ctx, err, nil)
		return s.cfg.Every
	}
	logger.Info("session created", zap.String("session_id", sess.ID))

	held = false
	s.dispatch(ctx, sess, proxy)
	metrics.ObserveCycle(metrics.CycleDispatched)
	return s.cfg.Every
}

func (s *Scheduler) createSession(ctx context.Context, target visitor.Target, now time.Time) (*visitor.Session, error) {
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	sess, err := visitor.NewSession(id, target, now)
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	if err := s.deps.Sessions.Create(ctx, &sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// report hands an error to the controller, shielding the loop from controller panics.
func (s *Scheduler) report(ctx context.Context, err error, sess *visitor.Session) {
	fields := []zap.Field{zap.Error(err)}
	if sess != nil {
		fields = append(fields, zap.String("session_id", sess.ID), zap.String("state", string(sess.State)))
	}
	s.logger.Error("cycle failed", fields...)

	defer func() {
		if rec := recover(); rec != nil {
			metrics.ObservePanic()
			s.logger.Error("controller error hook panicked", zap.Any("panic", rec))
		}
	}()
	s.deps.Controller.OnError(ctx, err, sess, s)
}

// InFlight returns the number of dispatched fetches that have not completed.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// Wait blocks until every dispatched fetch has completed.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Sessions implements visitor.Handle.
func (s *Scheduler) Sessions() visitor.SessionStore { return s.deps.Sessions }

// Targets implements visitor.Handle.
func (s *Scheduler) Targets() visitor.TargetStore { return s.deps.Targets }

// History implements visitor.Handle.
func (s *Scheduler) History() []visitor.Session { return s.deps.History.Recent() }

// Logger implements visitor.Handle.
func (s *Scheduler) Logger() *zap.Logger { return s.logger }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sleep canceled: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
