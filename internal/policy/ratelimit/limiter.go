// Package ratelimit wraps a controller with per-host token buckets and failure-streak backoff.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// DefaultCooldown is how long a failing host is held back before one more attempt is let through.
const DefaultCooldown = time.Minute

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS is the sustained cycle rate per host. Non-positive means unlimited.
	DefaultRPS   float64
	DefaultBurst int
	// FailureStreak declines a host once this many of its most recent sessions failed. Zero disables it.
	FailureStreak int
	// Cooldown spaces out the attempts let through while a host is on a failure streak.
	// Non-positive uses DefaultCooldown.
	Cooldown time.Duration
	// Clock defaults to the system clock.
	Clock visitor.Clock
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// backoff tracks a tripped failure streak. lastFailure is the newest failed
// session the streak ended on; a new failure restarts the cooldown.
type backoff struct {
	lastFailure string
	until       time.Time
}

// Controller decorates another controller. It declines cycles for hosts that are
// over their rate or whose recent attempts all failed, and delegates everything else.
type Controller struct {
	next   visitor.Controller
	cfg    Config
	logger *zap.Logger

	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	backoffs     map[string]backoff
	defaultRate  rate.Limit
	defaultBurst int
}

// New wraps next.
func New(next visitor.Controller, cfg Config, logger *zap.Logger) *Controller {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	return &Controller{
		next:         next,
		cfg:          cfg,
		logger:       logger,
		limiters:     make(map[string]*rate.Limiter),
		backoffs:     make(map[string]backoff),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// CanRun declines on a failure streak or an empty bucket, otherwise defers to the wrapped controller.
func (c *Controller) CanRun(
	ctx context.Context,
	target visitor.Target,
	proxy visitor.Proxy,
	recent []visitor.Session,
	h visitor.Handle,
) bool {
	host := strings.ToLower(target.Host)
	if c.backingOff(host, recent) {
		return false
	}
	if !c.limiter(host).Allow() {
		c.logger.Debug("host rate limited", zap.String("host", host))
		return false
	}
	return c.next.CanRun(ctx, target, proxy, recent, h)
}

// OnFetch delegates to the wrapped controller.
func (c *Controller) OnFetch(ctx context.Context, sess *visitor.Session, h visitor.Handle) error {
	return c.next.OnFetch(ctx, sess, h)
}

// OnError delegates to the wrapped controller.
func (c *Controller) OnError(ctx context.Context, err error, sess *visitor.Session, h visitor.Handle) {
	c.next.OnError(ctx, err, sess, h)
}

func (c *Controller) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	limiter, exists := c.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(c.defaultRate, c.defaultBurst)
		c.limiters[host] = limiter
	}
	return limiter
}

// backingOff reports whether host must sit this cycle out. A host whose last
// FailureStreak sessions all failed is held for Cooldown, then one attempt is
// let through per Cooldown until a success breaks the streak.
func (c *Controller) backingOff(host string, recent []visitor.Session) bool {
	lastFailure, failing := c.failing(host, recent)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !failing {
		delete(c.backoffs, host)
		return false
	}

	now := c.cfg.Clock.Now()
	b, tripped := c.backoffs[host]
	if !tripped || b.lastFailure != lastFailure {
		c.backoffs[host] = backoff{lastFailure: lastFailure, until: now.Add(c.cfg.Cooldown)}
		c.logger.Info("host backing off after failures",
			zap.String("host", host),
			zap.Int("streak", c.cfg.FailureStreak),
			zap.Duration("cooldown", c.cfg.Cooldown),
		)
		return true
	}
	if now.Before(b.until) {
		return true
	}
	b.until = now.Add(c.cfg.Cooldown)
	c.backoffs[host] = b
	c.logger.Info("cooldown elapsed, retrying host", zap.String("host", host))
	return false
}

// failing reports whether the last FailureStreak sessions for host all failed,
// along with the ID of the newest of them.
func (c *Controller) failing(host string, recent []visitor.Session) (string, bool) {
	if c.cfg.FailureStreak <= 0 {
		return "", false
	}
	var newest string
	seen := 0
	for i := len(recent) - 1; i >= 0 && seen < c.cfg.FailureStreak; i-- {
		if !strings.EqualFold(recent[i].Target.Host, host) {
			continue
		}
		if !failed(recent[i]) {
			return "", false
		}
		if seen == 0 {
			newest = recent[i].ID
		}
		seen++
	}
	return newest, seen == c.cfg.FailureStreak
}

func failed(sess visitor.Session) bool {
	if sess.State == visitor.StateFailedToFetch {
		return true
	}
	if sess.ResponseCode == nil {
		return false
	}
	code := *sess.ResponseCode
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
