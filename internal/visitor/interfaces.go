package visitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TargetSelector picks the next target to visit.
type TargetSelector interface {
	// Next returns the eligible target with the fewest attempts, or ErrNoTarget.
	Next(ctx context.Context) (Target, error)
}

// TargetStore persists crawl targets.
type TargetStore interface {
	TargetSelector
	BulkInsert(ctx context.Context, targets []Target) error
	Get(ctx context.Context, id int64) (Target, error)
	MarkInvalid(ctx context.Context, id int64) error
}

// SessionStore persists session records.
type SessionStore interface {
	// Create inserts a new session row.
	Create(ctx context.Context, sess *Session) error
	// Save upserts the session keyed by its identifier.
	Save(ctx context.Context, sess *Session) error
	ListByTarget(ctx context.Context, targetID int64) ([]Session, error)
}

// Fetcher executes one network fetch.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Handle is the view of the running scheduler given to controllers.
type Handle interface {
	Sessions() SessionStore
	Targets() TargetStore
	History() []Session
	InFlight() int
	Logger() *zap.Logger
}

// Controller is the policy hook plugged into the scheduling loop.
type Controller interface {
	// CanRun gates a cycle for the selected target and proxy.
	CanRun(ctx context.Context, target Target, proxy Proxy, recent []Session, h Handle) bool
	// OnFetch must set the session result, annotate its state, and persist it.
	OnFetch(ctx context.Context, sess *Session, h Handle) error
	// OnError receives every failure of a cycle. sess may be nil.
	OnError(ctx context.Context, err error, sess *Session, h Handle)
}

// Publisher announces completed sessions to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
