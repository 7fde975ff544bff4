// Package simple provides a permissive controller that records the response code as the result.
package simple

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// Controller always runs and stores the HTTP status as the session result.
type Controller struct{}

// New creates a new Controller.
func New() *Controller {
	return &Controller{}
}

// CanRun always returns true.
func (Controller) CanRun(_ context.Context, _ visitor.Target, _ visitor.Proxy, _ []visitor.Session, _ visitor.Handle) bool {
	return true
}

// OnFetch sets the result to the response code, annotates the state and persists the session.
func (Controller) OnFetch(ctx context.Context, sess *visitor.Session, h visitor.Handle) error {
	if sess.ResponseCode == nil {
		return fmt.Errorf("session %s has no response code", sess.ID)
	}
	code := *sess.ResponseCode
	sess.SetResult(code)
	if err := sess.Advance(Annotate(code)); err != nil {
		return fmt.Errorf("annotate session: %w", err)
	}
	if err := h.Sessions().Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// OnError logs the failure.
func (Controller) OnError(_ context.Context, err error, sess *visitor.Session, h visitor.Handle) {
	fields := []zap.Field{zap.Error(err)}
	if sess != nil {
		fields = append(fields, zap.String("session_id", sess.ID))
	}
	h.Logger().Warn("crawl error", fields...)
}

// Annotate maps a status code to the fetched_* state for its class.
func Annotate(code int) visitor.State {
	switch {
	case code >= 200 && code < 400:
		return visitor.StateFetchedValid
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return visitor.StateFetchedNeedsRetry
	default:
		return visitor.StateFetchedInvalid
	}
}
