package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gentlevisitor/internal/metrics"
	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// dispatch runs the fetch for sess on its own goroutine. The caller must
// already hold one slot; it is released when the fetch completes.
func (s *Scheduler) dispatch(ctx context.Context, sess *visitor.Session, proxy visitor.Proxy) {
	s.wg.Add(1)
	s.inFlight.Add(1)
	metrics.IncInFlight()

	// In-flight fetches drain on shutdown; the fetcher's own timeout bounds them.
	fetchCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			s.inFlight.Add(-1)
			metrics.DecInFlight()
			s.slots.Release(1)
			s.wg.Done()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				metrics.ObservePanic()
				s.report(fetchCtx, fmt.Errorf("fetch panic: %v", rec), sess)
			}
		}()
		s.execute(fetchCtx, sess, proxy)
	}()
}

func (s *Scheduler) execute(ctx context.Context, sess *visitor.Session, proxy visitor.Proxy) {
	logger := s.logger.With(
		zap.String("session_id", sess.ID),
		zap.String("url", sess.Target.String()),
	)

	if err := s.advance(ctx, sess, visitor.StateDispatched); err != nil {
		s.report(ctx, err, sess)
		return
	}

	request := visitor.FetchRequest{
		URL:     sess.Target.String(),
		Headers: http.Header{},
		Proxy:   proxy,
	}
	request.Headers.Set("User-Agent", s.deps.Identities.Next())

	resp, fetchErr := s.deps.Fetcher.Fetch(ctx, request)
	end := s.deps.Clock.Now()
	sess.EndTime = &end

	if fetchErr != nil {
		logger.Warn("fetch failed", zap.Error(fetchErr))
		if err := s.advance(ctx, sess, visitor.StateFailedToFetch); err != nil {
			s.report(ctx, err, sess)
		}
		s.report(ctx, &visitor.FetchError{URL: request.URL, Err: fetchErr}, sess)
		s.complete(ctx, sess, 0)
		return
	}

	code := resp.StatusCode
	sess.ResponseCode = &code
	sess.Response = &resp
	if err := sess.Advance(visitor.StateFetched); err != nil {
		s.report(ctx, err, sess)
		return
	}
	logger.Info("fetched", zap.Int("status", code), zap.Duration("duration", resp.Duration))

	if err := s.onFetch(ctx, sess); err != nil {
		s.report(ctx, fmt.Errorf("controller on fetch: %w", err), sess)
	}
	s.complete(ctx, sess, resp.Duration)
}

// advance moves sess to next and persists it.
func (s *Scheduler) advance(ctx context.Context, sess *visitor.Session, next visitor.State) error {
	if err := sess.Advance(next); err != nil {
		return err
	}
	if err := s.deps.Sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session %s as %s: %w", sess.ID, next, err)
	}
	return nil
}

func (s *Scheduler) onFetch(ctx context.Context, sess *visitor.Session) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ObservePanic()
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.deps.Controller.OnFetch(ctx, sess, s)
}

// complete records the finished attempt and announces it downstream.
func (s *Scheduler) complete(ctx context.Context, sess *visitor.Session, took time.Duration) {
	s.deps.History.Record(*sess)
	sess.Response = nil
	metrics.ObserveSession(sess.Target.Host, string(sess.State), took)

	if s.deps.Publisher == nil || s.cfg.Topic == "" {
		return
	}
	id, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, sess.Snapshot())
	if err != nil {
		s.logger.Warn("publish session failed", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	s.logger.Debug("session published", zap.String("session_id", sess.ID), zap.String("message_id", id))
}
