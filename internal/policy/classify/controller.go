// Package classify provides a controller that turns response codes into terminal or retry results.
package classify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// Result codes above visitor.DefaultTerminalThreshold stop further selection of a target.
const (
	ResultValid   = 700
	ResultInvalid = 800
)

// Controller classifies fetched pages so that good and dead URLs are not revisited.
type Controller struct {
	logger *zap.Logger
}

// New creates a Controller.
func New(logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{logger: logger}
}

// CanRun always returns true.
func (c *Controller) CanRun(_ context.Context, _ visitor.Target, _ visitor.Proxy, _ []visitor.Session, _ visitor.Handle) bool {
	return true
}

// OnFetch assigns the classified result and persists the session. Gone targets are flagged invalid.
func (c *Controller) OnFetch(ctx context.Context, sess *visitor.Session, h visitor.Handle) error {
	if sess.ResponseCode == nil {
		return fmt.Errorf("session %s has no response code", sess.ID)
	}
	result, state := Classify(*sess.ResponseCode)
	if result == ResultValid && sess.Response != nil && SoftNotFound(sess.Response.Body) {
		result, state = ResultInvalid, visitor.StateFetchedInvalid
	}
	sess.SetResult(result)
	if err := sess.Advance(state); err != nil {
		return fmt.Errorf("annotate session: %w", err)
	}
	if err := h.Sessions().Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if result == ResultInvalid {
		if err := h.Targets().MarkInvalid(ctx, sess.TargetID); err != nil {
			return fmt.Errorf("mark target invalid: %w", err)
		}
		c.logger.Info("target marked invalid",
			zap.Int64("url_id", sess.TargetID),
			zap.Int("status", *sess.ResponseCode),
		)
	}
	return nil
}

// OnError logs the failure against the session, if any.
func (c *Controller) OnError(_ context.Context, err error, sess *visitor.Session, _ visitor.Handle) {
	if sess == nil {
		c.logger.Warn("crawl error", zap.Error(err))
		return
	}
	c.logger.Warn("crawl error",
		zap.Error(err),
		zap.String("session_id", sess.ID),
		zap.Int64("url_id", sess.TargetID),
		zap.String("state", string(sess.State)),
	)
}

// Classify maps an HTTP status to a session result and annotation.
func Classify(code int) (int, visitor.State) {
	switch {
	case code >= 200 && code < 300:
		return ResultValid, visitor.StateFetchedValid
	case code == http.StatusNotFound, code == http.StatusGone:
		return ResultInvalid, visitor.StateFetchedInvalid
	default:
		// Throttling, server errors and redirects stay eligible for another attempt.
		return code, visitor.StateFetchedNeedsRetry
	}
}

var notFoundPhrases = []string{
	"404",
	"not found",
	"no longer available",
	"does not exist",
}

// SoftNotFound reports whether an HTML body that came back with a success status
// is really an error page, judged by its title and top-level headings.
func SoftNotFound(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	found := false
	doc.Find("title, h1").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		for _, phrase := range notFoundPhrases {
			if strings.Contains(text, phrase) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}
