// Package visitor defines the core types shared across the crawl agent.
package visitor

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTerminalThreshold is the highest session result that still allows a target to be retried.
const DefaultTerminalThreshold = 600

var (
	// ErrNoTarget is returned by a TargetSelector when nothing is eligible for a visit.
	ErrNoTarget = errors.New("no target available")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a session state would move backwards.
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Target is a crawlable resource decomposed into its URL parts.
type Target struct {
	ID        Field[int64]     `json:"id"`
	Scheme    string           `json:"scheme"`
	Host      string           `json:"host"`
	Path      string           `json:"path"`
	Query     string           `json:"query"`
	Fragment  string           `json:"fragment"`
	Invalid   bool             `json:"invalid"`
	CreatedAt Field[time.Time] `json:"-"`
	UpdatedAt Field[time.Time] `json:"-"`
}

// ParseTarget splits a raw URL into a Target. The host keeps any port.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Target{}, fmt.Errorf("url %q must be absolute", raw)
	}
	return Target{
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     u.EscapedPath(),
		Query:    u.RawQuery,
		Fragment: u.Fragment,
	}, nil
}

// Persisted reports whether the target has been assigned an identifier by a store.
func (t Target) Persisted() bool {
	_, ok := t.ID.Get()
	return ok
}

// String reassembles the target URL.
func (t Target) String() string {
	u := url.URL{
		Scheme:   t.Scheme,
		Host:     t.Host,
		RawQuery: t.Query,
		Fragment: t.Fragment,
	}
	if p, err := url.PathUnescape(t.Path); err == nil {
		u.Path = p
		u.RawPath = t.Path
	} else {
		u.Path = t.Path
	}
	return u.String()
}

// Proxy maps a URL scheme to a proxy address, mirroring requests-style proxy dicts.
type Proxy map[string]string

// URLFor returns the proxy address configured for scheme, if any.
func (p Proxy) URLFor(scheme string) (string, bool) {
	if len(p) == 0 {
		return "", false
	}
	addr, ok := p[strings.ToLower(scheme)]
	if !ok || addr == "" {
		return "", false
	}
	return addr, true
}

// FetchRequest captures everything needed to fetch a target.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Proxy   Proxy
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// FetchError wraps a transport-level failure (connect, timeout, DNS).
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
