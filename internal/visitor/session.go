package visitor

import (
	"fmt"
	"time"
)

// State is the position of a session in its attempt lifecycle.
type State string

// Session states. The fetched_* annotations are assigned by a Controller.
const (
	StateCreated           State = "created"
	StateDispatched        State = "dispatched"
	StateFetched           State = "fetched"
	StateFailedToFetch     State = "failed_to_fetch"
	StateFetchedValid      State = "fetched_and_valid"
	StateFetchedNeedsRetry State = "fetched_needs_retry"
	StateFetchedInvalid    State = "fetched_invalid"
)

var transitions = map[State][]State{
	StateCreated:    {StateDispatched},
	StateDispatched: {StateFetched, StateFailedToFetch},
	StateFetched:    {StateFetchedValid, StateFetchedNeedsRetry, StateFetchedInvalid},
}

// CanAdvance reports whether a session may move from s to next.
func (s State) CanAdvance(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Fetched reports whether the state is fetched or one of its annotations.
func (s State) Fetched() bool {
	switch s {
	case StateFetched, StateFetchedValid, StateFetchedNeedsRetry, StateFetchedInvalid:
		return true
	default:
		return false
	}
}

// Session is one fetch attempt against a Target.
type Session struct {
	ID           string     `json:"id"`
	TargetID     int64      `json:"url_id"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	State        State      `json:"state"`
	ResponseCode *int       `json:"response_code,omitempty"`
	Result       *int       `json:"result,omitempty"`

	// Target is the visited resource; it is not persisted with the session row.
	Target Target `json:"-"`
	// Response is kept only while the controller classifies the attempt.
	Response *FetchResponse `json:"-"`
}

// NewSession builds a session in the created state for a persisted target.
func NewSession(id string, target Target, start time.Time) (Session, error) {
	targetID, ok := target.ID.Get()
	if !ok {
		return Session{}, fmt.Errorf("target %s has not been persisted", target)
	}
	return Session{
		ID:        id,
		TargetID:  targetID,
		StartTime: start,
		State:     StateCreated,
		Target:    target,
	}, nil
}

// Advance moves the session forward to next.
func (s *Session) Advance(next State) error {
	if !s.State.CanAdvance(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, next)
	}
	s.State = next
	return nil
}

// SetResult records the classification code chosen by a controller.
func (s *Session) SetResult(code int) {
	s.Result = &code
}

// Terminal reports whether the session result rules out further attempts.
func (s Session) Terminal(threshold int) bool {
	return s.Result != nil && *s.Result > threshold
}

// Snapshot returns a copy safe to retain: the transient response is dropped.
func (s Session) Snapshot() Session {
	s.Response = nil
	if s.EndTime != nil {
		end := *s.EndTime
		s.EndTime = &end
	}
	if s.ResponseCode != nil {
		code := *s.ResponseCode
		s.ResponseCode = &code
	}
	if s.Result != nil {
		res := *s.Result
		s.Result = &res
	}
	return s
}
