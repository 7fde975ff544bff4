// Package memory provides in-process target and session stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// Store implements visitor.TargetStore and visitor.SessionStore in memory.
type Store struct {
	mu        sync.RWMutex
	threshold int
	nextID    int64
	targets   map[int64]visitor.Target
	sessions  map[string]visitor.Session
	byTarget  map[int64][]string
}

// NewStore constructs a Store. A non-positive threshold uses visitor.DefaultTerminalThreshold.
func NewStore(threshold int) *Store {
	if threshold <= 0 {
		threshold = visitor.DefaultTerminalThreshold
	}
	return &Store{
		threshold: threshold,
		targets:   make(map[int64]visitor.Target),
		sessions:  make(map[string]visitor.Session),
		byTarget:  make(map[int64][]string),
	}
}

// Next returns the non-terminal target with the fewest sessions, lowest ID first.
func (s *Store) Next(_ context.Context) (visitor.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best      visitor.Target
		bestID    int64
		bestCount = -1
	)
	for id, target := range s.targets {
		ids := s.byTarget[id]
		if s.terminal(ids) {
			continue
		}
		if bestCount == -1 || len(ids) < bestCount || (len(ids) == bestCount && id < bestID) {
			best, bestID, bestCount = target, id, len(ids)
		}
	}
	if bestCount == -1 {
		return visitor.Target{}, visitor.ErrNoTarget
	}
	return best, nil
}

func (s *Store) terminal(sessionIDs []string) bool {
	for _, id := range sessionIDs {
		if s.sessions[id].Terminal(s.threshold) {
			return true
		}
	}
	return false
}

// BulkInsert stores targets, assigning IDs to those without one.
func (s *Store) BulkInsert(_ context.Context, targets []visitor.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, target := range targets {
		if id, ok := target.ID.Get(); ok {
			if _, exists := s.targets[id]; exists {
				return fmt.Errorf("target %d already exists", id)
			}
		}
	}
	now := time.Now().UTC()
	for _, target := range targets {
		id, ok := target.ID.Get()
		if !ok {
			s.nextID++
			id = s.nextID
		} else if id > s.nextID {
			s.nextID = id
		}
		target.ID = visitor.Value(id)
		if !target.CreatedAt.Present() {
			target.CreatedAt = visitor.Value(now)
		}
		if !target.UpdatedAt.Present() {
			target.UpdatedAt = visitor.Value(now)
		}
		s.targets[id] = target
	}
	return nil
}

// Get fetches a target by ID.
func (s *Store) Get(_ context.Context, id int64) (visitor.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.targets[id]
	if !ok {
		return visitor.Target{}, fmt.Errorf("target %d: %w", id, visitor.ErrNotFound)
	}
	return target, nil
}

// MarkInvalid flags a target as invalid.
func (s *Store) MarkInvalid(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.targets[id]
	if !ok {
		return fmt.Errorf("target %d: %w", id, visitor.ErrNotFound)
	}
	target.Invalid = true
	target.UpdatedAt = visitor.Value(time.Now().UTC())
	s.targets[id] = target
	return nil
}

// Create inserts a new session.
func (s *Store) Create(_ context.Context, sess *visitor.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	if _, ok := s.targets[sess.TargetID]; !ok {
		return fmt.Errorf("session %s target %d: %w", sess.ID, sess.TargetID, visitor.ErrNotFound)
	}
	s.sessions[sess.ID] = sess.Snapshot()
	s.byTarget[sess.TargetID] = append(s.byTarget[sess.TargetID], sess.ID)
	return nil
}

// Save upserts a session by ID.
func (s *Store) Save(_ context.Context, sess *visitor.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; !exists {
		s.byTarget[sess.TargetID] = append(s.byTarget[sess.TargetID], sess.ID)
	}
	s.sessions[sess.ID] = sess.Snapshot()
	return nil
}

// ListByTarget returns copies of a target's sessions ordered by start time.
func (s *Store) ListByTarget(_ context.Context, targetID int64) ([]visitor.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTarget[targetID]
	out := make([]visitor.Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.sessions[id].Snapshot())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}
