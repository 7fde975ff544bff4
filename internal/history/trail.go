// Package history keeps a bounded trail of recently completed sessions.
package history

import (
	"sync"

	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// DefaultCapacity is the number of sessions retained when no capacity is configured.
const DefaultCapacity = 200

// Trail is a fixed-capacity FIFO. Once full, each Record evicts the oldest entry.
type Trail struct {
	mu    sync.RWMutex
	buf   []visitor.Session
	head  int
	count int
}

// New creates a Trail. Non-positive capacities use DefaultCapacity.
func New(capacity int) *Trail {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Trail{buf: make([]visitor.Session, capacity)}
}

// Record appends a snapshot of sess.
func (t *Trail) Record(sess visitor.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := (t.head + t.count) % len(t.buf)
	t.buf[idx] = sess.Snapshot()
	if t.count < len(t.buf) {
		t.count++
		return
	}
	t.head = (t.head + 1) % len(t.buf)
}

// Recent returns the retained sessions in insertion order, oldest first.
func (t *Trail) Recent() []visitor.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]visitor.Session, t.count)
	for i := 0; i < t.count; i++ {
		out[i] = t.buf[(t.head+i)%len(t.buf)].Snapshot()
	}
	return out
}

// Len returns the number of retained sessions.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Cap returns the trail capacity.
func (t *Trail) Cap() int {
	return len(t.buf)
}
