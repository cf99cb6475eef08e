// internal/queue/queue.go
package queue

import (
	"context"
	"sync"
)

// Queue is a FIFO of account ids waiting for reconciliation.
type Queue interface {
	Push(ctx context.Context, ids ...int64) error
	// Pop returns false when the queue is empty.
	Pop(ctx context.Context) (int64, bool, error)
	Len(ctx context.Context) (int64, error)
	// Scoped returns a separate queue for a single run, sharing the backing store.
	Scoped(runID string) Queue
	// Clear drops every item still queued.
	Clear(ctx context.Context) error
}

// Memory is an in-process Queue.
type Memory struct {
	mu    sync.Mutex
	items []int64
}

// NewMemory returns an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{}
}

// Push appends ids to the tail of the queue.
func (m *Memory) Push(_ context.Context, ids ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, ids...)
	return nil
}

// Pop removes and returns the head of the queue.
func (m *Memory) Pop(_ context.Context) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return 0, false, nil
	}
	id := m.items[0]
	m.items = m.items[1:]
	return id, true, nil
}

// Len returns the number of queued ids.
func (m *Memory) Len(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.items)), nil
}

// Scoped returns a new, empty in-process queue.
func (m *Memory) Scoped(string) Queue {
	return NewMemory()
}

// Clear empties the queue.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return nil
}
