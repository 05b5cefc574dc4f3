package provenance

import (
	"maps"
	"sync"
)

// DefaultMemoryCapacity is the number of events a MemoryRepository retains
// when created with a non-positive capacity.
const DefaultMemoryCapacity = 10000

// MemoryRepository keeps the most recent events in a bounded ring.
// Older events are evicted once capacity is reached. Data is lost when the
// process exits.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
	closed bool
}

// NewMemoryRepository creates an in-memory repository holding up to capacity events.
func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryRepository{
		events: make([]Event, capacity),
	}
}

// Record implements Repository.
func (m *MemoryRepository) Record(events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrRepositoryClosed
	}

	for _, e := range events {
		e = prepare(e)
		e.Attributes = maps.Clone(e.Attributes)
		m.events[m.next] = e
		m.next++
		if m.next == len(m.events) {
			m.next = 0
			m.full = true
		}
	}
	return nil
}

// Lineage implements Repository.
func (m *MemoryRepository) Lineage(flowFileID string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrRepositoryClosed
	}

	var out []Event
	m.ascend(func(e Event) {
		if matches(e, flowFileID) {
			out = append(out, e)
		}
	})
	return out, nil
}

// Recent implements Repository.
func (m *MemoryRepository) Recent(limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrRepositoryClosed
	}

	n := m.lenLocked()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.events)) % len(m.events)
		out = append(out, m.events[idx])
	}
	return out, nil
}

// Close implements Repository.
func (m *MemoryRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.events = nil
	return nil
}

// Len returns the number of retained events.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lenLocked()
}

func (m *MemoryRepository) lenLocked() int {
	if m.full {
		return len(m.events)
	}
	return m.next
}

// ascend visits retained events oldest first.
func (m *MemoryRepository) ascend(fn func(Event)) {
	if m.full {
		for _, e := range m.events[m.next:] {
			fn(e)
		}
	}
	for _, e := range m.events[:m.next] {
		fn(e)
	}
}
