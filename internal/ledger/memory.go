package ledger

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process ledger, used for rehearsals and tests.
type MemoryBackend struct {
	mu   sync.Mutex
	rows map[Destination][]Row
	err  error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rows: make(map[Destination][]Row)}
}

func (m *MemoryBackend) Append(_ context.Context, dest Destination, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.rows[dest] = append(m.rows[dest], rows...)
	return nil
}

func (m *MemoryBackend) DeleteMatching(_ context.Context, dest Destination, keys []Key) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	current := m.rows[dest]
	cells := make([][3]string, len(current))
	for i, r := range current {
		cells[i] = [3]string{r.Name, r.Date, r.Type}
	}

	found, indexes := MatchRows(cells, keys)

	drop := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		drop[i] = true
	}

	kept := current[:0:0]
	for i, r := range current {
		if !drop[i] {
			kept = append(kept, r)
		}
	}
	m.rows[dest] = kept

	return found, nil
}

// Rows returns a copy of a destination's rows.
func (m *MemoryBackend) Rows(dest Destination) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Row(nil), m.rows[dest]...)
}

// SetErr makes every later call fail with err until reset with nil.
func (m *MemoryBackend) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
