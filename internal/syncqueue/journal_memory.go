package syncqueue

import (
	"context"
	"sync"
)

// memjournal is a development-only in-memory journal used when no Redis is
// configured. Queued writes do not survive a restart.
type memjournal struct {
	mu      sync.Mutex
	pending []*Write
	dead    []*Write
}

func NewMemoryJournal() Journal {
	return &memjournal{}
}

func (m *memjournal) Append(_ context.Context, w *Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.pending = append(m.pending, &cp)
	return nil
}

func (m *memjournal) Peek(_ context.Context) (*Write, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return nil, nil
	}
	cp := *m.pending[0]
	return &cp, nil
}

func (m *memjournal) RemoveHead(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) > 0 {
		m.pending = m.pending[1:]
	}
	return nil
}

func (m *memjournal) RecordAttempt(_ context.Context, id, attemptErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 || m.pending[0].ID != id {
		return nil
	}
	m.pending[0].Attempts++
	m.pending[0].LastError = attemptErr
	return nil
}

func (m *memjournal) MoveHeadToDead(_ context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return nil
	}
	head := m.pending[0]
	m.pending = m.pending[1:]
	head.Attempts++
	head.LastError = reason
	m.dead = append(m.dead, head)
	return nil
}

func (m *memjournal) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), nil
}

func (m *memjournal) DeadLen(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dead), nil
}

func (m *memjournal) Pending(_ context.Context, limit int) ([]*Write, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || len(m.pending) == 0 {
		return nil, nil
	}
	if limit > len(m.pending) {
		limit = len(m.pending)
	}
	out := make([]*Write, 0, limit)
	for _, w := range m.pending[:limit] {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}
