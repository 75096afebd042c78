package dirtyset

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is the single-process tracker: a mutex-guarded set swapped
// wholesale on drain. Suitable when one server process runs both the
// vote path and the broadcast scheduler.
type Memory struct {
	mu  sync.Mutex
	set map[uuid.UUID]struct{}
}

func NewMemory() *Memory {
	return &Memory{set: make(map[uuid.UUID]struct{})}
}

func (m *Memory) MarkDirty(_ context.Context, pollID uuid.UUID) error {
	m.mu.Lock()
	m.set[pollID] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) SnapshotAndClear(_ context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	drained := m.set
	m.set = make(map[uuid.UUID]struct{})
	m.mu.Unlock()

	if len(drained) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(drained))
	for id := range drained {
		ids = append(ids, id)
	}
	return ids, nil
}
