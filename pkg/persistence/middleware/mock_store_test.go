package middleware_test

import (
	"context"

	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/ports"
)

// MockStore is a simple map-based store for testing middleware.
// It keeps pointers as given so tests can inspect what was written.
type MockStore struct {
	data map[int64]*domain.Snapshot
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[int64]*domain.Snapshot),
	}
}

func (s *MockStore) Save(ctx context.Context, sessionID int64, snap *domain.Snapshot) error {
	s.data[sessionID] = snap
	return nil
}

func (s *MockStore) Load(ctx context.Context, sessionID int64) (*domain.Snapshot, error) {
	snap, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap, nil
}

func (s *MockStore) Delete(ctx context.Context, sessionID int64) error {
	delete(s.data, sessionID)
	return nil
}

func (s *MockStore) List(ctx context.Context) ([]int64, error) {
	keys := make([]int64, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

var _ ports.SnapshotStore = (*MockStore)(nil)
