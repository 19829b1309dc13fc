package memory

import (
	"context"
	"slices"

	"github.com/jvkabum/vue3-izing-sub001/internal/autoreply"
)

func (s *Store) GetFlow(_ context.Context, tenantID, id string) (autoreply.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok || f.TenantID != tenantID {
		return autoreply.Flow{}, autoreply.ErrFlowNotFound
	}
	f.Steps = slices.Clone(f.Steps)
	return f, nil
}

func (s *Store) UpsertFlow(_ context.Context, f autoreply.Flow) (autoreply.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.flows[f.ID]; ok {
		f.CreatedAt = current.CreatedAt
	}
	f.Steps = slices.Clone(f.Steps)
	s.flows[f.ID] = f
	return f, nil
}
