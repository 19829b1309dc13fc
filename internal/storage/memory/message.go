package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/message"
)

func (s *Store) GetMessage(_ context.Context, tenantID, id string) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.TenantID != tenantID {
		return message.Message{}, message.ErrMessageNotFound
	}
	return m, nil
}

func (s *Store) FindByNativeID(_ context.Context, tenantID, nativeID string) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byNative(tenantID, nativeID); ok {
		return m, nil
	}
	return message.Message{}, message.ErrMessageNotFound
}

// byNative returns the oldest message of a tenant with nativeID. Caller holds mu.
func (s *Store) byNative(tenantID, nativeID string) (message.Message, bool) {
	var found *message.Message
	for _, m := range s.messages {
		if m.TenantID != tenantID || m.NativeID != nativeID {
			continue
		}
		if found == nil || m.CreatedAt.Before(found.CreatedAt) {
			found = &m
		}
	}
	if found == nil {
		return message.Message{}, false
	}
	return *found, true
}

func (s *Store) InsertMessage(_ context.Context, m message.Message) (message.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.NativeID != "" {
		for _, existing := range s.messages {
			if existing.TicketID == m.TicketID && existing.NativeID == m.NativeID {
				return existing, false, nil
			}
		}
	}
	s.messages[m.ID] = m
	return m, true, nil
}

func (s *Store) UpdateMessage(_ context.Context, m message.Message) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.messages[m.ID]
	if !ok || current.TenantID != m.TenantID {
		return message.Message{}, message.ErrMessageNotFound
	}
	m.CreatedAt = current.CreatedAt
	s.messages[m.ID] = m
	return m, nil
}

func (s *Store) ApplyAck(_ context.Context, tenantID, nativeID string, incoming int) (message.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byNative(tenantID, nativeID)
	if !ok {
		return message.Message{}, false, message.ErrMessageNotFound
	}
	ack, changed := message.NextAck(m.Ack, incoming)
	if !changed {
		return m, false, nil
	}
	m.Ack = ack
	if ack == message.AckError {
		m.Status = message.StatusError
	}
	m.UpdatedAt = s.now().UTC()
	s.messages[m.ID] = m
	return m, true, nil
}

func (s *Store) DeletePending(_ context.Context, tenantID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.TenantID != tenantID || !m.LocallyPending() {
		return false, nil
	}
	delete(s.messages, id)
	return true, nil
}

func due(m message.Message, now time.Time) bool {
	return m.LocallyPending() && m.FromMe && !m.ScheduleAt.After(now)
}

func (s *Store) ListPending(_ context.Context, tenantID string, now time.Time, limit int) ([]message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, 0)
	for _, m := range s.messages {
		if m.TenantID == tenantID && due(m, now) {
			out = append(out, m)
		}
	}
	sortMessages(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListTenantsWithDue(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	for _, m := range s.messages {
		if due(m, now) {
			seen[m.TenantID] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

func (s *Store) ListByTicket(_ context.Context, tenantID, ticketID string, limit int) ([]message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, 0)
	for _, m := range s.messages {
		if m.TenantID == tenantID && m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	sortMessages(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func sortMessages(items []message.Message) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
