package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

func (s *Store) GetTicket(_ context.Context, tenantID, id string) (ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.TenantID != tenantID {
		return ticket.Ticket{}, ticket.ErrTicketNotFound
	}
	return t, nil
}

// activeFor returns the id of another active ticket of (contact, channel). Caller holds mu.
func (s *Store) activeFor(t ticket.Ticket) (string, bool) {
	for id, other := range s.tickets {
		if id == t.ID || !other.Status.Active() {
			continue
		}
		if other.TenantID == t.TenantID && other.ContactID == t.ContactID && other.Channel == t.Channel {
			return id, true
		}
	}
	return "", false
}

func (s *Store) CreateTicket(_ context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Status.Active() {
		if existing, ok := s.activeFor(t); ok {
			return ticket.Ticket{}, apperr.Conflict("ticket.create", existing)
		}
	}
	s.tickets[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTicket(_ context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tickets[t.ID]
	if !ok || current.TenantID != t.TenantID {
		return ticket.Ticket{}, ticket.ErrTicketNotFound
	}
	if t.Status.Active() {
		if existing, ok := s.activeFor(t); ok {
			return ticket.Ticket{}, apperr.Conflict("ticket.update", existing)
		}
	}
	// Activity fields belong to TouchTicket.
	t.LastMessage = current.LastMessage
	t.LastMessageAt = current.LastMessageAt
	t.UnreadCount = current.UnreadCount
	t.CreatedAt = current.CreatedAt
	s.tickets[t.ID] = t
	return t, nil
}

func (s *Store) TouchTicket(_ context.Context, tenantID, id string, in ticket.TouchInput) (ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.TenantID != tenantID {
		return ticket.Ticket{}, ticket.ErrTicketNotFound
	}
	t.LastMessage = in.Body
	t.LastMessageAt = in.At
	if in.Inbound {
		t.UnreadCount++
	}
	if in.At.After(t.UpdatedAt) {
		t.UpdatedAt = in.At
	}
	s.tickets[id] = t
	return t, nil
}

func (s *Store) FindActive(_ context.Context, tenantID, contactID string, ct channel.Type) (ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.TenantID == tenantID && t.ContactID == contactID && t.Channel == ct && t.Status.Active() {
			return t, nil
		}
	}
	return ticket.Ticket{}, ticket.ErrTicketNotFound
}

func (s *Store) FindLatest(_ context.Context, tenantID, contactID string, ct channel.Type) (ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *ticket.Ticket
	for _, t := range s.tickets {
		if t.TenantID != tenantID || t.ContactID != contactID || t.Channel != ct {
			continue
		}
		if latest == nil || t.UpdatedAt.After(latest.UpdatedAt) ||
			(t.UpdatedAt.Equal(latest.UpdatedAt) && t.CreatedAt.After(latest.CreatedAt)) {
			latest = &t
		}
	}
	if latest == nil {
		return ticket.Ticket{}, ticket.ErrTicketNotFound
	}
	return *latest, nil
}

func (s *Store) ListByUser(_ context.Context, tenantID, userID string, statuses []ticket.Status) ([]ticket.Ticket, error) {
	return s.filterTickets(func(t ticket.Ticket) bool {
		return t.TenantID == tenantID && t.UserID == userID && slices.Contains(statuses, t.Status)
	}), nil
}

func (s *Store) ListInactive(_ context.Context, tenantID string, statuses []ticket.Status, cutoff time.Time) ([]ticket.Ticket, error) {
	return s.filterTickets(func(t ticket.Ticket) bool {
		return t.TenantID == tenantID && slices.Contains(statuses, t.Status) && t.UpdatedAt.Before(cutoff)
	}), nil
}

func (s *Store) ListChatbotIdle(_ context.Context, tenantID string, cutoff time.Time) ([]ticket.Ticket, error) {
	return s.filterTickets(func(t ticket.Ticket) bool {
		return t.TenantID == tenantID && t.Status.Active() && t.ChatbotOwned() && t.ChatbotAt.Before(cutoff)
	}), nil
}

func (s *Store) filterTickets(keep func(ticket.Ticket) bool) []ticket.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ticket.Ticket, 0)
	for _, t := range s.tickets {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out
}

func (s *Store) AppendLog(_ context.Context, entry ticket.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *Store) ListLogs(_ context.Context, tenantID, ticketID string) ([]ticket.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ticket.LogEntry, 0)
	for _, entry := range s.logs {
		if entry.TenantID == tenantID && entry.TicketID == ticketID {
			out = append(out, entry)
		}
	}
	return out, nil
}
