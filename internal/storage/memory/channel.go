package memory

import (
	"context"
	"maps"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/settings"
)

// SaveSession inserts or replaces a channel session.
func (s *Store) SaveSession(_ context.Context, session channel.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.Credentials = maps.Clone(session.Credentials)
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = s.now().UTC()
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) ListSessions(_ context.Context) ([]channel.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]channel.Session, 0, len(s.sessions))
	for _, id := range sortedKeys(s.sessions) {
		out = append(out, s.sessions[id])
	}
	return out, nil
}

func (s *Store) GetSession(_ context.Context, id string) (channel.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return channel.Session{}, apperr.Newf(apperr.KindNotFound, "channel.session", "session %s not found", id)
	}
	return session, nil
}

func (s *Store) FindDefaultSession(_ context.Context, tenantID string, channelType channel.Type) (channel.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fallback *channel.Session
	for _, id := range sortedKeys(s.sessions) {
		session := s.sessions[id]
		if session.TenantID != tenantID || session.Type != channelType {
			continue
		}
		if session.IsDefault {
			return session, nil
		}
		if fallback == nil {
			fallback = &session
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return channel.Session{}, apperr.Newf(apperr.KindNotFound, "channel.session", "no %s session for tenant %s", channelType, tenantID)
}

func (s *Store) UpdateSessionStatus(_ context.Context, id string, status channel.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "channel.session", "session %s not found", id)
	}
	session.Status = status
	s.sessions[id] = session
	return nil
}

func (s *Store) GetContact(_ context.Context, tenantID, id string) (contacts.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return contacts.Contact{}, contacts.ErrContactNotFound
	}
	return c, nil
}

func (s *Store) UpsertContact(_ context.Context, c contacts.Contact) (contacts.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.contacts {
		if existing.TenantID != c.TenantID || existing.Channel != c.Channel || existing.ExternalID != c.ExternalID {
			continue
		}
		if c.Name != "" && c.Name != existing.Name {
			existing.Name = c.Name
			existing.UpdatedAt = c.UpdatedAt
			s.contacts[id] = existing
		}
		return existing, nil
	}
	s.contacts[c.ID] = c
	return c, nil
}

func (s *Store) GetSettings(_ context.Context, tenantID string) (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.settings[tenantID]
	if !ok {
		return settings.Settings{}, settings.ErrSettingsNotFound
	}
	return cfg, nil
}

func (s *Store) UpsertSettings(_ context.Context, cfg settings.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[cfg.TenantID] = cfg
	return nil
}

func (s *Store) ListTenantIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	for id := range s.settings {
		seen[id] = struct{}{}
	}
	for _, session := range s.sessions {
		seen[session.TenantID] = struct{}{}
	}
	return sortedKeys(seen), nil
}
