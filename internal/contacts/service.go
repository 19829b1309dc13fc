package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(log *slog.Logger, store Store) *Service {
	return &Service{
		store:  store,
		logger: logger.OrDefault(log).With(slog.String("service", "contacts")),
		now:    time.Now,
	}
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Contact, error) {
	if s.store == nil {
		return Contact{}, fmt.Errorf("contacts store not configured")
	}
	return s.store.GetContact(ctx, tenantID, id)
}

// Resolve returns the contact for an inbound sender, creating it on first contact.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (Contact, error) {
	if s.store == nil {
		return Contact{}, fmt.Errorf("contacts store not configured")
	}
	externalID := strings.TrimSpace(req.ExternalID)
	if req.TenantID == "" || externalID == "" {
		return Contact{}, apperr.Newf(apperr.KindInvalidPayload, "contacts.resolve", "tenant and sender are required")
	}
	name := strings.TrimSpace(req.Name)
	now := s.now().UTC()
	contact, err := s.store.UpsertContact(ctx, Contact{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		Channel:    req.Channel,
		ExternalID: externalID,
		Name:       name,
		Number:     numberOf(req.Channel, externalID),
		IsGroup:    req.IsGroup,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return Contact{}, fmt.Errorf("upsert contact: %w", err)
	}
	return contact, nil
}

// numberOf strips the WhatsApp JID suffix so placeholders and test-number lists compare digits.
func numberOf(ct channel.Type, externalID string) string {
	if ct != channel.TypeWhatsApp {
		return externalID
	}
	if i := strings.IndexByte(externalID, '@'); i >= 0 {
		externalID = externalID[:i]
	}
	return strings.TrimPrefix(externalID, "+")
}
