package contacts

import (
	"context"
	"errors"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
)

// ErrContactNotFound is returned by stores for unknown contact ids.
var ErrContactNotFound = apperr.New(apperr.KindNotFound, "contacts", errors.New("contact not found"))

// Contact is one external party on one channel, scoped to a tenant.
type Contact struct {
	ID         string
	TenantID   string
	Channel    channel.Type
	ExternalID string
	Name       string
	// Number is the phone number for phone-addressed channels, otherwise the external id.
	Number    string
	IsGroup   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResolveRequest identifies the sender of an inbound event.
type ResolveRequest struct {
	TenantID   string
	Channel    channel.Type
	ExternalID string
	Name       string
	IsGroup    bool
}

// Store persists contacts.
type Store interface {
	GetContact(ctx context.Context, tenantID, id string) (Contact, error)
	// UpsertContact inserts c or, when (tenant, channel, external id) exists, returns the
	// existing row with its name refreshed if c.Name is not empty.
	UpsertContact(ctx context.Context, c Contact) (Contact, error)
}

// DisplayName is the name shown to agents and used in templates.
func (c Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Number != "" {
		return c.Number
	}
	return c.ExternalID
}
