package message

import (
	"context"
	"errors"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
)

// ErrMessageNotFound is returned by stores for unknown message ids.
var ErrMessageNotFound = apperr.New(apperr.KindNotFound, "message", errors.New("message not found"))

// Status is the delivery lifecycle of a message.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSended   Status = "sended"
	StatusReceived Status = "received"
	StatusError    Status = "error"
)

// Delivery acknowledgement scale. Acks only move forward, except AckError which always wins.
const (
	AckError     = -1
	AckPending   = 0
	AckSent      = 1
	AckDelivered = 2
	AckRead      = 3
	AckPlayed    = 4
)

// DeleteWindow bounds how old a delivered message may be and still be deleted.
const DeleteWindow = 2 * time.Hour

// Message is one persisted conversation entry. Empty id fields and zero times mean null.
type Message struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	TicketID  string `json:"ticketId"`
	ContactID string `json:"contactId"`
	Body      string `json:"body"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	FromMe    bool   `json:"fromMe"`
	// NativeID is the platform message id; it is empty until the platform accepted the message.
	NativeID    string    `json:"messageId,omitempty"`
	Ack         int       `json:"ack"`
	Status      Status    `json:"status"`
	IsDeleted   bool      `json:"isDeleted"`
	QuotedMsgID string    `json:"quotedMsgId,omitempty"`
	ScheduleAt  time.Time `json:"scheduleDate,omitzero"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LocallyPending reports whether the message never reached the platform.
func (m Message) LocallyPending() bool {
	return m.NativeID == "" && m.Status == StatusPending
}

// Media returns the attachment of m, or nil.
func (m Message) Media() *channel.Media {
	if m.MediaURL == "" {
		return nil
	}
	return &channel.Media{URL: m.MediaURL, MimeType: m.MediaType}
}

// NextAck returns the ack stored after incoming arrives on a message at current, and
// whether it changed.
func NextAck(current, incoming int) (int, bool) {
	if current == AckError {
		return current, false
	}
	if incoming == AckError {
		return AckError, true
	}
	if incoming > current {
		return incoming, true
	}
	return current, false
}

// InboundInput is a platform message to persist on a ticket.
type InboundInput struct {
	TenantID       string
	TicketID       string
	ContactID      string
	Body           string
	Media          *channel.Media
	FromMe         bool
	NativeID       string
	QuotedNativeID string
	Timestamp      time.Time
}

// OutboundInput queues an agent, bot or campaign message for sending.
type OutboundInput struct {
	TenantID    string
	TicketID    string
	ContactID   string
	Body        string
	Media       *channel.Media
	QuotedMsgID string
	// ScheduleAt defers the send; zero sends as soon as a worker picks it up.
	ScheduleAt time.Time
}

// DeleteResult reports how a delete was applied.
type DeleteResult struct {
	Message Message `json:"message"`
	// Hard is true when the row was removed because it never left the helpdesk.
	Hard bool `json:"hard"`
	// Unsent is true when the platform confirmed the recall.
	Unsent bool `json:"unsent"`
}

// Recaller withdraws a delivered message from the platform.
type Recaller interface {
	Recall(ctx context.Context, m Message) error
}

// Store persists messages.
type Store interface {
	GetMessage(ctx context.Context, tenantID, id string) (Message, error)
	FindByNativeID(ctx context.Context, tenantID, nativeID string) (Message, error)
	// InsertMessage stores m unless (ticket, native id) exists, in which case the existing
	// row is returned with inserted=false.
	InsertMessage(ctx context.Context, m Message) (stored Message, inserted bool, err error)
	UpdateMessage(ctx context.Context, m Message) (Message, error)
	// ApplyAck stores incoming per NextAck on the message with nativeID.
	ApplyAck(ctx context.Context, tenantID, nativeID string, incoming int) (m Message, changed bool, err error)
	// DeletePending removes the message only while it is still locally pending.
	DeletePending(ctx context.Context, tenantID, id string) (bool, error)
	// ListPending returns unsent outbound messages of a tenant that are due at now, oldest first.
	ListPending(ctx context.Context, tenantID string, now time.Time, limit int) ([]Message, error)
	// ListTenantsWithDue returns tenants with unsent messages due at now.
	ListTenantsWithDue(ctx context.Context, now time.Time) ([]string, error)
	ListByTicket(ctx context.Context, tenantID, ticketID string, limit int) ([]Message, error)
}
