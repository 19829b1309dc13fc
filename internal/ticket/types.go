package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
)

// ErrTicketNotFound is returned by stores for unknown ticket ids.
var ErrTicketNotFound = apperr.New(apperr.KindNotFound, "ticket", errors.New("ticket not found"))

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusOpen    Status = "open"
	StatusPending Status = "pending"
	StatusClosed  Status = "closed"
)

// Active reports whether s counts toward the one-active-ticket-per-contact rule.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusPending
}

func (s Status) valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusClosed:
		return true
	}
	return false
}

// LogType classifies an audit entry.
type LogType string

const (
	LogCreate      LogType = "create"
	LogOpen        LogType = "open"
	LogPending     LogType = "pending"
	LogClosed      LogType = "closed"
	LogReopen      LogType = "reopen"
	LogChatbot     LogType = "chatBot"
	LogManual      LogType = "manual"
	LogAutoClose   LogType = "autoClose"
	LogUserRemoved LogType = "userRemoved"
)

// Ticket is one conversation with one contact on one channel. Empty id fields mean null.
type Ticket struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenantId"`
	ContactID string       `json:"contactId"`
	Channel   channel.Type `json:"channel"`
	SessionID string       `json:"channelSessionId"`
	Status    Status       `json:"status"`
	UserID    string       `json:"userId,omitempty"`
	QueueID   string       `json:"queueId,omitempty"`
	// AutoReplyID and StepAutoReplyID are set while the chatbot owns the conversation.
	AutoReplyID     string    `json:"autoReplyId,omitempty"`
	StepAutoReplyID string    `json:"stepAutoReplyId,omitempty"`
	ChatbotAt       time.Time `json:"chatbotAt,omitzero"`
	IsGroup         bool      `json:"isGroup"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageAt   time.Time `json:"lastMessageAt,omitzero"`
	UnreadCount     int       `json:"unreadMessages"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	ClosedAt        time.Time `json:"closedAt,omitzero"`
}

// ChatbotOwned reports whether the auto-reply flow currently owns the ticket.
func (t Ticket) ChatbotOwned() bool {
	return t.StepAutoReplyID != ""
}

func (t *Ticket) clearChatbot() {
	t.AutoReplyID = ""
	t.StepAutoReplyID = ""
	t.ChatbotAt = time.Time{}
}

// LogEntry is one audit record of a ticket transition.
type LogEntry struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	TicketID  string    `json:"ticketId"`
	Type      LogType   `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	QueueID   string    `json:"queueId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateInput opens a ticket explicitly (agent action or API).
type CreateInput struct {
	TenantID  string
	ContactID string
	Channel   channel.Type
	SessionID string
	// Status defaults to open; only open and pending are accepted.
	Status  Status
	UserID  string
	QueueID string
	IsGroup bool
}

// InboundInput locates the ticket an inbound message belongs to.
type InboundInput struct {
	TenantID  string
	ContactID string
	Channel   channel.Type
	SessionID string
	IsGroup   bool
}

// InboundResult reports how FindOrCreateForInbound resolved the ticket.
type InboundResult struct {
	Ticket   Ticket
	Created  bool
	Reopened bool
}

// OutboundInput locates the ticket an outbound message (campaign, API send) belongs to.
type OutboundInput struct {
	TenantID  string
	ContactID string
	Channel   channel.Type
	SessionID string
}

// UpdateStatusInput requests a status transition.
type UpdateStatusInput struct {
	TenantID string
	TicketID string
	Status   Status
	// UserID is the acting user; opening assigns it.
	UserID string
	// QueueID, when set, moves the ticket to that queue.
	QueueID string
	// LogType overrides the audit type derived from the target status.
	LogType LogType
}

// HandoffInput ends chatbot ownership. A UserID assigns the ticket directly, otherwise it
// waits as pending in QueueID.
type HandoffInput struct {
	TenantID string
	TicketID string
	QueueID  string
	UserID   string
}

// TouchInput records message activity on a ticket.
type TouchInput struct {
	Body    string
	At      time.Time
	Inbound bool
}

// ReleaseResult summarizes a bulk release; failures do not stop the batch.
type ReleaseResult struct {
	Released []string `json:"released"`
	Failed   []string `json:"failed"`
}

// Store persists tickets and their audit log.
type Store interface {
	GetTicket(ctx context.Context, tenantID, id string) (Ticket, error)
	// CreateTicket inserts t. An active t for a (contact, channel) that already has an open or
	// pending ticket is rejected with a conflict error carrying the existing id; no row is created.
	CreateTicket(ctx context.Context, t Ticket) (Ticket, error)
	// UpdateTicket stores the ownership and status fields of t. Reactivating a ticket while
	// another one is active for the same (contact, channel) is a conflict.
	UpdateTicket(ctx context.Context, t Ticket) (Ticket, error)
	// TouchTicket records activity atomically and bumps updatedAt.
	TouchTicket(ctx context.Context, tenantID, id string, in TouchInput) (Ticket, error)
	FindActive(ctx context.Context, tenantID, contactID string, ct channel.Type) (Ticket, error)
	// FindLatest returns the most recently updated ticket of (contact, channel) in any status.
	FindLatest(ctx context.Context, tenantID, contactID string, ct channel.Type) (Ticket, error)
	ListByUser(ctx context.Context, tenantID, userID string, statuses []Status) ([]Ticket, error)
	// ListInactive returns tickets in statuses whose updatedAt is before cutoff.
	ListInactive(ctx context.Context, tenantID string, statuses []Status, cutoff time.Time) ([]Ticket, error)
	// ListChatbotIdle returns active chatbot-owned tickets whose chatbotAt is before cutoff.
	ListChatbotIdle(ctx context.Context, tenantID string, cutoff time.Time) ([]Ticket, error)
	AppendLog(ctx context.Context, entry LogEntry) error
	ListLogs(ctx context.Context, tenantID, ticketID string) ([]LogEntry, error)
}
