// Package autoreply runs tenant-defined chatbot flows over ticket conversations.
package autoreply

import (
	"context"
	"errors"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/settings"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

// ErrFlowNotFound is returned by stores for unknown flow ids.
var ErrFlowNotFound = apperr.New(apperr.KindNotFound, "autoreply", errors.New("flow not found"))

// ActionType is what choosing an interaction does.
type ActionType string

const (
	// ActionNextStep moves to NextStepID; without one the flow ends and the ticket is handed off.
	ActionNextStep ActionType = "nextStep"
	ActionQueue    ActionType = "queue"
	ActionUser     ActionType = "user"
)

// Interaction is one option offered by a step. Options are numbered from 1 in order.
type Interaction struct {
	// Words optionally lists a keyword that also selects the option.
	Words      string     `json:"words,omitempty"`
	Action     ActionType `json:"action"`
	NextStepID string     `json:"nextStepId,omitempty"`
	QueueID    string     `json:"queueId,omitempty"`
	UserID     string     `json:"userId,omitempty"`
	// Reply is sent when the option is chosen, before the next step's prompt.
	Reply string `json:"reply,omitempty"`
}

// Step is one prompt of a flow.
type Step struct {
	ID           string        `json:"id"`
	Initial      bool          `json:"initial"`
	Reply        string        `json:"reply"`
	Interactions []Interaction `json:"interactions"`
}

// Flow is a tenant's chatbot definition.
type Flow struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Outcome classifies what one Advance call did.
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"
	OutcomeWelcome  Outcome = "welcome"
	OutcomeAdvanced Outcome = "advanced"
	OutcomeReprompt Outcome = "reprompt"
	OutcomeHandoff  Outcome = "handoff"
)

// Result reports the effect of Advance.
type Result struct {
	Outcome Outcome       `json:"outcome"`
	StepID  string        `json:"stepId,omitempty"`
	Ticket  ticket.Ticket `json:"ticket"`
	// Queued counts the outbound messages queued for sending.
	Queued int `json:"queued"`
}

// Store persists flows.
type Store interface {
	GetFlow(ctx context.Context, tenantID, id string) (Flow, error)
	UpsertFlow(ctx context.Context, f Flow) (Flow, error)
}

// Tickets is the part of the ticket state machine the stepper drives.
type Tickets interface {
	AssignChatbot(ctx context.Context, tenantID, ticketID, flowID, stepID string) (ticket.Ticket, error)
	HandoffFromChatbot(ctx context.Context, in ticket.HandoffInput) (ticket.Ticket, error)
}

// Outbox queues a bot reply as a pending outbound message and schedules its send.
type Outbox interface {
	Queue(ctx context.Context, t ticket.Ticket, body string) error
}

// SettingsSource returns the effective tenant settings.
type SettingsSource interface {
	Get(ctx context.Context, tenantID string) (settings.Settings, error)
}
