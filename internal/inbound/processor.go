// Package inbound turns normalized channel events into contacts, tickets and messages and
// hands eligible conversations to the auto-reply flow.
package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/autoreply"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

// Contacts resolves event senders.
type Contacts interface {
	Resolve(ctx context.Context, req contacts.ResolveRequest) (contacts.Contact, error)
}

// Tickets locates the conversation of an event.
type Tickets interface {
	FindOrCreateForInbound(ctx context.Context, in ticket.InboundInput) (ticket.InboundResult, error)
	TouchLastMessage(ctx context.Context, tenantID, ticketID string, in ticket.TouchInput) (ticket.Ticket, error)
}

// Messages persists events.
type Messages interface {
	PersistInbound(ctx context.Context, in message.InboundInput) (message.Message, bool, error)
	UpdateAck(ctx context.Context, tenantID, nativeID string, ack int) (message.Message, bool, error)
}

// Stepper advances the auto-reply flow.
type Stepper interface {
	Advance(ctx context.Context, t ticket.Ticket, c contacts.Contact, text string) (autoreply.Result, error)
}

// OutOfHours queues the tenant's closed-hours reply and reports whether the tenant is closed.
type OutOfHours interface {
	ScheduleOutOfHours(ctx context.Context, t ticket.Ticket, at time.Time) (bool, error)
}

// Processor implements channel.InboundProcessor.
type Processor struct {
	contacts   Contacts
	tickets    Tickets
	messages   Messages
	stepper    Stepper
	outOfHours OutOfHours
	logger     *slog.Logger
}

func NewProcessor(log *slog.Logger, contacts Contacts, tickets Tickets, messages Messages, stepper Stepper, outOfHours OutOfHours) *Processor {
	return &Processor{
		contacts:   contacts,
		tickets:    tickets,
		messages:   messages,
		stepper:    stepper,
		outOfHours: outOfHours,
		logger:     logger.OrDefault(log).With(slog.String("service", "inbound")),
	}
}

// HandleInbound applies one event. Redelivered messages are ignored.
func (p *Processor) HandleInbound(ctx context.Context, session channel.Session, ev channel.InboundEvent) error {
	if ev.Kind == channel.EventAck {
		return p.handleAck(ctx, session, ev)
	}
	return p.handleMessage(ctx, session, ev)
}

func (p *Processor) handleAck(ctx context.Context, session channel.Session, ev channel.InboundEvent) error {
	if ev.NativeMessageID == "" {
		return nil
	}
	_, _, err := p.messages.UpdateAck(ctx, session.TenantID, ev.NativeMessageID, ev.Ack)
	if apperr.IsNotFound(err) {
		return nil
	}
	return err
}

func (p *Processor) handleMessage(ctx context.Context, session channel.Session, ev channel.InboundEvent) error {
	if ev.NativeMessageID == "" {
		return apperr.Newf(apperr.KindInvalidPayload, "inbound", "event without message id on session %s", session.ID)
	}
	name := ev.SenderName
	if ev.IsGroup {
		name = ""
	}
	contact, err := p.contacts.Resolve(ctx, contacts.ResolveRequest{
		TenantID:   session.TenantID,
		Channel:    session.Type,
		ExternalID: ev.Destination(),
		Name:       name,
		IsGroup:    ev.IsGroup,
	})
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}
	res, err := p.tickets.FindOrCreateForInbound(ctx, ticket.InboundInput{
		TenantID:  session.TenantID,
		ContactID: contact.ID,
		Channel:   session.Type,
		SessionID: session.ID,
		IsGroup:   ev.IsGroup,
	})
	if err != nil {
		return fmt.Errorf("find ticket: %w", err)
	}
	t := res.Ticket

	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	msg, created, err := p.messages.PersistInbound(ctx, message.InboundInput{
		TenantID:       session.TenantID,
		TicketID:       t.ID,
		ContactID:      contact.ID,
		Body:           ev.Text,
		Media:          ev.Media,
		FromMe:         ev.FromMe,
		NativeID:       ev.NativeMessageID,
		QuotedNativeID: ev.QuotedNativeID,
		Timestamp:      at,
	})
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	if !created {
		return nil
	}
	preview := ev.Text
	if preview == "" && ev.Media != nil {
		preview = ev.Media.Filename
	}
	if touched, err := p.tickets.TouchLastMessage(ctx, t.TenantID, t.ID, ticket.TouchInput{Body: preview, At: msg.Timestamp, Inbound: !ev.FromMe}); err == nil {
		t = touched
	} else {
		p.logger.Warn("touch ticket failed", slog.String("ticket_id", t.ID), slog.Any("error", err))
	}
	if ev.FromMe || ev.IsGroup {
		return nil
	}

	log := p.logger.With(slog.String("tenant_id", t.TenantID), slog.String("ticket_id", t.ID))
	if p.outOfHours != nil && t.UserID == "" {
		closed, err := p.outOfHours.ScheduleOutOfHours(ctx, t, at)
		if err != nil {
			log.Warn("schedule out-of-hours reply failed", slog.Any("error", err))
		}
		if closed {
			return nil
		}
	}
	if p.stepper == nil {
		return nil
	}
	result, err := p.stepper.Advance(ctx, t, contact, ev.Text)
	if err != nil {
		log.Warn("auto-reply advance failed", slog.Any("error", err))
		return nil
	}
	if result.Outcome != autoreply.OutcomeSkipped {
		log.Debug("auto-reply advanced", slog.String("outcome", string(result.Outcome)), slog.String("step_id", result.StepID))
	}
	return nil
}
