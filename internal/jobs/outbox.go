package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

// Outbox stores outbound messages as pending and wakes the tenant's send job.
type Outbox struct {
	messages *message.Service
	queue    Enqueuer
	logger   *slog.Logger
}

func NewOutbox(log *slog.Logger, messages *message.Service, q Enqueuer) *Outbox {
	return &Outbox{messages: messages, queue: q, logger: logger.OrDefault(log)}
}

// Queue stores body as a pending message on t and triggers sending.
func (o *Outbox) Queue(ctx context.Context, t ticket.Ticket, body string) error {
	_, err := o.Submit(ctx, message.OutboundInput{
		TenantID:  t.TenantID,
		TicketID:  t.ID,
		ContactID: t.ContactID,
		Body:      body,
	})
	return err
}

// Submit stores in as a pending message. Messages scheduled for later are left for the
// scheduled promotion job.
func (o *Outbox) Submit(ctx context.Context, in message.OutboundInput) (message.Message, error) {
	m, err := o.messages.CreateOutbound(ctx, in)
	if err != nil {
		return message.Message{}, err
	}
	if m.ScheduleAt.After(time.Now()) {
		return m, nil
	}
	if err := o.Trigger(ctx, m.TenantID); err != nil {
		// The row stays pending; the scheduled promotion picks it up.
		o.logger.Warn("trigger send failed", slog.String("tenant_id", m.TenantID), slog.String("message_id", m.ID), slog.Any("error", err))
	}
	return m, nil
}

// Trigger queues a send pass for a tenant. A pass already waiting absorbs the trigger.
func (o *Outbox) Trigger(ctx context.Context, tenantID string) error {
	_, err := o.queue.Enqueue(ctx, SendMessages, TenantJob{TenantID: tenantID}, queue.WithJobID("send:"+tenantID))
	return err
}
