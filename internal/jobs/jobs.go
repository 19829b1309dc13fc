// Package jobs binds the helpdesk's background work to the job queue: sending queued
// messages, promoting scheduled ones, handing idle chatbot conversations back, campaign
// delivery, out-of-hours replies and the inactive-ticket sweep.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/campaign"
	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/dispatch"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
	"github.com/jvkabum/vue3-izing-sub001/internal/settings"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

// Queue names.
const (
	SendMessages                     = "SendMessages"
	SendMessageSchenduled            = "SendMessageSchenduled"
	VerifyTicketsChatBotInactives    = "VerifyTicketsChatBotInactives"
	SendMessageWhatsappCampaign      = campaign.QueueName
	SendMessageWhatsappBusinessHours = "SendMessageWhatsappBusinessHours"
	CloseInactiveTickets             = "CloseInactiveTickets"
)

// TenantJob is the payload of per-tenant queues.
type TenantJob struct {
	TenantID string `json:"tenantId"`
}

// TicketJob is the payload of per-ticket queues.
type TicketJob struct {
	TenantID string `json:"tenantId"`
	TicketID string `json:"ticketId"`
}

// Dispatcher sends one outbound message.
type Dispatcher interface {
	Dispatch(ctx context.Context, t ticket.Ticket, out dispatch.OutboundMessage) (dispatch.DeliveryResult, error)
}

// Enqueuer schedules jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...queue.EnqueueOption) (queue.Handle, error)
}

// Registrar binds queue handlers.
type Registrar interface {
	Register(name string, handler queue.Handler, opts queue.Options) error
}

// Options tunes schedules that come from configuration.
type Options struct {
	// CloseSweepCron is the cron pattern of the inactive-ticket sweep.
	CloseSweepCron string
	// PendingBatch bounds the messages loaded per SendMessages pass.
	PendingBatch int
}

// Jobs holds the dependencies every handler uses.
type Jobs struct {
	tickets    *ticket.Service
	messages   *message.Service
	settings   *settings.Service
	contacts   *contacts.Service
	campaigns  *campaign.Service
	dispatcher Dispatcher
	queue      Enqueuer
	outbox     *Outbox
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

func New(log *slog.Logger, tickets *ticket.Service, messages *message.Service, settings *settings.Service, contacts *contacts.Service, campaigns *campaign.Service, dispatcher Dispatcher, q Enqueuer, opts Options) *Jobs {
	if opts.CloseSweepCron == "" {
		opts.CloseSweepCron = "0 3 * * *"
	}
	if opts.PendingBatch <= 0 {
		opts.PendingBatch = 100
	}
	log = logger.OrDefault(log).With(slog.String("service", "jobs"))
	return &Jobs{
		tickets:    tickets,
		messages:   messages,
		settings:   settings,
		contacts:   contacts,
		campaigns:  campaigns,
		dispatcher: dispatcher,
		queue:      q,
		outbox:     NewOutbox(log, messages, q),
		opts:       opts,
		logger:     log,
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (j *Jobs) SetClock(now func() time.Time) {
	j.now = now
}

// Outbox returns the outbox bound to the same queue.
func (j *Jobs) Outbox() *Outbox {
	return j.outbox
}

func tenantKey(job queue.Job) string {
	var p TenantJob
	if err := job.Decode(&p); err != nil {
		return ""
	}
	return "tenant:" + p.TenantID
}

// Register declares every queue with its policy and binds the handlers.
func (j *Jobs) Register(r Registrar) error {
	queues := []struct {
		name    string
		handler queue.Handler
		opts    queue.Options
	}{
		{SendMessages, j.sendMessages, queue.Options{
			Attempts:         3,
			Backoff:          queue.Backoff{Type: queue.BackoffFixed, Delay: 10 * time.Second},
			RemoveOnComplete: true,
			RemoveOnFail:     true,
			SerializeBy:      tenantKey,
		}},
		{SendMessageSchenduled, j.promoteScheduled, queue.Options{
			Concurrency:      1,
			Attempts:         1,
			RemoveOnComplete: true,
			RemoveOnFail:     true,
			Repeat:           &queue.Repeat{Every: time.Minute},
		}},
		{VerifyTicketsChatBotInactives, j.verifyChatbotInactive, queue.Options{
			Concurrency:      1,
			Attempts:         1,
			RemoveOnComplete: true,
			RemoveOnFail:     true,
			Repeat:           &queue.Repeat{Every: 5 * time.Minute},
		}},
		{SendMessageWhatsappCampaign, j.sendCampaign, queue.Options{
			Attempts:         10,
			Backoff:          queue.Backoff{Type: queue.BackoffFixed, Delay: 5 * time.Minute},
			RemoveOnComplete: true,
			RemoveOnFail:     true,
		}},
		{SendMessageWhatsappBusinessHours, j.sendOutOfHours, queue.Options{
			Attempts:         3,
			Backoff:          queue.Backoff{Type: queue.BackoffFixed, Delay: time.Minute},
			RemoveOnComplete: false,
			RemoveOnFail:     true,
		}},
		{CloseInactiveTickets, j.closeInactive, queue.Options{
			Concurrency:      1,
			Attempts:         1,
			RemoveOnComplete: true,
			RemoveOnFail:     true,
			Repeat:           &queue.Repeat{Cron: j.opts.CloseSweepCron},
		}},
	}
	for _, q := range queues {
		if err := r.Register(q.name, q.handler, q.opts); err != nil {
			return err
		}
	}
	return nil
}
