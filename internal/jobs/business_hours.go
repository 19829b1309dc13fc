package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/autoreply"
	"github.com/jvkabum/vue3-izing-sub001/internal/dispatch"
	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

// ScheduleOutOfHours reports whether the tenant is outside business hours at at and, if
// so, queues the out-of-hours reply for t. At most one reply per ticket per tenant-local
// day is queued.
func (j *Jobs) ScheduleOutOfHours(ctx context.Context, t ticket.Ticket, at time.Time) (bool, error) {
	cfg, err := j.settings.Get(ctx, t.TenantID)
	if err != nil {
		return false, err
	}
	if cfg.OutOfHoursMessage == "" || !cfg.BusinessHours.Enabled() || cfg.BusinessHours.IsOpen(at) {
		return false, nil
	}
	day := at.In(cfg.BusinessHours.Location()).Format("2006-01-02")
	_, err = j.queue.Enqueue(ctx, SendMessageWhatsappBusinessHours,
		TicketJob{TenantID: t.TenantID, TicketID: t.ID},
		queue.WithJobID("ooh:"+t.ID+":"+day))
	if err != nil {
		return true, err
	}
	return true, nil
}

// sendOutOfHours sends the tenant's out-of-hours message unless an agent took the ticket
// in the meantime.
func (j *Jobs) sendOutOfHours(ctx context.Context, job queue.Job) error {
	var p TicketJob
	if err := job.Decode(&p); err != nil {
		return apperr.New(apperr.KindInvalidPayload, SendMessageWhatsappBusinessHours, err)
	}
	t, err := j.tickets.Get(ctx, p.TenantID, p.TicketID)
	if err != nil {
		return err
	}
	if t.UserID != "" || !t.Status.Active() {
		return nil
	}
	cfg, err := j.settings.Get(ctx, t.TenantID)
	if err != nil {
		return err
	}
	if cfg.OutOfHoursMessage == "" {
		return nil
	}
	contact, err := j.contacts.Get(ctx, t.TenantID, t.ContactID)
	if err != nil {
		return err
	}
	body := autoreply.Render(cfg.OutOfHoursMessage, contact, t, j.now().In(cfg.BusinessHours.Location()))
	if _, err := j.dispatcher.Dispatch(ctx, t, dispatch.OutboundMessage{Body: body}); err != nil {
		return err
	}
	j.logger.Debug("out-of-hours reply sent", slog.String("tenant_id", t.TenantID), slog.String("ticket_id", t.ID))
	return nil
}
