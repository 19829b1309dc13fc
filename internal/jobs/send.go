package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/dispatch"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
)

// sendMessages sends every due pending message of one tenant, oldest first. Messages
// whose channel is unavailable stay pending and the job is retried.
func (j *Jobs) sendMessages(ctx context.Context, job queue.Job) error {
	var p TenantJob
	if err := job.Decode(&p); err != nil {
		return apperr.New(apperr.KindInvalidPayload, SendMessages, err)
	}
	log := j.logger.With(slog.String("queue", SendMessages), slog.String("tenant_id", p.TenantID))

	tried := map[string]bool{}
	var retry error
	sent := 0
	for {
		items, err := j.messages.ListPendingByTenant(ctx, p.TenantID, j.now(), j.opts.PendingBatch)
		if err != nil {
			return err
		}
		fresh := 0
		for _, m := range items {
			if tried[m.ID] {
				continue
			}
			tried[m.ID] = true
			fresh++
			err := j.sendOne(ctx, m)
			switch {
			case err == nil:
				sent++
			case apperr.Retryable(err):
				log.Warn("message left pending", slog.String("message_id", m.ID), slog.Any("error", err))
				retry = errors.Join(retry, err)
			default:
				log.Warn("message failed", slog.String("message_id", m.ID), slog.Any("error", err))
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		if fresh == 0 {
			break
		}
	}
	if sent > 0 {
		log.Debug("pending messages sent", slog.Int("count", sent))
	}
	if retry != nil {
		return fmt.Errorf("send pending messages: %w", retry)
	}
	return nil
}

func (j *Jobs) sendOne(ctx context.Context, m message.Message) error {
	t, err := j.tickets.Get(ctx, m.TenantID, m.TicketID)
	if err != nil {
		if apperr.IsNotFound(err) {
			if _, markErr := j.messages.MarkError(ctx, m, err.Error()); markErr != nil {
				return markErr
			}
		}
		return err
	}
	_, err = j.dispatcher.Dispatch(ctx, t, dispatch.OutboundMessage{
		MessageID:   m.ID,
		Body:        m.Body,
		Media:       m.Media(),
		QuotedMsgID: m.QuotedMsgID,
	})
	return err
}

// promoteScheduled queues a send pass for every tenant with scheduled messages now due.
func (j *Jobs) promoteScheduled(ctx context.Context, _ queue.Job) error {
	tenants, err := j.messages.PromoteDueScheduled(ctx, j.now())
	if err != nil {
		return err
	}
	var errs error
	for _, tenantID := range tenants {
		if err := j.outbox.Trigger(ctx, tenantID); err != nil {
			errs = errors.Join(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}
	return errs
}
