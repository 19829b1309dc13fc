package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

// verifyChatbotInactive hands chatbot conversations idle past the tenant's limit back to
// their queue and says goodbye when a farewell is configured.
func (j *Jobs) verifyChatbotInactive(ctx context.Context, _ queue.Job) error {
	tenants, err := j.settings.Tenants(ctx)
	if err != nil {
		return err
	}
	now := j.now()
	var errs error
	for _, tenantID := range tenants {
		if err := j.releaseIdleChatbots(ctx, tenantID, now); err != nil {
			errs = errors.Join(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}
	return errs
}

func (j *Jobs) releaseIdleChatbots(ctx context.Context, tenantID string, now time.Time) error {
	cfg, err := j.settings.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if cfg.ChatbotInactiveMinutes <= 0 {
		return nil
	}
	cutoff := now.Add(-time.Duration(cfg.ChatbotInactiveMinutes) * time.Minute)
	idle, err := j.tickets.ChatbotInactive(ctx, tenantID, cutoff)
	if err != nil {
		return err
	}
	log := j.logger.With(slog.String("queue", VerifyTicketsChatBotInactives), slog.String("tenant_id", tenantID))
	for _, t := range idle {
		released, err := j.tickets.HandoffFromChatbot(ctx, ticket.HandoffInput{TenantID: tenantID, TicketID: t.ID})
		if err != nil {
			log.Warn("release idle chatbot failed", slog.String("ticket_id", t.ID), slog.Any("error", err))
			continue
		}
		if cfg.ChatbotFarewell == "" {
			continue
		}
		if err := j.outbox.Queue(ctx, released, cfg.ChatbotFarewell); err != nil {
			log.Warn("queue farewell failed", slog.String("ticket_id", t.ID), slog.Any("error", err))
		}
	}
	if len(idle) > 0 {
		log.Info("idle chatbot tickets released", slog.Int("count", len(idle)))
	}
	return nil
}

// closeInactive runs the inactive-ticket sweep for every tenant.
func (j *Jobs) closeInactive(ctx context.Context, _ queue.Job) error {
	tenants, err := j.settings.Tenants(ctx)
	if err != nil {
		return err
	}
	now := j.now()
	var errs error
	for _, tenantID := range tenants {
		cfg, err := j.settings.Get(ctx, tenantID)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		closed, err := j.tickets.CloseInactive(ctx, tenantID, cfg.DaysToClose, now)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		if closed > 0 {
			j.logger.Info("inactive tickets closed",
				slog.String("queue", CloseInactiveTickets),
				slog.String("tenant_id", tenantID),
				slog.Int("count", closed))
		}
	}
	return errs
}
