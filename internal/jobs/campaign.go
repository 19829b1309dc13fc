package jobs

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/autoreply"
	"github.com/jvkabum/vue3-izing-sub001/internal/campaign"
	"github.com/jvkabum/vue3-izing-sub001/internal/dispatch"
	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

// sendCampaign delivers a campaign to its pending recipients, paced by the campaign delay.
// A recipient failure is recorded and the run continues; an unavailable channel stops the
// run with the remaining recipients pending so the retry resumes where it left off.
func (j *Jobs) sendCampaign(ctx context.Context, job queue.Job) error {
	var p campaign.Job
	if err := job.Decode(&p); err != nil {
		return apperr.New(apperr.KindInvalidPayload, SendMessageWhatsappCampaign, err)
	}
	c, err := j.campaigns.Get(ctx, p.TenantID, p.CampaignID)
	if err != nil {
		return err
	}
	if c.Status != campaign.StatusProcessing {
		return nil
	}
	recipients, err := j.campaigns.Pending(ctx, c.ID)
	if err != nil {
		return err
	}
	log := j.logger.With(
		slog.String("queue", SendMessageWhatsappCampaign),
		slog.String("tenant_id", c.TenantID),
		slog.String("campaign_id", c.ID))

	pace := rate.NewLimiter(rate.Inf, 1)
	if c.Delay > 0 {
		pace = rate.NewLimiter(rate.Every(c.Delay), 1)
	}
	delivered, failed := 0, 0
	for _, r := range recipients {
		if err := pace.Wait(ctx); err != nil {
			return err
		}
		messageID, err := j.sendToRecipient(ctx, c, r)
		switch {
		case err == nil:
			delivered++
			if err := j.campaigns.Delivered(ctx, r, messageID); err != nil {
				log.Error("record delivery failed", slog.String("recipient_id", r.ID), slog.Any("error", err))
			}
		case apperr.IsChannelUnavailable(err):
			log.Warn("campaign paused, channel unavailable", slog.Int("delivered", delivered), slog.Any("error", err))
			return err
		default:
			failed++
			log.Warn("campaign recipient failed", slog.String("recipient_id", r.ID), slog.Any("error", err))
			if err := j.campaigns.Failed(ctx, r, err); err != nil {
				log.Error("record failure failed", slog.String("recipient_id", r.ID), slog.Any("error", err))
			}
		}
	}
	if err := j.campaigns.Finish(ctx, c); err != nil {
		return err
	}
	log.Info("campaign finished", slog.Int("delivered", delivered), slog.Int("failed", failed), slog.Duration("elapsed", time.Since(job.CreatedAt)))
	return nil
}

func (j *Jobs) sendToRecipient(ctx context.Context, c campaign.Campaign, r campaign.Recipient) (string, error) {
	contact, err := j.contacts.Get(ctx, c.TenantID, r.ContactID)
	if err != nil {
		return "", err
	}
	t, err := j.tickets.EnsureForOutbound(ctx, ticket.OutboundInput{
		TenantID:  c.TenantID,
		ContactID: contact.ID,
		Channel:   c.Channel,
		SessionID: c.SessionID,
	})
	if err != nil {
		return "", err
	}
	if t.SessionID == "" {
		t.SessionID = c.SessionID
	}
	res, err := j.dispatcher.Dispatch(ctx, t, dispatch.OutboundMessage{
		Body:  autoreply.Render(c.Body, contact, t, j.now()),
		Media: c.Media(),
	})
	if err != nil {
		return "", err
	}
	return res.Message.ID, nil
}
