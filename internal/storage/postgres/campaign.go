package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/campaign"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/db"
)

// SaveCampaign inserts or replaces a campaign together with its recipients in one transaction.
func (s *Store) SaveCampaign(ctx context.Context, c campaign.Campaign, recipients []campaign.Recipient) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO campaigns (id, tenant_id, session_id, channel, body, media_url, media_type,
				delay_seconds, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				session_id = EXCLUDED.session_id,
				channel = EXCLUDED.channel,
				body = EXCLUDED.body,
				media_url = EXCLUDED.media_url,
				media_type = EXCLUDED.media_type,
				delay_seconds = EXCLUDED.delay_seconds,
				status = EXCLUDED.status,
				updated_at = EXCLUDED.updated_at`,
			c.ID, c.TenantID, c.SessionID, string(c.Channel), c.Body, db.Text(c.MediaURL), db.Text(c.MediaType),
			int32(c.Delay/time.Second), string(c.Status), c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save campaign: %w", err)
		}
		batch := &pgx.Batch{}
		for _, r := range recipients {
			status := r.Status
			if status == "" {
				status = campaign.RecipientPending
			}
			batch.Queue(`
				INSERT INTO campaign_recipients (id, campaign_id, contact_id, status, error, message_id, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (id) DO UPDATE SET
					status = EXCLUDED.status,
					error = EXCLUDED.error,
					message_id = EXCLUDED.message_id,
					updated_at = EXCLUDED.updated_at`,
				r.ID, c.ID, r.ContactID, string(status), r.Error, db.Text(r.MessageID), r.UpdatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save campaign recipients: %w", err)
		}
		return nil
	})
}

func (s *Store) GetCampaign(ctx context.Context, tenantID, id string) (campaign.Campaign, error) {
	var (
		c                   campaign.Campaign
		ct, status          string
		mediaURL, mediaType pgtype.Text
		delaySeconds        int32
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, session_id, channel, body, media_url, media_type, delay_seconds, status, created_at, updated_at
		FROM campaigns WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(
		&c.ID, &c.TenantID, &c.SessionID, &ct, &c.Body, &mediaURL, &mediaType, &delaySeconds, &status, &c.CreatedAt, &c.UpdatedAt)
	if db.IsNoRows(err) {
		return campaign.Campaign{}, campaign.ErrCampaignNotFound
	}
	if err != nil {
		return campaign.Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	c.Channel = channel.Type(ct)
	c.Status = campaign.Status(status)
	c.MediaURL = db.TextToString(mediaURL)
	c.MediaType = db.TextToString(mediaType)
	c.Delay = time.Duration(delaySeconds) * time.Second
	return c, nil
}

func (s *Store) SetCampaignStatus(ctx context.Context, tenantID, id string, status campaign.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaigns SET status = $3, updated_at = now() WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, string(status))
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return campaign.ErrCampaignNotFound
	}
	return nil
}

// ListRecipients returns recipients of a campaign ordered by id. An empty status matches all.
func (s *Store) ListRecipients(ctx context.Context, campaignID string, status campaign.RecipientStatus) ([]campaign.Recipient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, campaign_id, contact_id, status, error, message_id, updated_at
		FROM campaign_recipients
		WHERE campaign_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY id`, campaignID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()
	out := make([]campaign.Recipient, 0)
	for rows.Next() {
		var (
			r         campaign.Recipient
			rs        string
			messageID pgtype.Text
		)
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.ContactID, &rs, &r.Error, &messageID, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		r.Status = campaign.RecipientStatus(rs)
		r.MessageID = db.TextToString(messageID)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRecipient(ctx context.Context, r campaign.Recipient) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaign_recipients SET status = $2, error = $3, message_id = $4, updated_at = $5
		WHERE id = $1`, r.ID, string(r.Status), r.Error, db.Text(r.MessageID), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "campaign.recipient", "recipient %s not found", r.ID)
	}
	return nil
}
