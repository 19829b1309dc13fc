// Package campaign tracks bulk sends to a list of contacts.
package campaign

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
)

// QueueName is the job queue that works through campaign recipients.
const QueueName = "SendMessageWhatsappCampaign"

// ErrCampaignNotFound is returned by stores for unknown campaign ids.
var ErrCampaignNotFound = apperr.New(apperr.KindNotFound, "campaign", errors.New("campaign not found"))

type Status string

const (
	StatusDraft      Status = "draft"
	StatusProcessing Status = "processing"
	StatusFinished   Status = "finished"
	StatusCanceled   Status = "canceled"
)

type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientFailed    RecipientStatus = "failed"
)

// Campaign is one bulk message sent through one session.
type Campaign struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenantId"`
	SessionID string       `json:"sessionId"`
	Channel   channel.Type `json:"channel"`
	Body      string       `json:"body"`
	MediaURL  string       `json:"mediaUrl,omitempty"`
	MediaType string       `json:"mediaType,omitempty"`
	// Delay paces consecutive recipients.
	Delay     time.Duration `json:"delay"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Media returns the campaign attachment, or nil.
func (c Campaign) Media() *channel.Media {
	if c.MediaURL == "" {
		return nil
	}
	return &channel.Media{URL: c.MediaURL, MimeType: c.MediaType}
}

// Recipient is the per-contact delivery record of a campaign.
type Recipient struct {
	ID         string          `json:"id"`
	CampaignID string          `json:"campaignId"`
	ContactID  string          `json:"contactId"`
	Status     RecipientStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Store persists campaigns and recipients.
type Store interface {
	GetCampaign(ctx context.Context, tenantID, id string) (Campaign, error)
	SetCampaignStatus(ctx context.Context, tenantID, id string, status Status) error
	ListRecipients(ctx context.Context, campaignID string, status RecipientStatus) ([]Recipient, error)
	UpdateRecipient(ctx context.Context, r Recipient) error
}

// Enqueuer schedules jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...queue.EnqueueOption) (queue.Handle, error)
}

// Job is the payload of QueueName.
type Job struct {
	TenantID   string `json:"tenantId"`
	CampaignID string `json:"campaignId"`
}

// Service starts campaigns and records per-recipient outcomes.
type Service struct {
	store  Store
	jobs   Enqueuer
	logger *slog.Logger
	now    func() time.Time
}

func NewService(log *slog.Logger, store Store, jobs Enqueuer) *Service {
	return &Service{
		store:  store,
		jobs:   jobs,
		logger: logger.OrDefault(log).With(slog.String("service", "campaign")),
		now:    time.Now,
	}
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Campaign, error) {
	return s.store.GetCampaign(ctx, tenantID, id)
}

// Start moves a draft campaign to processing and queues its send job. Starting a
// campaign that is already processing queues nothing new.
func (s *Service) Start(ctx context.Context, tenantID, id string) (Campaign, error) {
	c, err := s.store.GetCampaign(ctx, tenantID, id)
	if err != nil {
		return Campaign{}, err
	}
	switch c.Status {
	case StatusDraft, StatusProcessing:
	default:
		return Campaign{}, apperr.Newf(apperr.KindInvalidState, "campaign.start", "campaign %s is %s", c.ID, c.Status)
	}
	if c.Status == StatusDraft {
		if err := s.store.SetCampaignStatus(ctx, tenantID, id, StatusProcessing); err != nil {
			return Campaign{}, err
		}
		c.Status = StatusProcessing
	}
	_, err = s.jobs.Enqueue(ctx, QueueName, Job{TenantID: tenantID, CampaignID: id}, queue.WithJobID("campaign:"+id))
	if err != nil {
		return Campaign{}, err
	}
	s.logger.Info("campaign started", slog.String("tenant_id", tenantID), slog.String("campaign_id", id))
	return c, nil
}

// Cancel stops a campaign; pending recipients are left untouched.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) error {
	c, err := s.store.GetCampaign(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if c.Status == StatusFinished {
		return apperr.Newf(apperr.KindInvalidState, "campaign.cancel", "campaign %s already finished", c.ID)
	}
	return s.store.SetCampaignStatus(ctx, tenantID, id, StatusCanceled)
}

// Pending lists recipients still to be sent.
func (s *Service) Pending(ctx context.Context, campaignID string) ([]Recipient, error) {
	return s.store.ListRecipients(ctx, campaignID, RecipientPending)
}

func (s *Service) Delivered(ctx context.Context, r Recipient, messageID string) error {
	r.Status = RecipientDelivered
	r.MessageID = messageID
	r.Error = ""
	r.UpdatedAt = s.now().UTC()
	return s.store.UpdateRecipient(ctx, r)
}

func (s *Service) Failed(ctx context.Context, r Recipient, cause error) error {
	r.Status = RecipientFailed
	r.Error = cause.Error()
	r.UpdatedAt = s.now().UTC()
	return s.store.UpdateRecipient(ctx, r)
}

// Finish marks a campaign whose recipients were all attempted.
func (s *Service) Finish(ctx context.Context, c Campaign) error {
	return s.store.SetCampaignStatus(ctx, c.TenantID, c.ID, StatusFinished)
}
