package memory

import (
	"context"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/campaign"
)

// SaveCampaign inserts or replaces a campaign together with its recipients.
func (s *Store) SaveCampaign(_ context.Context, c campaign.Campaign, recipients []campaign.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
	for _, r := range recipients {
		r.CampaignID = c.ID
		if r.Status == "" {
			r.Status = campaign.RecipientPending
		}
		s.recipients[r.ID] = r
	}
	return nil
}

func (s *Store) GetCampaign(_ context.Context, tenantID, id string) (campaign.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return campaign.Campaign{}, campaign.ErrCampaignNotFound
	}
	return c, nil
}

func (s *Store) SetCampaignStatus(_ context.Context, tenantID, id string, status campaign.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return campaign.ErrCampaignNotFound
	}
	c.Status = status
	c.UpdatedAt = s.now().UTC()
	s.campaigns[id] = c
	return nil
}

func (s *Store) ListRecipients(_ context.Context, campaignID string, status campaign.RecipientStatus) ([]campaign.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]campaign.Recipient, 0)
	for _, id := range sortedKeys(s.recipients) {
		r := s.recipients[id]
		if r.CampaignID == campaignID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) UpdateRecipient(_ context.Context, r campaign.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recipients[r.ID]; !ok {
		return apperr.Newf(apperr.KindNotFound, "campaign.recipient", "recipient %s not found", r.ID)
	}
	s.recipients[r.ID] = r
	return nil
}
