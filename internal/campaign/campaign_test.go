package campaign_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/campaign"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/queue"
	"github.com/jvkabum/vue3-izing-sub001/internal/storage/memory"
)

func newService(t *testing.T) (*campaign.Service, *memory.Store, *queue.MemoryBroker) {
	t.Helper()
	store := memory.New()
	broker := queue.NewMemoryBroker()
	q := queue.New(nil, broker)
	q.Declare(campaign.QueueName, queue.Options{Attempts: 10})
	err := store.SaveCampaign(context.Background(), campaign.Campaign{
		ID:        "cmp-1",
		TenantID:  "t1",
		SessionID: "s1",
		Channel:   channel.TypeWhatsApp,
		Body:      "Hello {{name}}",
		Status:    campaign.StatusDraft,
	}, []campaign.Recipient{{ID: "r1", ContactID: "c1"}, {ID: "r2", ContactID: "c2"}})
	require.NoError(t, err)
	return campaign.NewService(nil, store, q), store, broker
}

func TestStartQueuesOneJob(t *testing.T) {
	t.Parallel()
	svc, _, broker := newService(t)
	ctx := context.Background()

	c, err := svc.Start(ctx, "t1", "cmp-1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusProcessing, c.Status)

	_, err = svc.Start(ctx, "t1", "cmp-1")
	require.NoError(t, err)

	jobs := broker.Jobs(campaign.QueueName)
	require.Len(t, jobs, 1)
	assert.Equal(t, "campaign:cmp-1", jobs[0].Key)
	var payload campaign.Job
	require.NoError(t, jobs[0].Decode(&payload))
	assert.Equal(t, campaign.Job{TenantID: "t1", CampaignID: "cmp-1"}, payload)
}

func TestStartRejectsFinishedAndUnknown(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	ctx := context.Background()
	c, err := svc.Get(ctx, "t1", "cmp-1")
	require.NoError(t, err)
	require.NoError(t, svc.Finish(ctx, c))

	_, err = svc.Start(ctx, "t1", "cmp-1")
	assert.True(t, apperr.IsInvalidState(err))
	assert.True(t, apperr.IsInvalidState(svc.Cancel(ctx, "t1", "cmp-1")))

	_, err = svc.Start(ctx, "t2", "cmp-1")
	assert.True(t, errors.Is(err, campaign.ErrCampaignNotFound))
}

func TestRecipientOutcomes(t *testing.T) {
	t.Parallel()
	svc, _, _ := newService(t)
	ctx := context.Background()

	pending, err := svc.Pending(ctx, "cmp-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, svc.Delivered(ctx, pending[0], "msg-1"))
	require.NoError(t, svc.Failed(ctx, pending[1], errors.New("invalid number")))

	pending, err = svc.Pending(ctx, "cmp-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, svc.Cancel(ctx, "t1", "cmp-1"))
	c, err := svc.Get(ctx, "t1", "cmp-1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusCanceled, c.Status)
}
