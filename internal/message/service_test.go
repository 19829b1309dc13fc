package message_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/event"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/storage/memory"
)

var base = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type recaller struct {
	calls []string
	err   error
}

func (r *recaller) Recall(_ context.Context, m message.Message) error {
	r.calls = append(r.calls, m.NativeID)
	return r.err
}

func newService(t *testing.T) (*message.Service, *event.Recorder) {
	t.Helper()
	rec := &event.Recorder{}
	svc := message.NewService(nil, memory.New(), rec)
	svc.SetClock(func() time.Time { return base })
	return svc, rec
}

func TestPersistInboundDeduplicates(t *testing.T) {
	t.Parallel()
	svc, rec := newService(t)
	ctx := context.Background()
	in := message.InboundInput{TenantID: "t1", TicketID: "tk1", ContactID: "c1", Body: "hi", NativeID: "wamid.1"}

	first, created, err := svc.PersistInbound(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, message.StatusReceived, first.Status)

	second, created, err := svc.PersistInbound(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, rec.Named(event.NameMessageUpdate), 2, "one create event per room")
}

func TestPersistInboundResolvesQuote(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	quoted, _, err := svc.PersistInbound(ctx, message.InboundInput{TenantID: "t1", TicketID: "tk1", Body: "question", NativeID: "n1"})
	require.NoError(t, err)

	reply, _, err := svc.PersistInbound(ctx, message.InboundInput{TenantID: "t1", TicketID: "tk1", Body: "answer", NativeID: "n2", QuotedNativeID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, quoted.ID, reply.QuotedMsgID)

	orphan, _, err := svc.PersistInbound(ctx, message.InboundInput{TenantID: "t1", TicketID: "tk1", Body: "?", NativeID: "n3", QuotedNativeID: "unknown"})
	require.NoError(t, err)
	assert.Empty(t, orphan.QuotedMsgID)
}

func TestCreateOutboundValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	_, err := svc.CreateOutbound(context.Background(), message.OutboundInput{TenantID: "t1", TicketID: "tk1", Body: "   "})
	assert.True(t, apperr.IsInvalidPayload(err))

	m, err := svc.CreateOutbound(context.Background(), message.OutboundInput{
		TenantID: "t1",
		TicketID: "tk1",
		Media:    &channel.Media{URL: "https://cdn.example/a.png", MimeType: "image/png"},
	})
	require.NoError(t, err)
	assert.True(t, m.LocallyPending())
	assert.True(t, m.FromMe)
	require.NotNil(t, m.Media())
	assert.Equal(t, "image/png", m.Media().MimeType)
}

func TestScheduledMessagesBecomeDue(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: "tk1", Body: "later", ScheduleAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = svc.CreateOutbound(ctx, message.OutboundInput{TenantID: "t2", TicketID: "tk2", Body: "now"})
	require.NoError(t, err)

	tenants, err := svc.PromoteDueScheduled(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, tenants)

	pending, err := svc.ListPendingByTenant(ctx, "t1", base, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	tenants, err = svc.PromoteDueScheduled(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tenants)
}

func TestUpdateAckIsMonotonic(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	m, err := svc.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: "tk1", Body: "hello"})
	require.NoError(t, err)
	_, err = svc.MarkSent(ctx, m, "native-1")
	require.NoError(t, err)

	got, changed, err := svc.UpdateAck(ctx, "t1", "native-1", message.AckRead)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, message.AckRead, got.Ack)

	got, changed, err = svc.UpdateAck(ctx, "t1", "native-1", message.AckDelivered)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, message.AckRead, got.Ack)

	got, changed, err = svc.UpdateAck(ctx, "t1", "native-1", message.AckError)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, message.AckError, got.Ack)

	_, changed, err = svc.UpdateAck(ctx, "t1", "native-1", message.AckPlayed)
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = svc.UpdateAck(ctx, "t1", "native-1", 9)
	assert.True(t, apperr.IsInvalidPayload(err))

	_, _, err = svc.UpdateAck(ctx, "t1", "unknown", message.AckRead)
	assert.True(t, errors.Is(err, message.ErrMessageNotFound))
}

func TestNextAck(t *testing.T) {
	t.Parallel()
	tests := []struct {
		current, incoming, want int
		changed                 bool
	}{
		{message.AckPending, message.AckSent, message.AckSent, true},
		{message.AckRead, message.AckSent, message.AckRead, false},
		{message.AckRead, message.AckRead, message.AckRead, false},
		{message.AckPlayed, message.AckError, message.AckError, true},
		{message.AckError, message.AckRead, message.AckError, false},
	}
	for _, tt := range tests {
		got, changed := message.NextAck(tt.current, tt.incoming)
		if got != tt.want || changed != tt.changed {
			t.Errorf("NextAck(%d, %d) = %d, %v; want %d, %v", tt.current, tt.incoming, got, changed, tt.want, tt.changed)
		}
	}
}

func TestMarkError(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	m, err := svc.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: "tk1", Body: "hello"})
	require.NoError(t, err)

	failed, err := svc.MarkError(ctx, m, "body too long")
	require.NoError(t, err)
	assert.Equal(t, message.StatusError, failed.Status)
	assert.Equal(t, message.AckError, failed.Ack)
	assert.Equal(t, "body too long", failed.Error)
}

func TestDeletePendingIsHard(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	m, err := svc.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: "tk1", Body: "oops", ScheduleAt: base.Add(time.Hour)})
	require.NoError(t, err)

	res, err := svc.Delete(ctx, "t1", m.ID, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Hard)

	_, err = svc.Get(ctx, "t1", m.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestDeleteDeliveredWithinWindow(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	r := &recaller{}
	svc.SetRecaller(r)
	ctx := context.Background()
	m, err := svc.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: "tk1", Body: "hello"})
	require.NoError(t, err)
	sent, err := svc.MarkSent(ctx, m, "native-9")
	require.NoError(t, err)

	res, err := svc.Delete(ctx, "t1", sent.ID, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.False(t, res.Hard)
	assert.True(t, res.Unsent)
	assert.True(t, res.Message.IsDeleted)
	assert.Equal(t, []string{"native-9"}, r.calls)

	again, err := svc.Delete(ctx, "t1", sent.ID, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.True(t, again.Message.IsDeleted)
	assert.Len(t, r.calls, 1)
}

func TestDeleteRecallFailureStillSoftDeletes(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	svc.SetRecaller(&recaller{err: errors.New("platform refused")})
	ctx := context.Background()
	m, err := svc.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: "tk1", Body: "hello"})
	require.NoError(t, err)
	sent, err := svc.MarkSent(ctx, m, "native-10")
	require.NoError(t, err)

	res, err := svc.Delete(ctx, "t1", sent.ID, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Message.IsDeleted)
	assert.False(t, res.Unsent)
}

func TestDeleteDeliveredOutsideWindow(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)
	ctx := context.Background()
	m, err := svc.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: "tk1", Body: "hello"})
	require.NoError(t, err)
	sent, err := svc.MarkSent(ctx, m, "native-11")
	require.NoError(t, err)

	_, err = svc.Delete(ctx, "t1", sent.ID, base.Add(3*time.Hour))
	assert.True(t, apperr.IsInvalidState(err))
}
