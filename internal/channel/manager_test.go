package channel_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/event"
)

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", i, n)
		}
	}
}

func TestManagerRefreshConnectsReceivers(t *testing.T) {
	t.Parallel()

	adapter := newFakeAdapter(testChannelType)
	reg := channel.NewRegistry()
	reg.MustRegister(adapter)
	session := channel.Session{ID: "s1", TenantID: "t1", Type: testChannelType, Status: channel.StatusDisconnected}
	store := newMemorySessions(session)
	events := &event.Recorder{}
	m := channel.NewManager(nil, reg, store, newRecordingProcessor(0), events, time.Hour)

	ctx := context.Background()
	m.Refresh(ctx)
	assert.Equal(t, 1, adapter.connects)
	assert.True(t, m.Connected(session))
	assert.Equal(t, channel.StatusConnected, m.Status("s1"))

	stored, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, channel.StatusConnected, stored.Status)
	assert.NotEmpty(t, events.Named(event.NameSessionUpdate))

	// a second refresh keeps the running connection
	m.Refresh(ctx)
	assert.Equal(t, 1, adapter.connects)

	store.remove("s1")
	m.Refresh(ctx)
	assert.False(t, m.Connected(session))
	assert.False(t, adapter.connected["s1"].Running())
}

func TestManagerConnectedWebhookSession(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	reg.MustRegister(webhookOnly{channelType: "hook"})
	m := channel.NewManager(nil, reg, newMemorySessions(), nil, nil, time.Hour)

	assert.True(t, m.Connected(channel.Session{ID: "w1", Type: "hook", Status: channel.StatusConnected}))
	assert.False(t, m.Connected(channel.Session{ID: "w2", Type: "hook", Status: channel.StatusDisconnected}))
}

func TestManagerDefaultSession(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	store := newMemorySessions(channel.Session{ID: "s1", TenantID: "t1", Type: channel.TypeTelegram, IsDefault: true})
	m := channel.NewManager(nil, reg, store, nil, nil, time.Hour)

	got, err := m.DefaultSession(context.Background(), "t1", channel.TypeTelegram)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)

	_, err = m.DefaultSession(context.Background(), "t2", channel.TypeTelegram)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestManagerInboundKeepsConversationOrder(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	processor := newRecordingProcessor(20)
	m := channel.NewManager(nil, reg, newMemorySessions(), processor, nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := channel.Session{ID: "s1", TenantID: "t1", Type: testChannelType}
	want := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("msg-%02d", i)
		want = append(want, text)
		require.NoError(t, m.HandleInbound(ctx, session, channel.InboundEvent{Kind: channel.EventMessage, SenderID: "c1", Text: text}))
	}
	waitFor(t, processor.done, 20)
	assert.Equal(t, want, processor.texts())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManagerHandleWebhook(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	reg.MustRegister(webhookOnly{channelType: "hook"})
	reg.MustRegister(newFakeAdapter(testChannelType))
	store := newMemorySessions(
		channel.Session{ID: "w1", TenantID: "t1", Type: "hook"},
		channel.Session{ID: "r1", TenantID: "t1", Type: testChannelType},
	)
	processor := newRecordingProcessor(1)
	m := channel.NewManager(nil, reg, store, processor, nil, time.Hour)

	n, err := m.HandleWebhook(context.Background(), "w1", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	waitFor(t, processor.done, 1)
	assert.Equal(t, []string{"hello"}, processor.texts())

	_, err = m.HandleWebhook(context.Background(), "r1", []byte("x"))
	assert.True(t, apperr.IsConfiguration(err))

	_, err = m.HandleWebhook(context.Background(), "missing", []byte("x"))
	assert.True(t, apperr.IsNotFound(err))
}
