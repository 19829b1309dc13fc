package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/dispatch"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/storage/memory"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

type sent struct {
	session string
	dest    string
	text    string
	quoted  string
	media   bool
}

type fakeAdapter struct {
	desc    channel.Descriptor
	mu      sync.Mutex
	sent    []sent
	err     error
	history []channel.HistoryMessage
	unsent  []string
}

func (a *fakeAdapter) Type() channel.Type             { return a.desc.Type }
func (a *fakeAdapter) Descriptor() channel.Descriptor { return a.desc }

func (a *fakeAdapter) SendText(_ context.Context, s channel.Session, dest, text string, opts channel.SendOptions) (string, error) {
	return a.record(sent{session: s.ID, dest: dest, text: text, quoted: opts.QuotedNativeID})
}

func (a *fakeAdapter) SendMedia(_ context.Context, s channel.Session, dest string, _ channel.Media, caption string, opts channel.SendOptions) (string, error) {
	return a.record(sent{session: s.ID, dest: dest, text: caption, quoted: opts.QuotedNativeID, media: true})
}

func (a *fakeAdapter) record(s sent) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.sent = append(a.sent, s)
	return fmt.Sprintf("native-%d", len(a.sent)), nil
}

func (a *fakeAdapter) Unsend(_ context.Context, _ channel.Session, _ string, nativeID string) error {
	a.unsent = append(a.unsent, nativeID)
	return nil
}

func (a *fakeAdapter) FetchRecent(_ context.Context, _ channel.Session, _ string, limit int) ([]channel.HistoryMessage, error) {
	if limit > len(a.history) {
		limit = len(a.history)
	}
	return a.history[:limit], nil
}

type textOnly struct{ inner *fakeAdapter }

func (a textOnly) Type() channel.Type             { return a.inner.Type() }
func (a textOnly) Descriptor() channel.Descriptor { return a.inner.Descriptor() }

func (a textOnly) SendText(ctx context.Context, s channel.Session, dest, text string, opts channel.SendOptions) (string, error) {
	return a.inner.SendText(ctx, s, dest, text, opts)
}

type sessions struct {
	items map[string]channel.Session
}

func (s sessions) Session(_ context.Context, id string) (channel.Session, error) {
	session, ok := s.items[id]
	if !ok {
		return channel.Session{}, apperr.Newf(apperr.KindNotFound, "sessions", "session %s not found", id)
	}
	return session, nil
}

func (s sessions) DefaultSession(_ context.Context, tenantID string, ct channel.Type) (channel.Session, error) {
	for _, session := range s.items {
		if session.TenantID == tenantID && session.Type == ct && session.IsDefault {
			return session, nil
		}
	}
	return channel.Session{}, apperr.Newf(apperr.KindNotFound, "sessions", "no default session")
}

func (s sessions) Connected(session channel.Session) bool {
	return session.Status == channel.StatusConnected
}

type fixture struct {
	proxy    *dispatch.Proxy
	adapter  *fakeAdapter
	messages *message.Service
	tickets  *ticket.Service
	ticket   ticket.Ticket
	sessions sessions
	store    *memory.Store
	registry *channel.Registry
}

func newFixture(t *testing.T, desc channel.Descriptor) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	adapter := &fakeAdapter{desc: desc}
	registry := channel.NewRegistry()
	registry.MustRegister(adapter)

	sess := sessions{items: map[string]channel.Session{
		"s1": {ID: "s1", TenantID: "t1", Type: desc.Type, Status: channel.StatusConnected},
		"s2": {ID: "s2", TenantID: "t1", Type: desc.Type, Status: channel.StatusConnected, IsDefault: true},
		"s3": {ID: "s3", TenantID: "t1", Type: desc.Type, Status: channel.StatusDisconnected},
	}}
	_, err := store.UpsertContact(ctx, contacts.Contact{ID: "c1", TenantID: "t1", Channel: desc.Type, ExternalID: "5511999990000"})
	require.NoError(t, err)

	tickets := ticket.NewService(nil, store, nil)
	tk, err := tickets.Create(ctx, ticket.CreateInput{TenantID: "t1", ContactID: "c1", Channel: desc.Type, SessionID: "s1"})
	require.NoError(t, err)
	messages := message.NewService(nil, store, nil)
	proxy := dispatch.NewProxy(nil, registry, sess, contacts.NewService(nil, store), tickets, messages)
	return &fixture{proxy: proxy, adapter: adapter, messages: messages, tickets: tickets, ticket: tk, sessions: sess, store: store, registry: registry}
}

func whatsapp() channel.Descriptor {
	return channel.Descriptor{
		Type:          channel.TypeWhatsApp,
		Capabilities:  channel.Capabilities{Text: true, Media: true, Reply: true, Unsend: true, History: true},
		MaxTextLength: 20,
	}
}

func TestDispatchStoredMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, whatsapp())
	ctx := context.Background()
	quoted, _, err := f.messages.PersistInbound(ctx, message.InboundInput{TenantID: "t1", TicketID: f.ticket.ID, Body: "question", NativeID: "wamid.q"})
	require.NoError(t, err)
	m, err := f.messages.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: f.ticket.ID, ContactID: "c1", Body: "answer", QuotedMsgID: quoted.ID})
	require.NoError(t, err)

	res, err := f.proxy.Dispatch(ctx, f.ticket, dispatch.OutboundMessage{MessageID: m.ID, Body: m.Body, QuotedMsgID: m.QuotedMsgID})
	require.NoError(t, err)
	assert.Equal(t, "native-1", res.NativeID)
	assert.Equal(t, "s1", res.Session)
	assert.Equal(t, message.StatusSended, res.Message.Status)
	assert.Equal(t, []sent{{session: "s1", dest: "5511999990000", text: "answer", quoted: "wamid.q"}}, f.adapter.sent)

	tk, err := f.tickets.Get(ctx, "t1", f.ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "answer", tk.LastMessage)

	_, err = f.proxy.Dispatch(ctx, f.ticket, dispatch.OutboundMessage{MessageID: m.ID, Body: m.Body})
	assert.True(t, apperr.IsInvalidState(err), "a sent message is not dispatched twice")
}

func TestDispatchWithoutStoredMessageRecordsOnSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t, whatsapp())
	ctx := context.Background()

	res, err := f.proxy.Dispatch(ctx, f.ticket, dispatch.OutboundMessage{Body: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Message.ID)
	assert.True(t, res.Message.FromMe)

	f.adapter.err = apperr.Newf(apperr.KindInvalidPayload, "fake", "rejected")
	_, err = f.proxy.Dispatch(ctx, f.ticket, dispatch.OutboundMessage{Body: "bye"})
	require.Error(t, err)

	items, err := f.messages.ListByTicket(ctx, "t1", f.ticket.ID, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDispatchValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, whatsapp())
	ctx := context.Background()

	_, err := f.proxy.Dispatch(ctx, f.ticket, dispatch.OutboundMessage{Body: "  "})
	assert.True(t, apperr.IsInvalidPayload(err))

	long, err := f.messages.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: f.ticket.ID, Body: strings.Repeat("é", 21)})
	require.NoError(t, err)
	_, err = f.proxy.Dispatch(ctx, f.ticket, dispatch.OutboundMessage{MessageID: long.ID, Body: long.Body})
	assert.True(t, apperr.IsInvalidPayload(err))
	stored, err := f.messages.Get(ctx, "t1", long.ID)
	require.NoError(t, err)
	assert.Equal(t, message.StatusError, stored.Status)

	_, err = f.proxy.Dispatch(ctx, f.ticket, dispatch.OutboundMessage{Body: strings.Repeat("é", 20)})
	assert.NoError(t, err, "length is counted in characters")

	telegram := f.ticket
	telegram.Channel = channel.TypeTelegram
	_, err = f.proxy.Dispatch(ctx, telegram, dispatch.OutboundMessage{Body: "hi"})
	assert.True(t, apperr.IsConfiguration(err))
}

func TestDispatchMediaRequiresCapability(t *testing.T) {
	t.Parallel()
	desc := whatsapp()
	desc.Capabilities.Media = false
	f := newFixture(t, desc)
	_, err := f.proxy.Dispatch(context.Background(), f.ticket, dispatch.OutboundMessage{Media: &channel.Media{URL: "https://cdn.example/a.png"}})
	assert.True(t, apperr.IsInvalidPayload(err))

	registry := channel.NewRegistry()
	registry.MustRegister(textOnly{&fakeAdapter{desc: whatsapp()}})
	store := memory.New()
	proxy := dispatch.NewProxy(nil, registry, f.sessions, contacts.NewService(nil, store), ticket.NewService(nil, store, nil), message.NewService(nil, store, nil))
	_, err = proxy.Dispatch(context.Background(), f.ticket, dispatch.OutboundMessage{Media: &channel.Media{URL: "https://cdn.example/a.png"}})
	assert.True(t, apperr.IsInvalidPayload(err))
}

func TestDispatchSessionResolution(t *testing.T) {
	t.Parallel()
	f := newFixture(t, whatsapp())
	ctx := context.Background()

	gone := f.ticket
	gone.SessionID = "deleted"
	res, err := f.proxy.Dispatch(ctx, gone, dispatch.OutboundMessage{Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "s2", res.Session, "falls back to the default session")

	offline := f.ticket
	offline.SessionID = "s3"
	m, err := f.messages.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: f.ticket.ID, Body: "later"})
	require.NoError(t, err)
	_, err = f.proxy.Dispatch(ctx, offline, dispatch.OutboundMessage{MessageID: m.ID, Body: m.Body})
	assert.True(t, apperr.IsChannelUnavailable(err))

	stored, err := f.messages.Get(ctx, "t1", m.ID)
	require.NoError(t, err)
	assert.True(t, stored.LocallyPending(), "unavailable channels leave the message for a retry")
}

func TestDispatchTransientFailureKeepsPending(t *testing.T) {
	t.Parallel()
	f := newFixture(t, whatsapp())
	ctx := context.Background()
	f.adapter.err = errors.New("connection reset")
	m, err := f.messages.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: f.ticket.ID, Body: "hi"})
	require.NoError(t, err)

	_, err = f.proxy.Dispatch(ctx, f.ticket, dispatch.OutboundMessage{MessageID: m.ID, Body: m.Body})
	require.Error(t, err)
	stored, err := f.messages.Get(ctx, "t1", m.ID)
	require.NoError(t, err)
	assert.True(t, stored.LocallyPending())
}

// failingUpdates rejects the next n message updates.
type failingUpdates struct {
	*memory.Store
	mu sync.Mutex
	n  int
}

func (s *failingUpdates) UpdateMessage(ctx context.Context, m message.Message) (message.Message, error) {
	s.mu.Lock()
	if s.n > 0 {
		s.n--
		s.mu.Unlock()
		return message.Message{}, errors.New("connection reset")
	}
	s.mu.Unlock()
	return s.Store.UpdateMessage(ctx, m)
}

func TestDispatchRecordFailureNeverResends(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := []struct {
		name     string
		failures int
		firstErr bool
	}{
		{name: "transient update error is retried", failures: 1},
		{name: "persistent update error is recorded on the next pass", failures: 3, firstErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, whatsapp())
			store := &failingUpdates{Store: f.store}
			messages := message.NewService(nil, store, nil)
			proxy := dispatch.NewProxy(nil, f.registry, f.sessions, contacts.NewService(nil, f.store), f.tickets, messages)

			m, err := messages.CreateOutbound(ctx, message.OutboundInput{TenantID: "t1", TicketID: f.ticket.ID, ContactID: "c1", Body: "once"})
			require.NoError(t, err)
			store.mu.Lock()
			store.n = tc.failures
			store.mu.Unlock()

			out := dispatch.OutboundMessage{MessageID: m.ID, Body: m.Body}
			_, err = proxy.Dispatch(ctx, f.ticket, out)
			if tc.firstErr {
				require.Error(t, err)
				_, err = proxy.Dispatch(ctx, f.ticket, out)
			}
			require.NoError(t, err)

			stored, err := messages.Get(ctx, "t1", m.ID)
			require.NoError(t, err)
			assert.Equal(t, message.StatusSended, stored.Status)
			assert.Equal(t, "native-1", stored.NativeID)
			assert.Len(t, f.adapter.sent, 1, "the contact receives the message once")

			pending, err := messages.ListPendingByTenant(ctx, "t1", time.Now(), 0)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestDispatchRateLimit(t *testing.T) {
	t.Parallel()
	desc := whatsapp()
	desc.SendRate = 1
	desc.SendBurst = 1
	f := newFixture(t, desc)

	_, err := f.proxy.Dispatch(context.Background(), f.ticket, dispatch.OutboundMessage{Body: "one"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.proxy.Dispatch(ctx, f.ticket, dispatch.OutboundMessage{Body: "two"})
	require.Error(t, err, "second send within the same second waits past the deadline")
	assert.Len(t, f.adapter.sent, 1)
}

func TestRecall(t *testing.T) {
	t.Parallel()
	f := newFixture(t, whatsapp())
	ctx := context.Background()
	res, err := f.proxy.Dispatch(ctx, f.ticket, dispatch.OutboundMessage{Body: "oops"})
	require.NoError(t, err)

	f.adapter.history = []channel.HistoryMessage{{NativeID: "other"}, {NativeID: res.NativeID, FromMe: true}}
	require.NoError(t, f.proxy.Recall(ctx, res.Message))
	assert.Equal(t, []string{res.NativeID}, f.adapter.unsent)

	f.adapter.history = nil
	err = f.proxy.Recall(ctx, res.Message)
	assert.True(t, apperr.IsNotFound(err))
	assert.Len(t, f.adapter.unsent, 1)
}
