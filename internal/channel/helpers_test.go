package channel_test

import (
	"context"
	"sync"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
)

const testChannelType = channel.Type("test")

type fakeAdapter struct {
	channelType channel.Type

	mu        sync.Mutex
	connects  int
	connected map[string]*channel.BaseConnection
	handler   channel.InboundHandler
	history   []channel.HistoryMessage
	fetches   []int
}

func newFakeAdapter(ct channel.Type) *fakeAdapter {
	return &fakeAdapter{channelType: ct, connected: map[string]*channel.BaseConnection{}}
}

func (a *fakeAdapter) Type() channel.Type { return a.channelType }

func (a *fakeAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: a.channelType, DisplayName: "Test", Capabilities: channel.Capabilities{Text: true}}
}

func (a *fakeAdapter) SendText(_ context.Context, _ channel.Session, _, _ string, _ channel.SendOptions) (string, error) {
	return "native-1", nil
}

func (a *fakeAdapter) Connect(_ context.Context, session channel.Session, handler channel.InboundHandler) (channel.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	a.handler = handler
	conn := channel.NewConnection(session, func(context.Context) error { return nil })
	a.connected[session.ID] = conn
	return conn, nil
}

func (a *fakeAdapter) FetchRecent(_ context.Context, _ channel.Session, _ string, limit int) ([]channel.HistoryMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches = append(a.fetches, limit)
	if limit > len(a.history) {
		limit = len(a.history)
	}
	return a.history[:limit], nil
}

// webhookOnly has no Receiver capability.
type webhookOnly struct{ channelType channel.Type }

func (w webhookOnly) Type() channel.Type { return w.channelType }

func (w webhookOnly) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: w.channelType, DisplayName: "Hook"}
}

func (w webhookOnly) ParseWebhook(_ channel.Session, body []byte) ([]channel.InboundEvent, error) {
	return []channel.InboundEvent{{Kind: channel.EventMessage, SenderID: "c1", Text: string(body)}}, nil
}

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]channel.Session
	updates  []channel.SessionStatus
}

func newMemorySessions(items ...channel.Session) *memorySessions {
	s := &memorySessions{sessions: map[string]channel.Session{}}
	for _, item := range items {
		s.sessions[item.ID] = item
	}
	return s
}

func (s *memorySessions) ListSessions(context.Context) ([]channel.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]channel.Session, 0, len(s.sessions))
	for _, item := range s.sessions {
		out = append(out, item)
	}
	return out, nil
}

func (s *memorySessions) GetSession(_ context.Context, id string) (channel.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.sessions[id]
	if !ok {
		return channel.Session{}, apperr.Newf(apperr.KindNotFound, "test.get_session", "session %s", id)
	}
	return item, nil
}

func (s *memorySessions) FindDefaultSession(_ context.Context, tenantID string, ct channel.Type) (channel.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.sessions {
		if item.TenantID == tenantID && item.Type == ct && item.IsDefault {
			return item, nil
		}
	}
	return channel.Session{}, apperr.ErrNotFound
}

func (s *memorySessions) UpdateSessionStatus(_ context.Context, id string, status channel.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.sessions[id]
	item.Status = status
	s.sessions[id] = item
	s.updates = append(s.updates, status)
	return nil
}

func (s *memorySessions) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

type recordingProcessor struct {
	mu     sync.Mutex
	events []channel.InboundEvent
	done   chan struct{}
}

func newRecordingProcessor(expect int) *recordingProcessor {
	return &recordingProcessor{done: make(chan struct{}, expect)}
}

func (p *recordingProcessor) HandleInbound(_ context.Context, _ channel.Session, ev channel.InboundEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	p.done <- struct{}{}
	return nil
}

func (p *recordingProcessor) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Text)
	}
	return out
}
