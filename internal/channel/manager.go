package channel

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/event"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

// SessionStore persists channel sessions.
type SessionStore interface {
	ListSessions(ctx context.Context) ([]Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	FindDefaultSession(ctx context.Context, tenantID string, channelType Type) (Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error
}

// InboundProcessor consumes normalized inbound events.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, session Session, ev InboundEvent) error
}

// HealthChecker verifies the credentials of a session whose adapter has no live connection.
type HealthChecker interface {
	Check(ctx context.Context, session Session) error
}

const (
	defaultRefreshInterval = 30 * time.Second
	inboundQueueSize       = 256
	inboundWorkers         = 4
)

// Manager owns the live channel sessions: it reconciles receivers against the
// session store, tracks connection status and feeds inbound events to the processor.
type Manager struct {
	registry        *Registry
	store           SessionStore
	processor       InboundProcessor
	events          event.Broadcaster
	refreshInterval time.Duration
	logger          *slog.Logger

	refreshMu   sync.Mutex
	mu          sync.Mutex
	connections map[string]*connectionEntry
	status      map[string]SessionStatus

	inboundOnce   sync.Once
	inboundCtx    context.Context
	inboundCancel context.CancelFunc
	inboundQueues []chan inboundTask
	inboundWG     sync.WaitGroup
}

type connectionEntry struct {
	session    Session
	connection Connection
}

type inboundTask struct {
	ctx     context.Context
	session Session
	ev      InboundEvent
}

func NewManager(log *slog.Logger, registry *Registry, store SessionStore, processor InboundProcessor, events event.Broadcaster, refresh time.Duration) *Manager {
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	queues := make([]chan inboundTask, inboundWorkers)
	for i := range queues {
		queues[i] = make(chan inboundTask, inboundQueueSize)
	}
	return &Manager{
		registry:        registry,
		store:           store,
		processor:       processor,
		events:          events,
		refreshInterval: refresh,
		logger:          logger.OrDefault(log).With(slog.String("component", "channel")),
		connections:     map[string]*connectionEntry{},
		status:          map[string]SessionStatus{},
		inboundQueues:   queues,
	}
}

// Registry exposes the dispatch table.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// SetProcessor installs the inbound consumer. It must be called before Start.
func (m *Manager) SetProcessor(p InboundProcessor) {
	m.processor = p
}

// Start runs the reconcile loop until ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("manager start")
	m.startInboundWorkers(ctx)
	go func() {
		m.Refresh(ctx)
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("manager stop")
				m.stopAll(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				m.Refresh(ctx)
			}
		}
	}()
}

// Shutdown stops every connection and drains the inbound workers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopAll(ctx)
	if m.inboundCancel != nil {
		m.inboundCancel()
	}
	done := make(chan struct{})
	go func() {
		m.inboundWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh reconciles live connections with the stored sessions once.
func (m *Manager) Refresh(ctx context.Context) {
	if !m.refreshMu.TryLock() {
		return
	}
	defer m.refreshMu.Unlock()
	if m.store == nil {
		return
	}
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		m.logger.Error("list sessions failed", slog.Any("error", err))
		return
	}
	m.reconcile(ctx, sessions)
}

func (m *Manager) reconcile(ctx context.Context, sessions []Session) {
	active := map[string]Session{}
	for _, session := range sessions {
		if session.ID == "" {
			continue
		}
		if _, ok := m.registry.Get(session.Type); !ok {
			continue
		}
		active[session.ID] = session
		if _, ok := m.registry.Receiver(session.Type); ok {
			if err := m.ensureConnection(ctx, session); err != nil {
				m.logger.Error("adapter start failed", slog.String("channel", session.Type.String()), slog.String("session_id", session.ID), slog.Any("error", err))
				m.setStatus(ctx, session, StatusDisconnected)
			}
			continue
		}
		m.checkHealth(ctx, session)
	}

	m.mu.Lock()
	stale := make([]*connectionEntry, 0)
	for id, entry := range m.connections {
		if _, ok := active[id]; ok {
			continue
		}
		stale = append(stale, entry)
		delete(m.connections, id)
		delete(m.status, id)
	}
	m.mu.Unlock()
	for _, entry := range stale {
		m.stopConnection(ctx, entry)
	}
}

func (m *Manager) checkHealth(ctx context.Context, session Session) {
	checker, ok := m.registry.Get(session.Type)
	if !ok {
		return
	}
	hc, ok := checker.(HealthChecker)
	if !ok {
		m.mu.Lock()
		m.status[session.ID] = session.Status
		m.mu.Unlock()
		return
	}
	if err := hc.Check(ctx, session); err != nil {
		m.logger.Warn("session health check failed", slog.String("session_id", session.ID), slog.Any("error", err))
		m.setStatus(ctx, session, StatusDisconnected)
		return
	}
	m.setStatus(ctx, session, StatusConnected)
}

func (m *Manager) ensureConnection(ctx context.Context, session Session) error {
	m.mu.Lock()
	entry := m.connections[session.ID]
	if entry != nil && entry.connection.Running() && !entry.session.UpdatedAt.Before(session.UpdatedAt) {
		m.mu.Unlock()
		return nil
	}
	if entry != nil {
		delete(m.connections, session.ID)
	}
	m.mu.Unlock()

	if entry != nil {
		m.logger.Info("adapter restart", slog.String("channel", session.Type.String()), slog.String("session_id", session.ID))
		m.stopConnection(ctx, entry)
	}

	receiver, ok := m.registry.Receiver(session.Type)
	if !ok {
		return nil
	}
	m.setStatus(ctx, session, StatusOpening)
	m.logger.Info("adapter start", slog.String("channel", session.Type.String()), slog.String("session_id", session.ID))
	conn, err := receiver.Connect(context.WithoutCancel(ctx), session, m.HandleInbound)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if existing, ok := m.connections[session.ID]; ok && existing != nil {
		m.mu.Unlock()
		_ = conn.Stop(ctx)
		return nil
	}
	m.connections[session.ID] = &connectionEntry{session: session, connection: conn}
	m.mu.Unlock()
	m.setStatus(ctx, session, StatusConnected)
	return nil
}

func (m *Manager) stopConnection(ctx context.Context, entry *connectionEntry) {
	if entry == nil || entry.connection == nil {
		return
	}
	m.logger.Info("adapter stop", slog.String("channel", entry.session.Type.String()), slog.String("session_id", entry.session.ID))
	if err := entry.connection.Stop(ctx); err != nil && !errors.Is(err, ErrStopNotSupported) {
		m.logger.Warn("adapter stop failed", slog.String("session_id", entry.session.ID), slog.Any("error", err))
	}
}

func (m *Manager) stopAll(ctx context.Context) {
	m.mu.Lock()
	entries := make([]*connectionEntry, 0, len(m.connections))
	for id, entry := range m.connections {
		entries = append(entries, entry)
		delete(m.connections, id)
	}
	m.mu.Unlock()
	for _, entry := range entries {
		m.stopConnection(ctx, entry)
	}
}

func (m *Manager) setStatus(ctx context.Context, session Session, status SessionStatus) {
	m.mu.Lock()
	prev, known := m.status[session.ID]
	m.status[session.ID] = status
	m.mu.Unlock()
	if known && prev == status {
		return
	}
	if !known && session.Status == status {
		return
	}
	if m.store != nil {
		if err := m.store.UpdateSessionStatus(ctx, session.ID, status); err != nil {
			m.logger.Warn("persist session status failed", slog.String("session_id", session.ID), slog.Any("error", err))
		}
	}
	if m.events != nil {
		m.events.Publish(event.TenantRoom(session.TenantID), event.NameSessionUpdate, map[string]any{
			"sessionId": session.ID,
			"type":      session.Type,
			"status":    status,
		})
	}
}

// Status returns the live status of a session as last observed by this process.
func (m *Manager) Status(sessionID string) SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.connections[sessionID]; ok && entry.connection != nil && !entry.connection.Running() {
		return StatusDisconnected
	}
	if status, ok := m.status[sessionID]; ok {
		return status
	}
	return ""
}

// Connected reports whether sends against session may be attempted. A live receiver held
// by this process decides directly; otherwise the last observed or stored status applies,
// which is how processes that do not own receivers see sessions.
func (m *Manager) Connected(session Session) bool {
	m.mu.Lock()
	entry, live := m.connections[session.ID]
	status, observed := m.status[session.ID]
	m.mu.Unlock()
	if live && entry.connection != nil {
		return entry.connection.Running()
	}
	if observed && status != "" {
		return status == StatusConnected
	}
	return session.Status == StatusConnected
}

// Session loads a session by id.
func (m *Manager) Session(ctx context.Context, id string) (Session, error) {
	if m.store == nil {
		return Session{}, apperr.Newf(apperr.KindConfiguration, "channel.session", "session store not configured")
	}
	return m.store.GetSession(ctx, id)
}

// DefaultSession resolves the tenant's default session for a channel type.
func (m *Manager) DefaultSession(ctx context.Context, tenantID string, channelType Type) (Session, error) {
	if m.store == nil {
		return Session{}, apperr.Newf(apperr.KindConfiguration, "channel.default_session", "session store not configured")
	}
	session, err := m.store.FindDefaultSession(ctx, tenantID, channelType)
	if err != nil {
		if apperr.IsNotFound(err) {
			return Session{}, apperr.Newf(apperr.KindConfiguration, "channel.default_session", "tenant %s has no default %s connection", tenantID, channelType)
		}
		return Session{}, err
	}
	return session, nil
}

// HandleInbound queues ev for processing. Events of one conversation always land on the
// same worker so their order is preserved.
func (m *Manager) HandleInbound(ctx context.Context, session Session, ev InboundEvent) error {
	if m.processor == nil {
		return fmt.Errorf("inbound processor not configured")
	}
	m.startInboundWorkers(ctx)
	if m.inboundCtx.Err() != nil {
		return fmt.Errorf("inbound dispatcher stopped")
	}
	task := inboundTask{ctx: context.WithoutCancel(ctx), session: session, ev: ev}
	queue := m.inboundQueues[shard(session.ID+"|"+ev.Destination(), len(m.inboundQueues))]
	select {
	case queue <- task:
		return nil
	default:
		return fmt.Errorf("inbound queue full")
	}
}

// HandleWebhook parses a pushed webhook body for sessionID and queues the resulting events.
func (m *Manager) HandleWebhook(ctx context.Context, sessionID string, body []byte) (int, error) {
	session, err := m.Session(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	parser, ok := m.registry.WebhookParser(session.Type)
	if !ok {
		return 0, apperr.Newf(apperr.KindConfiguration, "channel.webhook", "channel %s does not accept webhooks", session.Type)
	}
	events, err := parser.ParseWebhook(session, body)
	if err != nil {
		return 0, apperr.New(apperr.KindInvalidPayload, "channel.webhook", err)
	}
	for _, ev := range events {
		if err := m.HandleInbound(ctx, session, ev); err != nil {
			return 0, err
		}
	}
	return len(events), nil
}

func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.TrimSpace(key)))
	return int(h.Sum32() % uint32(n))
}

func (m *Manager) startInboundWorkers(ctx context.Context) {
	m.inboundOnce.Do(func() {
		workerCtx := ctx
		if workerCtx == nil {
			workerCtx = context.Background()
		}
		m.inboundCtx, m.inboundCancel = context.WithCancel(context.WithoutCancel(workerCtx))
		for _, queue := range m.inboundQueues {
			m.inboundWG.Add(1)
			go m.runInboundWorker(m.inboundCtx, queue)
		}
	})
}

func (m *Manager) runInboundWorker(ctx context.Context, queue <-chan inboundTask) {
	defer m.inboundWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-queue:
			if err := m.processor.HandleInbound(task.ctx, task.session, task.ev); err != nil {
				m.logger.Error("inbound processing failed",
					slog.String("tenant_id", task.session.TenantID),
					slog.String("channel", task.session.Type.String()),
					slog.String("session_id", task.session.ID),
					slog.Any("error", err))
			}
		}
	}
}
