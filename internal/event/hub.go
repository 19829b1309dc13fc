// Package event provides the real-time broadcaster for ticket and message updates.
package event

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

const (
	// DefaultBufferSize is the default per-subscriber channel buffer.
	DefaultBufferSize = 64
)

// Event names published by the core.
const (
	NameTicketUpdate  = "ticket:update"
	NameMessageUpdate = "message:update"
	NameSessionUpdate = "session:update"
)

// Event is one broadcast delivered to a room.
type Event struct {
	Room    string          `json:"room"`
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
	// Origin identifies the publishing process so bridges can skip their own echoes.
	Origin string `json:"origin,omitempty"`
}

// Broadcaster is the fire-and-forget publish side. Publish never blocks on subscribers
// and never reports delivery.
type Broadcaster interface {
	Publish(room, name string, payload any)
}

// TenantRoom is the room every agent of a tenant listens to.
func TenantRoom(tenantID string) string {
	return "tenant:" + tenantID
}

// TicketRoom is the room of one open conversation view.
func TicketRoom(tenantID, ticketID string) string {
	return "tenant:" + tenantID + ":" + ticketID
}

// PublishTicket publishes name to both the ticket room and the tenant room.
func PublishTicket(b Broadcaster, tenantID, ticketID, name string, payload any) {
	if b == nil {
		return
	}
	if ticketID != "" {
		b.Publish(TicketRoom(tenantID, ticketID), name, payload)
	}
	b.Publish(TenantRoom(tenantID), name, payload)
}

// Hub is an in-process pub/sub dispatcher keyed by room.
type Hub struct {
	logger *slog.Logger
	origin string
	mu     sync.RWMutex
	rooms  map[string]map[string]chan Event
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		logger: logger.OrDefault(log).With(slog.String("service", "event_hub")),
		origin: uuid.NewString(),
		rooms:  map[string]map[string]chan Event{},
	}
}

// Origin is the process identity stamped on events published here.
func (h *Hub) Origin() string {
	return h.origin
}

// Publish encodes payload and delivers it to the room's subscribers.
func (h *Hub) Publish(room, name string, payload any) {
	if h == nil {
		return
	}
	ev, err := NewEvent(room, name, payload)
	if err != nil {
		h.logger.Warn("drop unencodable event", slog.String("event", name), slog.Any("error", err))
		return
	}
	ev.Origin = h.origin
	h.Deliver(ev)
}

// NewEvent builds an Event with a JSON payload.
func NewEvent(room, name string, payload any) (Event, error) {
	ev := Event{Room: room, Name: name, At: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = data
	}
	return ev, nil
}

// Deliver fans an already-built event out to local subscribers.
// Slow subscribers are skipped without blocking the publisher.
func (h *Hub) Deliver(ev Event) {
	if h == nil {
		return
	}
	room := strings.TrimSpace(ev.Room)
	if room == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.rooms[room] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers one subscriber for room.
// It returns a stream ID, the event channel and a cancel function that closes the channel.
func (h *Hub) Subscribe(room string, buffer int) (string, <-chan Event, func()) {
	room = strings.TrimSpace(room)
	if h == nil || room == "" {
		ch := make(chan Event)
		close(ch)
		return "", ch, func() {}
	}
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	streamID := uuid.NewString()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	streams, ok := h.rooms[room]
	if !ok {
		streams = map[string]chan Event{}
		h.rooms[room] = streams
	}
	streams[streamID] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			streams := h.rooms[room]
			if current, ok := streams[streamID]; ok {
				delete(streams, streamID)
				close(current)
			}
			if len(streams) == 0 {
				delete(h.rooms, room)
			}
		})
	}
	return streamID, ch, cancel
}

// Fanout publishes to several broadcasters in order.
type Fanout []Broadcaster

func (f Fanout) Publish(room, name string, payload any) {
	for _, b := range f {
		if b != nil {
			b.Publish(room, name, payload)
		}
	}
}

// Recorder keeps published events in memory. It is used where a broadcaster is required but nobody listens.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(room, name string, payload any) {
	ev, err := NewEvent(room, name, payload)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	out := make([]Event, 0)
	for _, ev := range r.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
