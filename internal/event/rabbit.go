package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

const publishTimeout = 5 * time.Second

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// RabbitBridge carries events between processes over a fanout exchange.
// Worker processes publish through it; the API process consumes and re-delivers
// into its Hub, skipping events that originated locally.
type RabbitBridge struct {
	conn     *amqp091.Connection
	pub      amqpPublisher
	exchange string
	origin   string
	logger   *slog.Logger
}

// DialRabbit connects to url and declares the fanout exchange.
func DialRabbit(log *slog.Logger, url, exchange, origin string) (*RabbitBridge, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp091.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	b := newRabbitBridge(log, ch, exchange, origin)
	b.conn = conn
	return b, nil
}

func newRabbitBridge(log *slog.Logger, pub amqpPublisher, exchange, origin string) *RabbitBridge {
	return &RabbitBridge{
		pub:      pub,
		exchange: exchange,
		origin:   origin,
		logger:   logger.OrDefault(log).With(slog.String("service", "event_rabbit")),
	}
}

// Publish sends the event to the exchange. Failures are logged and dropped.
func (b *RabbitBridge) Publish(room, name string, payload any) {
	ev, err := NewEvent(room, name, payload)
	if err != nil {
		b.logger.Warn("drop unencodable event", slog.String("event", name), slog.Any("error", err))
		return
	}
	ev.Origin = b.origin
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err = b.pub.PublishWithContext(ctx, b.exchange, "", false, false, amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   ev.At,
		Body:        body,
	})
	if err != nil {
		b.logger.Error("publish event to rabbitmq failed", slog.String("room", room), slog.String("event", name), slog.Any("error", err))
		return
	}
	b.logger.Debug("published event to rabbitmq", slog.String("room", room), slog.String("event", name))
}

// Consume binds an exclusive queue to the exchange and delivers remote events into hub until ctx ends.
func (b *RabbitBridge) Consume(ctx context.Context, hub *Hub) error {
	if b.conn == nil {
		return fmt.Errorf("rabbit bridge has no connection")
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare consume queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("bind consume queue: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	b.logger.Info("consuming remote events", slog.String("exchange", b.exchange))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			b.forward(hub, d.Body)
		}
	}
}

func (b *RabbitBridge) forward(hub *Hub, body []byte) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		b.logger.Warn("discard malformed remote event", slog.Any("error", err))
		return
	}
	if ev.Origin == b.origin {
		return
	}
	hub.Deliver(ev)
}

func (b *RabbitBridge) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
