package channel

import (
	"context"
	"errors"
	"sync/atomic"
)

var ErrStopNotSupported = errors.New("channel connection stop not supported")

// InboundHandler receives normalized events from a live connection.
type InboundHandler func(ctx context.Context, session Session, ev InboundEvent) error

// Adapter is the minimal contract; capabilities are separate interfaces checked at lookup.
type Adapter interface {
	Type() Type
	Descriptor() Descriptor
}

// TextSender sends a text message and returns the platform-native message id.
type TextSender interface {
	SendText(ctx context.Context, session Session, dest, text string, opts SendOptions) (string, error)
}

// MediaSender sends one media reference with an optional caption.
type MediaSender interface {
	SendMedia(ctx context.Context, session Session, dest string, media Media, caption string, opts SendOptions) (string, error)
}

// Receiver keeps a live inbound connection for a session (long poll, socket).
type Receiver interface {
	Connect(ctx context.Context, session Session, handler InboundHandler) (Connection, error)
}

// WebhookParser turns a platform webhook body into events for adapters whose inbound path is HTTP push.
type WebhookParser interface {
	ParseWebhook(session Session, body []byte) ([]InboundEvent, error)
}

// Unsender recalls a delivered message on the platform.
type Unsender interface {
	Unsend(ctx context.Context, session Session, dest, nativeID string) error
}

// HistoryFetcher returns the most recent limit messages of a conversation, newest first.
type HistoryFetcher interface {
	FetchRecent(ctx context.Context, session Session, dest string, limit int) ([]HistoryMessage, error)
}

// Connection is a running receiver.
type Connection interface {
	SessionID() string
	Type() Type
	Stop(ctx context.Context) error
	Running() bool
}

type BaseConnection struct {
	sessionID   string
	channelType Type
	stop        func(ctx context.Context) error
	running     atomic.Bool
}

func NewConnection(session Session, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		sessionID:   session.ID,
		channelType: session.Type,
		stop:        stop,
	}
	conn.running.Store(true)
	return conn
}

func (c *BaseConnection) SessionID() string {
	return c.sessionID
}

func (c *BaseConnection) Type() Type {
	return c.channelType
}

func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	err := c.stop(ctx)
	if err == nil {
		c.running.Store(false)
	}
	return err
}

// MarkStopped records that the underlying transport ended on its own.
func (c *BaseConnection) MarkStopped() {
	c.running.Store(false)
}

func (c *BaseConnection) Running() bool {
	return c.running.Load()
}
