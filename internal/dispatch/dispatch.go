// Package dispatch delivers outbound messages through the adapter registered for the
// ticket's channel and records the outcome on the message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/contacts"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
	"github.com/jvkabum/vue3-izing-sub001/internal/message"
	"github.com/jvkabum/vue3-izing-sub001/internal/ticket"
)

// Sessions resolves and reports the liveness of channel sessions.
type Sessions interface {
	Session(ctx context.Context, id string) (channel.Session, error)
	DefaultSession(ctx context.Context, tenantID string, channelType channel.Type) (channel.Session, error)
	Connected(session channel.Session) bool
}

// Contacts resolves the destination of a ticket.
type Contacts interface {
	Get(ctx context.Context, tenantID, id string) (contacts.Contact, error)
}

// Tickets reads tickets and records activity on them.
type Tickets interface {
	Get(ctx context.Context, tenantID, id string) (ticket.Ticket, error)
	TouchLastMessage(ctx context.Context, tenantID, ticketID string, in ticket.TouchInput) (ticket.Ticket, error)
}

// OutboundMessage is one send request. With MessageID set the stored pending message is
// updated; otherwise a message row is created once the platform accepts the send.
type OutboundMessage struct {
	MessageID   string
	Body        string
	Media       *channel.Media
	QuotedMsgID string
}

// DeliveryResult is the outcome of a successful send.
type DeliveryResult struct {
	Message  message.Message `json:"message"`
	NativeID string          `json:"nativeId"`
	Session  string          `json:"sessionId"`
}

// Proxy routes outbound messages to channel adapters.
type Proxy struct {
	registry *channel.Registry
	sessions Sessions
	contacts Contacts
	tickets  Tickets
	messages *message.Service
	logger   *slog.Logger

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	unrecorded map[string]unrecordedSend
}

// unrecordedSend is a delivery the platform accepted but the message row did not take.
type unrecordedSend struct {
	nativeID string
	session  string
}

const (
	recordAttempts   = 3
	recordRetryDelay = 50 * time.Millisecond
)

func NewProxy(log *slog.Logger, registry *channel.Registry, sessions Sessions, contacts Contacts, tickets Tickets, messages *message.Service) *Proxy {
	return &Proxy{
		registry:   registry,
		sessions:   sessions,
		contacts:   contacts,
		tickets:    tickets,
		messages:   messages,
		logger:     logger.OrDefault(log).With(slog.String("service", "dispatch")),
		limiters:   map[string]*rate.Limiter{},
		unrecorded: map[string]unrecordedSend{},
	}
}

// Dispatch sends out on the ticket's channel. Permanent failures mark a stored message as
// error; a ChannelUnavailable error leaves it pending for a retry.
func (p *Proxy) Dispatch(ctx context.Context, t ticket.Ticket, out OutboundMessage) (DeliveryResult, error) {
	log := p.logger.With(
		slog.String("tenant_id", t.TenantID),
		slog.String("ticket_id", t.ID),
		slog.String("channel", t.Channel.String()),
	)
	stored, err := p.loadStored(ctx, t, out)
	if err != nil {
		return DeliveryResult{}, err
	}
	if stored != nil {
		p.mu.Lock()
		prior, ok := p.unrecorded[stored.ID]
		p.mu.Unlock()
		if ok {
			return p.complete(ctx, log, t, out, stored, prior.session, prior.nativeID)
		}
	}

	session, adapter, err := p.prepare(ctx, t, out)
	if err != nil {
		return DeliveryResult{}, p.fail(ctx, log, stored, err)
	}
	contact, err := p.contacts.Get(ctx, t.TenantID, t.ContactID)
	if err != nil {
		return DeliveryResult{}, p.fail(ctx, log, stored, err)
	}
	opts := channel.SendOptions{}
	if out.QuotedMsgID != "" {
		if quoted, err := p.messages.Get(ctx, t.TenantID, out.QuotedMsgID); err == nil {
			opts.QuotedNativeID = quoted.NativeID
		}
	}
	if err := p.limiter(session, adapter.Descriptor()).Wait(ctx); err != nil {
		return DeliveryResult{}, err
	}

	nativeID, err := p.send(ctx, adapter, session, contact.ExternalID, out, opts)
	if err != nil {
		return DeliveryResult{}, p.fail(ctx, log, stored, err)
	}
	return p.complete(ctx, log, t, out, stored, session.ID, nativeID)
}

// complete records a message the platform accepted. A stored message whose row cannot be
// updated is remembered, so the next dispatch of it records the platform id instead of
// sending again.
func (p *Proxy) complete(ctx context.Context, log *slog.Logger, t ticket.Ticket, out OutboundMessage, stored *message.Message, sessionID, nativeID string) (DeliveryResult, error) {
	msg, err := p.recordSent(ctx, t, out, stored, nativeID)
	if err != nil {
		log.Error("record sent message failed", slog.String("native_id", nativeID), slog.Any("error", err))
		if stored == nil {
			return DeliveryResult{NativeID: nativeID, Session: sessionID}, nil
		}
		p.mu.Lock()
		p.unrecorded[stored.ID] = unrecordedSend{nativeID: nativeID, session: sessionID}
		p.mu.Unlock()
		return DeliveryResult{NativeID: nativeID, Session: sessionID}, fmt.Errorf("record sent message %s: %w", stored.ID, err)
	}
	if stored != nil {
		p.mu.Lock()
		delete(p.unrecorded, stored.ID)
		p.mu.Unlock()
	}

	preview := out.Body
	if preview == "" && out.Media != nil {
		preview = out.Media.Filename
	}
	if _, err := p.tickets.TouchLastMessage(ctx, t.TenantID, t.ID, ticket.TouchInput{Body: preview, At: msg.Timestamp}); err != nil {
		log.Warn("touch ticket failed", slog.Any("error", err))
	}
	log.Debug("message dispatched", slog.String("session_id", sessionID), slog.String("native_id", nativeID))
	return DeliveryResult{Message: msg, NativeID: nativeID, Session: sessionID}, nil
}

// recordSent writes the platform id, retrying on a context detached from the send's
// deadline.
func (p *Proxy) recordSent(ctx context.Context, t ticket.Ticket, out OutboundMessage, stored *message.Message, nativeID string) (message.Message, error) {
	rctx := context.WithoutCancel(ctx)
	var (
		msg message.Message
		err error
	)
	for attempt := 1; attempt <= recordAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt-1) * recordRetryDelay)
		}
		if stored != nil {
			msg, err = p.messages.MarkSent(rctx, *stored, nativeID)
		} else {
			msg, err = p.messages.RecordSent(rctx, message.OutboundInput{
				TenantID:    t.TenantID,
				TicketID:    t.ID,
				ContactID:   t.ContactID,
				Body:        out.Body,
				Media:       out.Media,
				QuotedMsgID: out.QuotedMsgID,
			}, nativeID)
		}
		if err == nil {
			return msg, nil
		}
	}
	return message.Message{}, err
}

func (p *Proxy) loadStored(ctx context.Context, t ticket.Ticket, out OutboundMessage) (*message.Message, error) {
	if out.MessageID == "" {
		return nil, nil
	}
	m, err := p.messages.Get(ctx, t.TenantID, out.MessageID)
	if err != nil {
		return nil, err
	}
	if !m.LocallyPending() {
		return nil, apperr.Newf(apperr.KindInvalidState, "dispatch", "message %s is %s", m.ID, m.Status)
	}
	return &m, nil
}

// prepare validates out against the adapter and resolves a live session.
func (p *Proxy) prepare(ctx context.Context, t ticket.Ticket, out OutboundMessage) (channel.Session, channel.Adapter, error) {
	const op = "dispatch"
	if strings.TrimSpace(out.Body) == "" && out.Media == nil {
		return channel.Session{}, nil, apperr.Newf(apperr.KindInvalidPayload, op, "message has neither body nor media")
	}
	adapter, err := p.registry.Resolve(t.Channel)
	if err != nil {
		return channel.Session{}, nil, err
	}
	desc := adapter.Descriptor()
	if out.Media != nil {
		if _, ok := adapter.(channel.MediaSender); !ok || !desc.Capabilities.Media {
			return channel.Session{}, nil, apperr.Newf(apperr.KindInvalidPayload, op, "channel %s does not send media", t.Channel)
		}
	} else if _, ok := adapter.(channel.TextSender); !ok {
		return channel.Session{}, nil, apperr.Newf(apperr.KindConfiguration, op, "channel %s does not send text", t.Channel)
	}
	if desc.MaxTextLength > 0 && utf8.RuneCountInString(out.Body) > desc.MaxTextLength {
		return channel.Session{}, nil, apperr.Newf(apperr.KindInvalidPayload, op, "body exceeds %d characters on %s", desc.MaxTextLength, t.Channel)
	}

	session, err := p.resolveSession(ctx, t)
	if err != nil {
		return channel.Session{}, nil, err
	}
	if !p.sessions.Connected(session) {
		return channel.Session{}, nil, apperr.Newf(apperr.KindChannelUnavailable, op, "session %s is not connected", session.ID)
	}
	return session, adapter, nil
}

func (p *Proxy) resolveSession(ctx context.Context, t ticket.Ticket) (channel.Session, error) {
	if t.SessionID != "" {
		session, err := p.sessions.Session(ctx, t.SessionID)
		if err == nil {
			return session, nil
		}
		if !apperr.IsNotFound(err) {
			return channel.Session{}, err
		}
	}
	return p.sessions.DefaultSession(ctx, t.TenantID, t.Channel)
}

func (p *Proxy) send(ctx context.Context, adapter channel.Adapter, session channel.Session, dest string, out OutboundMessage, opts channel.SendOptions) (string, error) {
	if out.Media != nil {
		return adapter.(channel.MediaSender).SendMedia(ctx, session, dest, *out.Media, out.Body, opts)
	}
	return adapter.(channel.TextSender).SendText(ctx, session, dest, out.Body, opts)
}

// fail records permanent failures on the stored message and returns err.
func (p *Proxy) fail(ctx context.Context, log *slog.Logger, stored *message.Message, err error) error {
	log.Warn("dispatch failed", slog.String("kind", string(apperr.KindOf(err))), slog.Any("error", err))
	if stored == nil || apperr.Retryable(err) || errors.Is(err, context.Canceled) {
		return err
	}
	if _, markErr := p.messages.MarkError(ctx, *stored, err.Error()); markErr != nil {
		log.Error("mark message error failed", slog.String("message_id", stored.ID), slog.Any("error", markErr))
	}
	return err
}

func (p *Proxy) limiter(session channel.Session, desc channel.Descriptor) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.limiters[session.ID]; ok {
		return l
	}
	limit := rate.Inf
	burst := desc.SendBurst
	if desc.SendRate > 0 {
		limit = rate.Limit(desc.SendRate)
	}
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(limit, burst)
	p.limiters[session.ID] = l
	return l
}

// Recall withdraws a delivered message from the platform. When the adapter can read
// history the message is located first, so a message the platform no longer holds is
// not recalled blindly.
func (p *Proxy) Recall(ctx context.Context, m message.Message) error {
	const op = "dispatch.recall"
	t, err := p.tickets.Get(ctx, m.TenantID, m.TicketID)
	if err != nil {
		return err
	}
	unsender, ok := p.registry.Unsender(t.Channel)
	if !ok {
		return apperr.Newf(apperr.KindConfiguration, op, "channel %s cannot unsend", t.Channel)
	}
	session, err := p.resolveSession(ctx, t)
	if err != nil {
		return err
	}
	contact, err := p.contacts.Get(ctx, t.TenantID, t.ContactID)
	if err != nil {
		return err
	}
	if fetcher, ok := p.registry.HistoryFetcher(t.Channel); ok {
		lookup, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := channel.LocateMessage(lookup, fetcher, session, contact.ExternalID, m.NativeID)
		cancel()
		if err != nil {
			return err
		}
	}
	return unsender.Unsend(ctx, session, contact.ExternalID, m.NativeID)
}
