// Package webhook implements the generic "api" channel: outbound messages are POSTed
// to the session's callback URL and inbound messages are pushed to the helpdesk API.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel/adapters/adapterutil"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

type Adapter struct {
	http   *resty.Client
	logger *slog.Logger
}

func NewAdapter(log *slog.Logger, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{
		http:   resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		logger: logger.OrDefault(log).With(slog.String("adapter", "webhook")),
	}
}

func (a *Adapter) Type() channel.Type {
	return channel.TypeAPI
}

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        channel.TypeAPI,
		DisplayName: "API",
		Capabilities: channel.Capabilities{
			Text:  true,
			Media: true,
			Reply: true,
		},
	}
}

// Outbound is the JSON body POSTed to the callback URL.
type Outbound struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"sessionId"`
	To              string         `json:"to"`
	Type            string         `json:"type"`
	Body            string         `json:"body,omitempty"`
	Media           *channel.Media `json:"media,omitempty"`
	QuotedMessageID string         `json:"quotedMessageId,omitempty"`
}

type callbackResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
}

func (a *Adapter) SendText(ctx context.Context, session channel.Session, dest, text string, opts channel.SendOptions) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperr.Newf(apperr.KindInvalidPayload, "api.send_text", "message text is required")
	}
	return a.post(ctx, session, "api.send_text", Outbound{To: dest, Type: "text", Body: text, QuotedMessageID: opts.QuotedNativeID})
}

func (a *Adapter) SendMedia(ctx context.Context, session channel.Session, dest string, media channel.Media, caption string, opts channel.SendOptions) (string, error) {
	if strings.TrimSpace(media.URL) == "" {
		return "", apperr.Newf(apperr.KindInvalidPayload, "api.send_media", "media url is required")
	}
	m := media
	return a.post(ctx, session, "api.send_media", Outbound{To: dest, Type: media.Kind(), Body: caption, Media: &m, QuotedMessageID: opts.QuotedNativeID})
}

func (a *Adapter) post(ctx context.Context, session channel.Session, op string, payload Outbound) (string, error) {
	callback := session.Credential("callbackUrl", "callback_url", "url")
	if callback == "" {
		return "", apperr.Newf(apperr.KindConfiguration, op, "session %s has no callbackUrl", session.ID)
	}
	payload.ID = uuid.NewString()
	payload.SessionID = session.ID
	req := a.http.R().SetContext(ctx).SetBody(payload)
	if token := session.Credential("token", "authToken"); token != "" {
		req.SetAuthToken(token)
	}
	var out callbackResponse
	resp, err := req.SetResult(&out).Post(callback)
	if err != nil {
		return "", adapterutil.ClassifyTransport(op, err)
	}
	if resp.IsError() {
		a.logger.Warn("callback rejected",
			slog.String("session_id", session.ID),
			slog.Int("status", resp.StatusCode()),
			slog.String("body", adapterutil.SummarizeText(resp.String())))
		return "", adapterutil.ClassifyStatus(op, resp.StatusCode(), resp.String())
	}
	switch {
	case out.MessageID != "":
		return out.MessageID, nil
	case out.ID != "":
		return out.ID, nil
	default:
		return payload.ID, nil
	}
}

// Inbound is one pushed event. Type "ack" carries a delivery state for MessageID.
type Inbound struct {
	Type      string         `json:"type"`
	From      string         `json:"from"`
	Name      string         `json:"name"`
	ChatID    string         `json:"chatId"`
	IsGroup   bool           `json:"isGroup"`
	FromMe    bool           `json:"fromMe"`
	Text      string         `json:"text"`
	Media     *channel.Media `json:"media"`
	MessageID string         `json:"messageId"`
	QuotedID  string         `json:"quotedMessageId"`
	Timestamp int64          `json:"timestamp"`
	Ack       int            `json:"ack"`
}

// ParseWebhook accepts a single event object or an array of them.
func (a *Adapter) ParseWebhook(_ channel.Session, body []byte) ([]channel.InboundEvent, error) {
	trimmed := bytes.TrimSpace(body)
	var items []Inbound
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode api webhook: %w", err)
		}
	} else {
		var item Inbound
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return nil, fmt.Errorf("decode api webhook: %w", err)
		}
		items = []Inbound{item}
	}
	events := make([]channel.InboundEvent, 0, len(items))
	for _, item := range items {
		ts := time.Now().UTC()
		if item.Timestamp > 0 {
			ts = time.Unix(item.Timestamp, 0).UTC()
		}
		ev := channel.InboundEvent{
			Kind:            channel.EventMessage,
			SenderID:        strings.TrimSpace(item.From),
			SenderName:      strings.TrimSpace(item.Name),
			ChatID:          strings.TrimSpace(item.ChatID),
			IsGroup:         item.IsGroup,
			FromMe:          item.FromMe,
			Text:            strings.TrimSpace(item.Text),
			Media:           item.Media,
			Timestamp:       ts,
			NativeMessageID: item.MessageID,
			QuotedNativeID:  item.QuotedID,
		}
		if strings.EqualFold(item.Type, "ack") {
			ev.Kind = channel.EventAck
			ev.Ack = item.Ack
			if ev.NativeMessageID == "" {
				return nil, fmt.Errorf("ack event without messageId")
			}
			events = append(events, ev)
			continue
		}
		if ev.SenderID == "" {
			return nil, fmt.Errorf("message event without sender")
		}
		if ev.Text == "" && ev.Media == nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
