package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
)

// PageAdapter serves the page-scoped Send API shared by Messenger and Instagram.
type PageAdapter struct {
	client      *Client
	channelType channel.Type
	platform    string
	object      string
}

func NewMessengerAdapter(client *Client) *PageAdapter {
	return &PageAdapter{client: client, channelType: channel.TypeMessenger, platform: "messenger", object: "page"}
}

func NewInstagramAdapter(client *Client) *PageAdapter {
	return &PageAdapter{client: client, channelType: channel.TypeInstagram, platform: "instagram", object: "instagram"}
}

func (a *PageAdapter) Type() channel.Type {
	return a.channelType
}

func (a *PageAdapter) Descriptor() channel.Descriptor {
	name := "Messenger"
	maxText := 2000
	if a.channelType == channel.TypeInstagram {
		name = "Instagram"
		maxText = 1000
	}
	return channel.Descriptor{
		Type:        a.channelType,
		DisplayName: name,
		Capabilities: channel.Capabilities{
			Text:    true,
			Media:   true,
			Reply:   true,
			History: true,
		},
		MaxTextLength: maxText,
		SendRate:      10,
		SendBurst:     20,
	}
}

type pageSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

func (a *PageAdapter) op(name string) string {
	return a.platform + "." + name
}

func (a *PageAdapter) SendText(ctx context.Context, session channel.Session, dest, text string, opts channel.SendOptions) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Newf(apperr.KindInvalidPayload, a.op("send_text"), "message text is required")
	}
	message := map[string]any{"text": text}
	if opts.QuotedNativeID != "" {
		message["reply_to"] = map[string]any{"mid": opts.QuotedNativeID}
	}
	return a.send(ctx, session, a.op("send_text"), dest, message)
}

// SendMedia sends the attachment; a caption goes out as a follow-up text because the
// Send API has no attachment captions.
func (a *PageAdapter) SendMedia(ctx context.Context, session channel.Session, dest string, media channel.Media, caption string, opts channel.SendOptions) (string, error) {
	if strings.TrimSpace(media.URL) == "" {
		return "", apperr.Newf(apperr.KindInvalidPayload, a.op("send_media"), "media url is required")
	}
	kind := media.Kind()
	if kind == "document" {
		kind = "file"
	}
	message := map[string]any{
		"attachment": map[string]any{
			"type":    kind,
			"payload": map[string]any{"url": media.URL, "is_reusable": true},
		},
	}
	id, err := a.send(ctx, session, a.op("send_media"), dest, message)
	if err != nil {
		return "", err
	}
	if caption = strings.TrimSpace(caption); caption != "" {
		if _, err := a.SendText(ctx, session, dest, caption, opts); err != nil {
			a.client.logger.Warn("caption follow-up failed", slog.String("session_id", session.ID), slog.Any("error", err))
		}
	}
	return id, nil
}

func (a *PageAdapter) send(ctx context.Context, session channel.Session, op, dest string, message map[string]any) (string, error) {
	token, err := accessToken(session, op)
	if err != nil {
		return "", err
	}
	pageID, err := requiredCredential(session, op, "pageId", "pageId", "page_id")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(dest) == "" {
		return "", apperr.Newf(apperr.KindInvalidPayload, op, "recipient is required")
	}
	payload := map[string]any{
		"recipient":      map[string]any{"id": strings.TrimSpace(dest)},
		"messaging_type": "RESPONSE",
		"message":        message,
	}
	var out pageSendResponse
	if err := a.client.do(ctx, op, http.MethodPost, "/"+pageID+"/messages", token, nil, payload, &out); err != nil {
		return "", err
	}
	if out.MessageID == "" {
		return "", apperr.Newf(apperr.KindChannelUnavailable, op, "graph response carried no message id")
	}
	return out.MessageID, nil
}

// Check verifies the page token.
func (a *PageAdapter) Check(ctx context.Context, session channel.Session) error {
	op := a.op("check")
	token, err := accessToken(session, op)
	if err != nil {
		return err
	}
	return a.client.do(ctx, op, http.MethodGet, "/me", token, map[string]string{"fields": "id"}, nil, nil)
}

type pageConversations struct {
	Data []struct {
		Messages struct {
			Data []struct {
				ID          string `json:"id"`
				Message     string `json:"message"`
				CreatedTime string `json:"created_time"`
				From        struct {
					ID string `json:"id"`
				} `json:"from"`
			} `json:"data"`
		} `json:"messages"`
	} `json:"data"`
}

// FetchRecent lists the newest limit messages of the conversation with dest.
func (a *PageAdapter) FetchRecent(ctx context.Context, session channel.Session, dest string, limit int) ([]channel.HistoryMessage, error) {
	op := a.op("history")
	token, err := accessToken(session, op)
	if err != nil {
		return nil, err
	}
	pageID, err := requiredCredential(session, op, "pageId", "pageId", "page_id")
	if err != nil {
		return nil, err
	}
	query := map[string]string{
		"platform": a.platform,
		"user_id":  strings.TrimSpace(dest),
		"fields":   fmt.Sprintf("messages.limit(%d){id,message,created_time,from}", limit),
	}
	var out pageConversations
	if err := a.client.do(ctx, op, http.MethodGet, "/"+pageID+"/conversations", token, query, nil, &out); err != nil {
		return nil, err
	}
	items := make([]channel.HistoryMessage, 0, limit)
	for _, conv := range out.Data {
		for _, msg := range conv.Messages.Data {
			ts, _ := time.Parse("2006-01-02T15:04:05-0700", msg.CreatedTime)
			items = append(items, channel.HistoryMessage{
				NativeID:  msg.ID,
				FromMe:    msg.From.ID == pageID,
				Text:      msg.Message,
				Timestamp: ts,
			})
		}
	}
	return items, nil
}

type pageWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string          `json:"id"`
		Messaging []pageMessaging `json:"messaging"`
	} `json:"entry"`
}

type pageMessaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		Mid         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
		ReplyTo *struct {
			Mid string `json:"mid"`
		} `json:"reply_to"`
	} `json:"message"`
	Delivery *struct {
		Mids []string `json:"mids"`
	} `json:"delivery"`
}

var attachmentMime = map[string]string{
	"image": "image/*",
	"audio": "audio/*",
	"video": "video/*",
	"file":  "application/octet-stream",
}

func (a *PageAdapter) ParseWebhook(session channel.Session, body []byte) ([]channel.InboundEvent, error) {
	var hook pageWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("decode %s webhook: %w", a.platform, err)
	}
	if hook.Object != "" && hook.Object != a.object {
		return nil, fmt.Errorf("unexpected webhook object %q", hook.Object)
	}
	events := make([]channel.InboundEvent, 0)
	for _, entry := range hook.Entry {
		for _, item := range entry.Messaging {
			ts := time.UnixMilli(item.Timestamp).UTC()
			if item.Delivery != nil {
				for _, mid := range item.Delivery.Mids {
					events = append(events, channel.InboundEvent{
						Kind:            channel.EventAck,
						SenderID:        item.Sender.ID,
						FromMe:          true,
						Timestamp:       ts,
						NativeMessageID: mid,
						Ack:             2,
					})
				}
			}
			if item.Message == nil {
				continue
			}
			ev := channel.InboundEvent{
				Kind:            channel.EventMessage,
				SenderID:        item.Sender.ID,
				Text:            strings.TrimSpace(item.Message.Text),
				Timestamp:       ts,
				NativeMessageID: item.Message.Mid,
			}
			if item.Message.IsEcho {
				// echoes of page sends: the contact is the recipient
				ev.FromMe = true
				ev.SenderID = item.Recipient.ID
			}
			if len(item.Message.Attachments) > 0 {
				att := item.Message.Attachments[0]
				ev.Media = &channel.Media{URL: att.Payload.URL, MimeType: attachmentMime[att.Type]}
			}
			if item.Message.ReplyTo != nil {
				ev.QuotedNativeID = item.Message.ReplyTo.Mid
			}
			if ev.Text == "" && ev.Media == nil {
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}
