package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/channel"
)

// WhatsAppAdapter sends through the WhatsApp Cloud API; inbound arrives by webhook.
type WhatsAppAdapter struct {
	client *Client
}

func NewWhatsAppAdapter(client *Client) *WhatsAppAdapter {
	return &WhatsAppAdapter{client: client}
}

func (a *WhatsAppAdapter) Type() channel.Type {
	return channel.TypeWhatsApp
}

func (a *WhatsAppAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        channel.TypeWhatsApp,
		DisplayName: "WhatsApp",
		Capabilities: channel.Capabilities{
			Text:  true,
			Media: true,
			Reply: true,
		},
		MaxTextLength: 4096,
		SendRate:      20,
		SendBurst:     40,
	}
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (a *WhatsAppAdapter) SendText(ctx context.Context, session channel.Session, dest, text string, opts channel.SendOptions) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Newf(apperr.KindInvalidPayload, "whatsapp.send_text", "message text is required")
	}
	payload := waPayload(dest, opts)
	payload["type"] = "text"
	payload["text"] = map[string]any{"body": text, "preview_url": false}
	return a.send(ctx, session, "whatsapp.send_text", payload)
}

func (a *WhatsAppAdapter) SendMedia(ctx context.Context, session channel.Session, dest string, media channel.Media, caption string, opts channel.SendOptions) (string, error) {
	if strings.TrimSpace(media.URL) == "" {
		return "", apperr.Newf(apperr.KindInvalidPayload, "whatsapp.send_media", "media url is required")
	}
	kind := media.Kind()
	object := map[string]any{"link": media.URL}
	// audio messages carry no caption on WhatsApp
	if caption = strings.TrimSpace(caption); caption != "" && kind != "audio" {
		object["caption"] = caption
	}
	if kind == "document" && media.Filename != "" {
		object["filename"] = media.Filename
	}
	payload := waPayload(dest, opts)
	payload["type"] = kind
	payload[kind] = object
	return a.send(ctx, session, "whatsapp.send_media", payload)
}

// Check verifies the access token against the phone number object.
func (a *WhatsAppAdapter) Check(ctx context.Context, session channel.Session) error {
	const op = "whatsapp.check"
	token, err := accessToken(session, op)
	if err != nil {
		return err
	}
	phoneID, err := requiredCredential(session, op, "phoneNumberId", "phoneNumberId", "phone_number_id")
	if err != nil {
		return err
	}
	return a.client.do(ctx, op, http.MethodGet, "/"+phoneID, token, map[string]string{"fields": "id"}, nil, nil)
}

func (a *WhatsAppAdapter) send(ctx context.Context, session channel.Session, op string, payload map[string]any) (string, error) {
	token, err := accessToken(session, op)
	if err != nil {
		return "", err
	}
	phoneID, err := requiredCredential(session, op, "phoneNumberId", "phoneNumberId", "phone_number_id")
	if err != nil {
		return "", err
	}
	var out waSendResponse
	if err := a.client.do(ctx, op, http.MethodPost, "/"+phoneID+"/messages", token, nil, payload, &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", apperr.Newf(apperr.KindChannelUnavailable, op, "graph response carried no message id")
	}
	return out.Messages[0].ID, nil
}

func waPayload(dest string, opts channel.SendOptions) map[string]any {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                strings.TrimPrefix(strings.TrimSpace(dest), "+"),
	}
	if opts.QuotedNativeID != "" {
		payload["context"] = map[string]any{"message_id": opts.QuotedNativeID}
	}
	return payload
}

type waWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []waMessage `json:"messages"`
				Statuses []struct {
					ID          string `json:"id"`
					Status      string `json:"status"`
					RecipientID string `json:"recipient_id"`
					Timestamp   string `json:"timestamp"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type waMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *waMedia `json:"image"`
	Audio    *waMedia `json:"audio"`
	Video    *waMedia `json:"video"`
	Document *waMedia `json:"document"`
	Sticker  *waMedia `json:"sticker"`
	Context  *struct {
		ID string `json:"id"`
	} `json:"context"`
}

func (m waMessage) media() *waMedia {
	for _, item := range []*waMedia{m.Image, m.Audio, m.Video, m.Document, m.Sticker} {
		if item != nil {
			return item
		}
	}
	return nil
}

var waAckByStatus = map[string]int{
	"failed":    -1,
	"sent":      1,
	"delivered": 2,
	"read":      3,
	"played":    4,
}

func (a *WhatsAppAdapter) ParseWebhook(session channel.Session, body []byte) ([]channel.InboundEvent, error) {
	var hook waWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("decode whatsapp webhook: %w", err)
	}
	if hook.Object != "" && hook.Object != "whatsapp_business_account" {
		return nil, fmt.Errorf("unexpected webhook object %q", hook.Object)
	}
	events := make([]channel.InboundEvent, 0)
	for _, entry := range hook.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			names := map[string]string{}
			for _, contact := range value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, msg := range value.Messages {
				ev := channel.InboundEvent{
					Kind:            channel.EventMessage,
					SenderID:        msg.From,
					SenderName:      names[msg.From],
					Text:            strings.TrimSpace(msg.Text.Body),
					Timestamp:       parseUnix(msg.Timestamp),
					NativeMessageID: msg.ID,
				}
				if media := msg.media(); media != nil {
					ev.Media = &channel.Media{URL: a.client.MediaURL(media.ID), MimeType: media.MimeType, Filename: media.Filename}
					if ev.Text == "" {
						ev.Text = strings.TrimSpace(media.Caption)
					}
				}
				if msg.Context != nil {
					ev.QuotedNativeID = msg.Context.ID
				}
				if ev.Text == "" && ev.Media == nil {
					continue
				}
				events = append(events, ev)
			}
			for _, status := range value.Statuses {
				ack, ok := waAckByStatus[status.Status]
				if !ok {
					continue
				}
				events = append(events, channel.InboundEvent{
					Kind:            channel.EventAck,
					SenderID:        status.RecipientID,
					FromMe:          true,
					Timestamp:       parseUnix(status.Timestamp),
					NativeMessageID: status.ID,
					Ack:             ack,
				})
			}
		}
	}
	return events, nil
}
