package channel

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies a messaging platform.
type Type string

const (
	TypeWhatsApp  Type = "whatsapp"
	TypeTelegram  Type = "telegram"
	TypeMessenger Type = "messenger"
	TypeInstagram Type = "instagram"
	TypeAPI       Type = "api"
)

// KnownTypes lists every platform the helpdesk models.
var KnownTypes = []Type{TypeWhatsApp, TypeTelegram, TypeMessenger, TypeInstagram, TypeAPI}

func (t Type) String() string {
	return string(t)
}

// ParseType normalizes raw into a known Type.
func ParseType(raw string) (Type, error) {
	t := normalizeType(raw)
	for _, known := range KnownTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unsupported channel type: %s", raw)
}

func normalizeType(raw string) Type {
	return Type(strings.TrimSpace(strings.ToLower(raw)))
}

// SessionStatus is the connection state of a channel session.
type SessionStatus string

const (
	StatusConnected    SessionStatus = "CONNECTED"
	StatusDisconnected SessionStatus = "DISCONNECTED"
	StatusOpening      SessionStatus = "OPENING"
	StatusQRCode       SessionStatus = "QRCODE"
)

// Session is one connected platform account owned by a tenant.
type Session struct {
	ID          string
	TenantID    string
	Type        Type
	Name        string
	Status      SessionStatus
	IsDefault   bool
	Credentials map[string]any
	UpdatedAt   time.Time
}

// Credential returns the first non-empty string credential among keys.
func (s Session) Credential(keys ...string) string {
	return ReadString(s.Credentials, keys...)
}

// ReadString returns the first non-empty string value among keys of raw.
func ReadString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			switch value := v.(type) {
			case string:
				if s := strings.TrimSpace(value); s != "" {
					return s
				}
			case fmt.Stringer:
				if s := strings.TrimSpace(value.String()); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// Media references one attachment by URL.
type Media struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Kind derives the coarse media kind (image, audio, video, document) from the mime type.
func (m Media) Kind() string {
	mime := strings.ToLower(m.MimeType)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "image"
	case strings.HasPrefix(mime, "audio/"):
		return "audio"
	case strings.HasPrefix(mime, "video/"):
		return "video"
	default:
		return "document"
	}
}

// SendOptions carries optional send parameters.
type SendOptions struct {
	QuotedNativeID string
}

// EventKind distinguishes inbound messages from delivery acknowledgements.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventAck     EventKind = "ack"
)

// InboundEvent is the normalized shape every adapter emits.
type InboundEvent struct {
	Kind            EventKind
	SenderID        string
	SenderName      string
	ChatID          string
	IsGroup         bool
	FromMe          bool
	Text            string
	Media           *Media
	Timestamp       time.Time
	NativeMessageID string
	QuotedNativeID  string
	// Ack is the delivery state for EventAck (-1 error .. 4 played).
	Ack int
}

// Destination returns the address replies to this event go to.
func (e InboundEvent) Destination() string {
	if e.ChatID != "" {
		return e.ChatID
	}
	return e.SenderID
}

// HistoryMessage is one platform-side message returned by a history fetch.
type HistoryMessage struct {
	NativeID  string
	FromMe    bool
	Text      string
	Timestamp time.Time
}
