package settings

import (
	"context"
	"errors"
	"time"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
)

// ErrSettingsNotFound is returned by stores for tenants without stored settings.
var ErrSettingsNotFound = apperr.New(apperr.KindNotFound, "settings", errors.New("settings not found"))

// Defaults applied when a tenant has no stored settings.
const (
	DefaultDaysToClose            = 3
	DefaultChatbotInactiveMinutes = 30
)

// Settings holds the tenant-level knobs of the ticket lifecycle.
type Settings struct {
	TenantID string `json:"tenantId"`
	// DaysToClose is the inactivity threshold of the close sweep; always > 0.
	DaysToClose int `json:"daysToClose"`
	// ChatbotInactiveMinutes hands chatbot-owned tickets back to a queue after this idle time. Zero disables it.
	ChatbotInactiveMinutes int    `json:"chatbotInactiveMinutes"`
	ChatbotFarewell        string `json:"chatbotFarewell,omitempty"`
	// ChatbotFlowID is the auto-reply flow new conversations enter. Empty disables the chatbot.
	ChatbotFlowID     string        `json:"chatbotFlowId,omitempty"`
	OutOfHoursMessage string        `json:"outOfHoursMessage,omitempty"`
	BusinessHours     BusinessHours `json:"businessHours"`
	// TestNumbers restricts the welcome flow to these contacts while a tenant is testing (celularTeste).
	TestNumbers []string  `json:"testNumbers,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UpsertRequest is the input for updating tenant settings; nil fields keep their value.
type UpsertRequest struct {
	DaysToClose            *int           `json:"daysToClose,omitempty"`
	ChatbotInactiveMinutes *int           `json:"chatbotInactiveMinutes,omitempty"`
	ChatbotFarewell        *string        `json:"chatbotFarewell,omitempty"`
	ChatbotFlowID          *string        `json:"chatbotFlowId,omitempty"`
	OutOfHoursMessage      *string        `json:"outOfHoursMessage,omitempty"`
	BusinessHours          *BusinessHours `json:"businessHours,omitempty"`
	TestNumbers            *[]string      `json:"testNumbers,omitempty"`
}

// Store persists tenant settings.
type Store interface {
	GetSettings(ctx context.Context, tenantID string) (Settings, error)
	UpsertSettings(ctx context.Context, s Settings) error
	// ListTenantIDs returns every tenant that owns settings or channel sessions.
	ListTenantIDs(ctx context.Context) ([]string, error)
}
