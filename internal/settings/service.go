package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

const defaultCacheTTL = time.Minute

// Service reads tenant settings through a short-lived cache; inbound traffic looks
// them up on every message.
type Service struct {
	store    Store
	logger   *slog.Logger
	cache    *cache.Cache
	defaults Settings
}

// Options overrides the process-wide defaults.
type Options struct {
	DaysToClose            int
	ChatbotInactiveMinutes int
	CacheTTL               time.Duration
}

func NewService(log *slog.Logger, store Store, opts Options) *Service {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	defaults := Settings{
		DaysToClose:            DefaultDaysToClose,
		ChatbotInactiveMinutes: DefaultChatbotInactiveMinutes,
	}
	if opts.DaysToClose > 0 {
		defaults.DaysToClose = opts.DaysToClose
	}
	if opts.ChatbotInactiveMinutes > 0 {
		defaults.ChatbotInactiveMinutes = opts.ChatbotInactiveMinutes
	}
	return &Service{
		store:    store,
		logger:   logger.OrDefault(log).With(slog.String("service", "settings")),
		cache:    cache.New(ttl, 2*ttl),
		defaults: defaults,
	}
}

// Get returns the tenant settings, falling back to defaults when none are stored.
func (s *Service) Get(ctx context.Context, tenantID string) (Settings, error) {
	if cached, ok := s.cache.Get(tenantID); ok {
		return cached.(Settings), nil
	}
	if s.store == nil {
		return Settings{}, fmt.Errorf("settings store not configured")
	}
	current, err := s.store.GetSettings(ctx, tenantID)
	if err != nil {
		if !apperr.IsNotFound(err) {
			return Settings{}, err
		}
		current = s.defaults
		current.TenantID = tenantID
	}
	if current.DaysToClose <= 0 {
		s.logger.Warn("stored daysToClose is not positive, using default", slog.String("tenant_id", tenantID), slog.Int("days_to_close", current.DaysToClose))
		current.DaysToClose = s.defaults.DaysToClose
	}
	s.cache.SetDefault(tenantID, current)
	return current, nil
}

// Upsert applies req over the current settings, validates and stores them.
func (s *Service) Upsert(ctx context.Context, tenantID string, req UpsertRequest) (Settings, error) {
	current, err := s.Get(ctx, tenantID)
	if err != nil {
		return Settings{}, err
	}
	if req.DaysToClose != nil {
		current.DaysToClose = *req.DaysToClose
	}
	if req.ChatbotInactiveMinutes != nil {
		current.ChatbotInactiveMinutes = *req.ChatbotInactiveMinutes
	}
	if req.ChatbotFarewell != nil {
		current.ChatbotFarewell = strings.TrimSpace(*req.ChatbotFarewell)
	}
	if req.ChatbotFlowID != nil {
		current.ChatbotFlowID = strings.TrimSpace(*req.ChatbotFlowID)
	}
	if req.OutOfHoursMessage != nil {
		current.OutOfHoursMessage = strings.TrimSpace(*req.OutOfHoursMessage)
	}
	if req.BusinessHours != nil {
		current.BusinessHours = *req.BusinessHours
	}
	if req.TestNumbers != nil {
		current.TestNumbers = normalizeNumbers(*req.TestNumbers)
	}
	current.TenantID = tenantID
	current.UpdatedAt = time.Now().UTC()
	if err := current.Validate(); err != nil {
		return Settings{}, err
	}
	if err := s.store.UpsertSettings(ctx, current); err != nil {
		return Settings{}, fmt.Errorf("upsert settings: %w", err)
	}
	s.cache.Delete(tenantID)
	return current, nil
}

// Tenants lists tenant ids known to the store.
func (s *Service) Tenants(ctx context.Context) ([]string, error) {
	if s.store == nil {
		return nil, fmt.Errorf("settings store not configured")
	}
	return s.store.ListTenantIDs(ctx)
}

// Invalidate drops the cached settings of tenantID.
func (s *Service) Invalidate(tenantID string) {
	s.cache.Delete(tenantID)
}

// Validate rejects settings the lifecycle cannot run with.
func (s Settings) Validate() error {
	if s.DaysToClose <= 0 {
		return apperr.Newf(apperr.KindInvalidPayload, "settings.validate", "daysToClose must be > 0, got %d", s.DaysToClose)
	}
	if s.ChatbotInactiveMinutes < 0 {
		return apperr.Newf(apperr.KindInvalidPayload, "settings.validate", "chatbotInactiveMinutes must be >= 0")
	}
	if err := s.BusinessHours.Validate(); err != nil {
		return apperr.New(apperr.KindInvalidPayload, "settings.validate", err)
	}
	return nil
}

// IsTestNumber reports whether number is on the test allow-list.
func (s Settings) IsTestNumber(number string) bool {
	number = normalizeNumber(number)
	for _, item := range s.TestNumbers {
		if normalizeNumber(item) == number {
			return true
		}
	}
	return false
}

func normalizeNumbers(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if n := normalizeNumber(item); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func normalizeNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.TrimSpace(raw)
	}
	return b.String()
}
