package settings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
)

type fakeStore struct {
	mu    sync.Mutex
	items map[string]Settings
	reads int
}

func (f *fakeStore) GetSettings(_ context.Context, tenantID string) (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	item, ok := f.items[tenantID]
	if !ok {
		return Settings{}, apperr.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) UpsertSettings(_ context.Context, s Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[s.TenantID] = s
	return nil
}

func (f *fakeStore) ListTenantIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.items))
	for id := range f.items {
		out = append(out, id)
	}
	return out, nil
}

func TestGetDefaultsAndCache(t *testing.T) {
	store := &fakeStore{items: map[string]Settings{}}
	svc := NewService(nil, store, Options{DaysToClose: 5})

	got, err := svc.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.DaysToClose)
	assert.Equal(t, DefaultChatbotInactiveMinutes, got.ChatbotInactiveMinutes)

	_, err = svc.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.reads)
}

func TestUpsertValidatesAndInvalidates(t *testing.T) {
	store := &fakeStore{items: map[string]Settings{}}
	svc := NewService(nil, store, Options{})
	ctx := context.Background()

	zero := 0
	_, err := svc.Upsert(ctx, "t1", UpsertRequest{DaysToClose: &zero})
	assert.True(t, apperr.IsInvalidPayload(err))

	days := 7
	numbers := []string{"+55 (11) 99999-0000"}
	saved, err := svc.Upsert(ctx, "t1", UpsertRequest{DaysToClose: &days, TestNumbers: &numbers})
	require.NoError(t, err)
	assert.Equal(t, []string{"5511999990000"}, saved.TestNumbers)

	got, err := svc.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.DaysToClose)
	assert.True(t, got.IsTestNumber("5511999990000"))
	assert.False(t, got.IsTestNumber("5511888880000"))

	tenants, err := svc.Tenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, tenants)
}

func TestBusinessHoursIsOpen(t *testing.T) {
	hours := BusinessHours{
		Timezone: "America/Sao_Paulo",
		Days: []DaySchedule{
			{Weekday: time.Monday, Type: DayHours, Ranges: []Range{{Start: "08:00", End: "12:00"}, {Start: "13:00", End: "18:00"}}},
			{Weekday: time.Sunday, Type: DayClosed},
			{Weekday: time.Saturday, Type: DayOpen},
		},
		Holidays: []string{"2024-12-25"},
	}
	require.NoError(t, hours.Validate())
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"monday morning", time.Date(2024, 3, 4, 9, 30, 0, 0, loc), true},
		{"monday lunch", time.Date(2024, 3, 4, 12, 30, 0, 0, loc), false},
		{"monday closing edge", time.Date(2024, 3, 4, 18, 0, 0, 0, loc), false},
		{"monday from utc", time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC), true},
		{"sunday", time.Date(2024, 3, 3, 10, 0, 0, 0, loc), false},
		{"saturday", time.Date(2024, 3, 2, 23, 0, 0, 0, loc), true},
		{"unscheduled tuesday", time.Date(2024, 3, 5, 3, 0, 0, 0, loc), true},
		{"holiday", time.Date(2024, 12, 25, 10, 0, 0, 0, loc), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.open, hours.IsOpen(tt.at))
		})
	}

	assert.True(t, BusinessHours{}.IsOpen(time.Now()))
}

func TestBusinessHoursValidate(t *testing.T) {
	bad := []BusinessHours{
		{Timezone: "Mars/Olympus"},
		{Days: []DaySchedule{{Weekday: time.Monday, Type: DayHours}}},
		{Days: []DaySchedule{{Weekday: time.Monday, Type: DayHours, Ranges: []Range{{Start: "18:00", End: "08:00"}}}}},
		{Days: []DaySchedule{{Weekday: time.Monday, Type: "weird"}}},
		{Holidays: []string{"25/12/2024"}},
	}
	for i, b := range bad {
		assert.Error(t, b.Validate(), "case %d", i)
	}
}
