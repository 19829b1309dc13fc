package settings

import (
	"fmt"
	"strings"
	"time"
)

// DayType is the schedule kind of one weekday.
type DayType string

const (
	DayOpen   DayType = "open"
	DayClosed DayType = "closed"
	DayHours  DayType = "hours"
)

// Range is a local time window "HH:MM"-"HH:MM", end exclusive.
type Range struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DaySchedule is the attendance rule of one weekday.
type DaySchedule struct {
	Weekday time.Weekday `json:"weekday"`
	Type    DayType      `json:"type"`
	Ranges  []Range      `json:"ranges,omitempty"`
}

// BusinessHours is the weekly attendance schedule of a tenant. An empty schedule is always open.
type BusinessHours struct {
	Timezone string        `json:"timezone,omitempty"`
	Days     []DaySchedule `json:"days,omitempty"`
	// Holidays are closed dates in "2006-01-02" form, local to Timezone.
	Holidays []string `json:"holidays,omitempty"`
}

// Enabled reports whether any schedule is configured.
func (b BusinessHours) Enabled() bool {
	return len(b.Days) > 0 || len(b.Holidays) > 0
}

// Location is the tenant's time zone, UTC when unset or unknown.
func (b BusinessHours) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsOpen reports whether t falls inside attendance hours. Weekdays missing from the
// schedule are open.
func (b BusinessHours) IsOpen(t time.Time) bool {
	if !b.Enabled() {
		return true
	}
	local := t.In(b.Location())
	date := local.Format("2006-01-02")
	for _, holiday := range b.Holidays {
		if holiday == date {
			return false
		}
	}
	minute := local.Hour()*60 + local.Minute()
	for _, day := range b.Days {
		if day.Weekday != local.Weekday() {
			continue
		}
		switch day.Type {
		case DayClosed:
			return false
		case DayHours:
			for _, r := range day.Ranges {
				start, errStart := parseClock(r.Start)
				end, errEnd := parseClock(r.End)
				if errStart != nil || errEnd != nil {
					continue
				}
				if minute >= start && minute < end {
					return true
				}
			}
			return false
		default:
			return true
		}
	}
	return true
}

// Validate rejects unknown timezones, malformed clocks and inverted ranges.
func (b BusinessHours) Validate() error {
	if b.Timezone != "" {
		if _, err := time.LoadLocation(b.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", b.Timezone, err)
		}
	}
	for _, day := range b.Days {
		if day.Weekday < time.Sunday || day.Weekday > time.Saturday {
			return fmt.Errorf("invalid weekday %d", day.Weekday)
		}
		switch day.Type {
		case DayOpen, DayClosed:
		case DayHours:
			if len(day.Ranges) == 0 {
				return fmt.Errorf("%s: hours schedule without ranges", day.Weekday)
			}
			for _, r := range day.Ranges {
				start, err := parseClock(r.Start)
				if err != nil {
					return fmt.Errorf("%s: %w", day.Weekday, err)
				}
				end, err := parseClock(r.End)
				if err != nil {
					return fmt.Errorf("%s: %w", day.Weekday, err)
				}
				if end <= start {
					return fmt.Errorf("%s: range %s-%s ends before it starts", day.Weekday, r.Start, r.End)
				}
			}
		default:
			return fmt.Errorf("%s: unknown day type %q", day.Weekday, day.Type)
		}
	}
	for _, holiday := range b.Holidays {
		if _, err := time.Parse("2006-01-02", holiday); err != nil {
			return fmt.Errorf("invalid holiday %q", holiday)
		}
	}
	return nil
}

func parseClock(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "24:00" {
		return 24 * 60, nil
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", raw)
	}
	return t.Hour()*60 + t.Minute(), nil
}
