// Package capacity enforces the per-slot visitor limit and the museum calendar.
package capacity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/museum-visits/pkg/config"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
)

const dateLayout = "2006-01-02"

// SlotCounter reads the committed booked count for one slot.
// Implementations run inside the booking transaction.
type SlotCounter interface {
	BookedCount(ctx context.Context, date, slot string) (int, error)
}

// AvailabilityReader returns booked counts for every slot of a day, keyed by slot label.
type AvailabilityReader interface {
	BookedBySlot(ctx context.Context, date string) (map[string]int, error)
}

type Rules struct {
	Capacity       int
	MaxPerBooking  int
	OpenHour       int
	CloseHour      int
	ClosedWeekdays []time.Weekday
	ClosedDates    []string
	Location       *time.Location
}

// RulesFromConfig converts the environment configuration.
func RulesFromConfig(cfg config.MuseumConfig) (Rules, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Rules{}, fmt.Errorf("load museum timezone %q: %w", cfg.Timezone, err)
	}
	return Rules{
		Capacity:       cfg.SlotCapacity,
		MaxPerBooking:  cfg.MaxPerBooking,
		OpenHour:       cfg.OpenHour,
		CloseHour:      cfg.CloseHour,
		ClosedWeekdays: cfg.ClosedWeekdays,
		ClosedDates:    cfg.ClosedDates,
		Location:       loc,
	}, nil
}

type Slot struct {
	Label string
	Start int // hour of day
	End   int
}

type SlotAvailability struct {
	Time      string `json:"time"`
	Capacity  int    `json:"capacity"`
	Booked    int    `json:"booked"`
	Remaining int    `json:"remaining"`
}

type Manager struct {
	rules  Rules
	slots  []Slot
	closed map[string]struct{}
	now    func() time.Time
}

func NewManager(rules Rules) *Manager {
	if rules.Capacity <= 0 {
		rules.Capacity = domain.DefaultSlotCapacity
	}
	if rules.MaxPerBooking <= 0 {
		rules.MaxPerBooking = domain.DefaultMaxPerBooking
	}
	if rules.Location == nil {
		rules.Location = time.UTC
	}
	m := &Manager{
		rules:  rules,
		closed: make(map[string]struct{}, len(rules.ClosedDates)),
		now:    time.Now,
	}
	for h := rules.OpenHour; h < rules.CloseHour; h++ {
		m.slots = append(m.slots, Slot{Label: fmt.Sprintf("%02d:00-%02d:00", h, h+1), Start: h, End: h + 1})
	}
	for _, d := range rules.ClosedDates {
		m.closed[strings.TrimSpace(d)] = struct{}{}
	}
	return m
}

// WithClock replaces the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) Capacity() int      { return m.rules.Capacity }
func (m *Manager) MaxPerBooking() int { return m.rules.MaxPerBooking }
func (m *Manager) Slots() []Slot      { return append([]Slot(nil), m.slots...) }

// Location is the museum's timezone.
func (m *Manager) Location() *time.Location { return m.rules.Location }

// NormalizeSlot accepts "09:00-10:00", "09:00 – 10:00" or "9:00-10:00" and returns the canonical label.
func (m *Manager) NormalizeSlot(raw string) (string, bool) {
	s := strings.NewReplacer("–", "-", "—", "-", " ", "").Replace(strings.TrimSpace(raw))
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return "", false
	}
	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(parts[0], "%d:%d", &sh, &sm); err != nil {
		return "", false
	}
	if _, err := fmt.Sscanf(parts[1], "%d:%d", &eh, &em); err != nil {
		return "", false
	}
	label := fmt.Sprintf("%02d:%02d-%02d:%02d", sh, sm, eh, em)
	for _, slot := range m.slots {
		if slot.Label == label {
			return label, true
		}
	}
	return "", false
}

// ParseDate validates a YYYY-MM-DD date against the calendar and returns it in museum time.
func (m *Manager) ParseDate(date string) (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), m.rules.Location)
	if err != nil {
		return time.Time{}, domain.NewValidationError("date", "must be formatted YYYY-MM-DD")
	}
	for _, wd := range m.rules.ClosedWeekdays {
		if day.Weekday() == wd {
			return time.Time{}, domain.NewValidationError("date", "the museum is closed on %s", wd)
		}
	}
	if _, ok := m.closed[day.Format(dateLayout)]; ok {
		return time.Time{}, domain.NewValidationError("date", "the museum is closed on %s", day.Format(dateLayout))
	}
	now := m.now().In(m.rules.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.rules.Location)
	if day.Before(today) {
		return time.Time{}, domain.NewValidationError("date", "date is in the past")
	}
	return day, nil
}

// ValidateSlot checks the calendar and slot enumeration; it returns the canonical slot label.
func (m *Manager) ValidateSlot(date, slot string) (string, error) {
	day, err := m.ParseDate(date)
	if err != nil {
		return "", err
	}
	label, ok := m.NormalizeSlot(slot)
	if !ok {
		return "", domain.NewValidationError("time", "unknown time slot %q", slot)
	}
	for _, s := range m.slots {
		if s.Label != label {
			continue
		}
		end := time.Date(day.Year(), day.Month(), day.Day(), s.End, 0, 0, 0, m.rules.Location)
		if !m.now().Before(end) {
			return "", domain.NewValidationError("time", "time slot %s has already ended", label)
		}
	}
	return label, nil
}

// Reserve checks that count more visitors fit in the slot. It must run in the same
// transaction that writes the visitors, after the slot has been locked.
func (m *Manager) Reserve(ctx context.Context, counter SlotCounter, date, slot string, count int) error {
	if count < domain.MinVisitors {
		return domain.NewValidationError("visitors", "at least %d visitor is required", domain.MinVisitors)
	}
	if count > m.rules.MaxPerBooking {
		return domain.NewValidationError("visitors", "a booking may hold at most %d visitors", m.rules.MaxPerBooking)
	}
	booked, err := counter.BookedCount(ctx, date, slot)
	if err != nil {
		return fmt.Errorf("count booked visitors: %w", err)
	}
	remaining := m.rules.Capacity - booked
	if remaining < 0 {
		remaining = 0
	}
	if count > remaining {
		return &domain.CapacityError{Requested: count, RemainingSlots: remaining}
	}
	return nil
}

// Availability lists every slot of the day with its committed bookings.
func (m *Manager) Availability(ctx context.Context, reader AvailabilityReader, date string) ([]SlotAvailability, error) {
	if _, err := m.ParseDate(date); err != nil {
		return nil, err
	}
	booked, err := reader.BookedBySlot(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("read availability: %w", err)
	}
	out := make([]SlotAvailability, 0, len(m.slots))
	for _, s := range m.slots {
		n := booked[s.Label]
		remaining := m.rules.Capacity - n
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, SlotAvailability{Time: s.Label, Capacity: m.rules.Capacity, Booked: n, Remaining: remaining})
	}
	return out, nil
}
