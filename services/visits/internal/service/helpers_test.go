package service_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/museum-visits/pkg/config"
	"github.com/diagnosis/museum-visits/pkg/events"
	"github.com/diagnosis/museum-visits/pkg/logger"
	"github.com/diagnosis/museum-visits/services/visits/internal/capacity"
	"github.com/diagnosis/museum-visits/services/visits/internal/completion"
	"github.com/diagnosis/museum-visits/services/visits/internal/credential"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"github.com/diagnosis/museum-visits/services/visits/internal/repository/repotest"
	"github.com/diagnosis/museum-visits/services/visits/internal/service"
)

const (
	testDate = "2026-10-19" // Monday
	testSlot = "10:00-11:00"
)

func init() {
	logger.SetDefault(logger.New(io.Discard, "error"))
}

// clock ticks one second on every read so successive writes get distinct timestamps.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type published struct {
	subject string
	data    interface{}
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.msgs {
		if m.subject == subject {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) notifications() []events.NotificationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.NotificationEvent
	for _, m := range p.msgs {
		if n, ok := m.data.(events.NotificationEvent); ok {
			out = append(out, n)
		}
	}
	return out
}

type pngStub struct{}

func (pngStub) Encode(content string) ([]byte, error) { return []byte(content), nil }

type fixture struct {
	store     *repotest.Store
	clock     *clock
	pub       *recordingPublisher
	deps      service.Deps
	bookings  service.BookingService
	companion service.CompanionService
	checkin   service.CheckInService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repotest.New()
	clk := newClock()
	pub := &recordingPublisher{}

	museum := config.MuseumConfig{
		OpenHour:       9,
		CloseHour:      17,
		SlotCapacity:   30,
		MaxPerBooking:  30,
		WalkInTokenTTL: 2 * time.Hour,
		GroupTokenTTL:  0,
		FrontendURL:    "https://visits.example.org",
	}
	mgr := capacity.NewManager(capacity.Rules{
		Capacity:       museum.SlotCapacity,
		MaxPerBooking:  museum.MaxPerBooking,
		OpenHour:       museum.OpenHour,
		CloseHour:      museum.CloseHour,
		ClosedWeekdays: []time.Weekday{time.Saturday, time.Sunday},
		Location:       time.UTC,
	}).WithClock(clk.Now)

	deps := service.Deps{
		Bookings:    store.Bookings(),
		Visitors:    store.Visitors(),
		Tokens:      store.Tokens(),
		Idempotency: store.Idempotency(),
		Capacity:    mgr,
		Issuer:      credential.NewIssuer(pngStub{}),
		Validator:   completion.NewValidator(completion.DefaultTable()),
		Publisher:   pub,
		Museum:      museum,
		Now:         clk.Now,
	}
	return &fixture{
		store:     store,
		clock:     clk,
		pub:       pub,
		deps:      deps,
		bookings:  service.NewBookingService(deps),
		companion: service.NewCompanionService(deps),
		checkin:   service.NewCheckInService(deps),
	}
}

func leader() domain.IdentityInput {
	return domain.IdentityInput{
		FirstName:   "Maria",
		LastName:    "Santos",
		Gender:      "female",
		Email:       "maria@example.org",
		Institution: "Rizal High School",
		Purpose:     "Field trip",
	}
}

func companionEmails(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "companion" + string(rune('a'+i%26)) + string(rune('a'+i/26)) + "@example.org"
	}
	return out
}

func groupReq(companions int) *domain.CreateBookingReq {
	return &domain.CreateBookingReq{
		Type:        "group",
		MainVisitor: leader(),
		Companions:  companionEmails(companions),
		Date:        testDate,
		Time:        testSlot,
	}
}

func individualReq(email string) *domain.CreateBookingReq {
	main := leader()
	main.Email = email
	return &domain.CreateBookingReq{Type: "individual", MainVisitor: main, Date: testDate, Time: testSlot}
}

func mustCreate(t *testing.T, f *fixture, req *domain.CreateBookingReq) *domain.CreateBookingRes {
	t.Helper()
	res, err := f.bookings.CreateBooking(context.Background(), req, "")
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	return res
}

func companionForm(first string) domain.IdentityInput {
	return domain.IdentityInput{FirstName: first, LastName: "Cruz", Gender: "male", Address: "Manila"}
}
