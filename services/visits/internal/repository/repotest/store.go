// Package repotest provides an in-memory store that honours the same conditional
// write rules as the Postgres repositories.
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"github.com/diagnosis/museum-visits/services/visits/internal/repository"
)

type Store struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking
	visitors map[string]*domain.Visitor
	tokens   map[string]*domain.CompanionToken
	order    map[string]int // insertion order for stable listings
	seq      int
	idem     map[string]string

	// CreateErr, when set, is returned by Create after the reservation check.
	CreateErr error
	// DuplicateCodes makes the next n Create calls fail with ErrDuplicateBackupCode.
	DuplicateCodes int
	// CompleteKeyErr, when set, is returned by every idempotency Complete call.
	CompleteKeyErr error
}

func New() *Store {
	return &Store{
		bookings: make(map[string]*domain.Booking),
		visitors: make(map[string]*domain.Visitor),
		tokens:   make(map[string]*domain.CompanionToken),
		order:    make(map[string]int),
		idem:     make(map[string]string),
	}
}

// Bookings, Visitors, Tokens and Idempotency expose the store through the repository interfaces.
func (s *Store) Bookings() repository.BookingRepository { return bookingRepo{s} }
func (s *Store) Visitors() repository.VisitorRepository { return visitorRepo{s} }
func (s *Store) Tokens() repository.TokenRepository     { return tokenRepo{s} }
func (s *Store) Idempotency() repository.IdempotencyRepository {
	return idemRepo{s}
}

// Counts reports how many rows of each kind exist.
func (s *Store) Counts() (bookings, visitors, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings), len(s.visitors), len(s.tokens)
}

// SetVisitor overwrites a stored visitor; tests use it to build odd states.
func (s *Store) SetVisitor(v domain.Visitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := v
	s.visitors[v.ID] = &cp
	s.track(v.ID)
}

// SetBookingStatus forces a booking status.
func (s *Store) SetBookingStatus(id string, status domain.BookingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bookings[id]; ok {
		b.Status = status
	}
}

// ExpireToken moves a token's expiry into the past relative to at.
func (s *Store) ExpireToken(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[id]; ok {
		past := at.Add(-time.Minute)
		t.ExpiresAt = &past
	}
}

func (s *Store) track(id string) {
	if _, ok := s.order[id]; !ok {
		s.seq++
		s.order[id] = s.seq
	}
}

func (s *Store) seatCount(date, slot string) int {
	n := 0
	for _, v := range s.visitors {
		b := s.bookings[v.BookingID]
		if b == nil || b.IsCancelled() || b.VisitDate != date || b.TimeSlot != slot {
			continue
		}
		for _, st := range domain.SeatHoldingStatuses {
			if v.Status == st {
				n++
				break
			}
		}
	}
	return n
}

type lockedCounter struct{ s *Store }

func (c lockedCounter) BookedCount(_ context.Context, date, slot string) (int, error) {
	return c.s.seatCount(date, slot), nil
}

type bookingRepo struct{ s *Store }

func (r bookingRepo) Create(ctx context.Context, plan *repository.BookingPlan, reserve repository.ReserveFunc) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := reserve(ctx, lockedCounter{s}); err != nil {
		return err
	}
	if s.CreateErr != nil {
		return s.CreateErr
	}
	if s.DuplicateCodes > 0 {
		s.DuplicateCodes--
		return repository.ErrDuplicateBackupCode
	}
	for _, v := range plan.Visitors {
		for _, existing := range s.visitors {
			if v.BackupCode != "" && existing.BackupCode == v.BackupCode {
				return repository.ErrDuplicateBackupCode
			}
		}
	}

	b := plan.Booking
	s.bookings[b.ID] = &b
	s.track(b.ID)
	for _, v := range plan.Visitors {
		cp := v
		s.visitors[v.ID] = &cp
		s.track(v.ID)
	}
	for _, t := range plan.Tokens {
		cp := t
		s.tokens[t.ID] = &cp
		s.track(t.ID)
	}
	return nil
}

func (r bookingRepo) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r bookingRepo) BookedBySlot(_ context.Context, date string) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]int)
	for _, b := range r.s.bookings {
		if b.VisitDate == date {
			out[b.TimeSlot] = r.s.seatCount(date, b.TimeSlot)
		}
	}
	return out, nil
}

func (r bookingRepo) Approve(_ context.Context, id string) (*domain.Booking, error) {
	return r.transition(id, func(b *domain.Booking) bool {
		if b.Status != domain.BookingPending {
			return false
		}
		b.Status = domain.BookingApproved
		return true
	})
}

func (r bookingRepo) Cancel(_ context.Context, id, reason string) (*domain.Booking, error) {
	return r.transition(id, func(b *domain.Booking) bool {
		if b.IsCancelled() {
			return false
		}
		b.Status = domain.BookingCancelled
		b.CancelReason = reason
		return true
	})
}

func (r bookingRepo) transition(id string, apply func(*domain.Booking) bool) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !apply(b) {
		if b.IsCancelled() {
			return nil, domain.ErrCancelled
		}
		return nil, domain.ErrInvalidState
	}
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

type visitorRepo struct{ s *Store }

func (r visitorRepo) find(match func(*domain.Visitor) bool) []domain.Visitor {
	var out []domain.Visitor
	for _, v := range r.s.visitors {
		if match(v) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsMainVisitor != out[j].IsMainVisitor {
			return out[i].IsMainVisitor
		}
		return r.s.order[out[i].ID] < r.s.order[out[j].ID]
	})
	return out
}

func (r visitorRepo) first(match func(*domain.Visitor) bool) (*domain.Visitor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	found := r.find(match)
	if len(found) == 0 {
		return nil, domain.ErrNotFound
	}
	return &found[0], nil
}

func (r visitorRepo) GetByID(_ context.Context, id string) (*domain.Visitor, error) {
	return r.first(func(v *domain.Visitor) bool { return v.ID == id })
}

func (r visitorRepo) GetByBackupCode(_ context.Context, code string) (*domain.Visitor, error) {
	if code == "" {
		return nil, domain.ErrNotFound
	}
	return r.first(func(v *domain.Visitor) bool { return v.BackupCode == code })
}

func (r visitorRepo) FindByEmailAndBooking(_ context.Context, email, bookingID string) (*domain.Visitor, error) {
	return r.first(func(v *domain.Visitor) bool {
		return v.BookingID == bookingID && strings.EqualFold(v.Email, email)
	})
}

func (r visitorRepo) FindByEmail(_ context.Context, email string, limit int) ([]domain.Visitor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	found := r.find(func(v *domain.Visitor) bool {
		return r.s.bookings[v.BookingID] != nil && strings.EqualFold(v.Email, email)
	})
	sort.SliceStable(found, func(i, j int) bool {
		return !r.s.bookings[found[i].BookingID].IsCancelled() && r.s.bookings[found[j].BookingID].IsCancelled()
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (r visitorRepo) ListByBooking(_ context.Context, bookingID string) ([]domain.Visitor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.find(func(v *domain.Visitor) bool { return v.BookingID == bookingID }), nil
}

func (r visitorRepo) MarkVisited(_ context.Context, id string, at time.Time) (*domain.Visitor, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.visitors[id]
	if !ok || v.Status != domain.VisitorApproved {
		return nil, false, nil
	}
	if b := r.s.bookings[v.BookingID]; b == nil || b.IsCancelled() {
		return nil, false, nil
	}
	v.Status = domain.VisitorVisited
	when := at
	v.CheckinTime = &when
	v.QRUsed = true
	v.UpdatedAt = at
	for _, t := range r.s.tokens {
		if t.VisitorID == id {
			t.Status = domain.TokenCheckedIn
			t.UpdatedAt = at
		}
	}
	cp := *v
	return &cp, true, nil
}

func (r visitorRepo) UpdateCredential(_ context.Context, id, backupCode, qr string) (*domain.Visitor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.visitors[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if v.BackupCode == "" {
		v.BackupCode = backupCode
	}
	v.QRCode = qr
	cp := *v
	return &cp, nil
}

type tokenRepo struct{ s *Store }

func (r tokenRepo) GetByID(_ context.Context, id string) (*domain.CompanionToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r tokenRepo) GetByVisitorID(_ context.Context, visitorID string) (*domain.CompanionToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.VisitorID == visitorID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r tokenRepo) ListByBooking(_ context.Context, bookingID string) ([]domain.CompanionToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.CompanionToken
	for _, t := range r.s.tokens {
		if t.BookingID == bookingID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.s.order[out[i].ID] < r.s.order[out[j].ID] })
	return out, nil
}

func (r tokenRepo) Complete(_ context.Context, c repository.Completion) (*domain.Visitor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[c.TokenID]
	if !ok || t.Status != domain.TokenPending || t.IsExpired(c.At) {
		return nil, domain.ErrInvalidState
	}
	if b := r.s.bookings[t.BookingID]; b == nil || b.IsCancelled() {
		return nil, domain.ErrInvalidState
	}
	v, ok := r.s.visitors[t.VisitorID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if v.Status != domain.VisitorPendingRegistration {
		return nil, domain.ErrInvalidState
	}

	in := c.Identity
	v.FirstName, v.LastName, v.Gender, v.Address = in.FirstName, in.LastName, in.Gender, in.Address
	if in.Email != "" {
		v.Email = in.Email
	}
	v.VisitorType, v.Institution, v.Purpose = in.VisitorType, in.Institution, in.Purpose
	v.Status = domain.VisitorApproved
	v.IdentityComplete = c.IdentityComplete
	if v.BackupCode == "" {
		v.BackupCode = c.BackupCode
	}
	v.QRCode = c.QRCode
	v.UpdatedAt = c.At
	t.Status = domain.TokenCompleted
	t.UpdatedAt = c.At

	cp := *v
	return &cp, nil
}

type idemRepo struct{ s *Store }

func (r idemRepo) Begin(_ context.Context, key string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.idem[key]
	if !ok {
		r.s.idem[key] = ""
		return "", nil
	}
	if existing == "" {
		return "", repository.ErrRequestInFlight
	}
	return existing, nil
}

func (r idemRepo) Complete(_ context.Context, key, bookingID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.CompleteKeyErr != nil {
		return r.s.CompleteKeyErr
	}
	r.s.idem[key] = bookingID
	return nil
}

func (r idemRepo) Release(_ context.Context, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.idem, key)
	return nil
}
