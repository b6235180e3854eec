package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/diagnosis/museum-visits/internal/utils"
	"github.com/diagnosis/museum-visits/pkg/events"
	"github.com/diagnosis/museum-visits/pkg/logger"
	"github.com/diagnosis/museum-visits/services/visits/internal/credential"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"github.com/google/uuid"
)

// CheckInRequest is whatever the door device could read: a scanned payload,
// a typed backup code, a token link, or an email with or without a booking id.
type CheckInRequest struct {
	Payload    string `json:"qrData,omitempty"`
	VisitorID  string `json:"visitorId,omitempty"`
	BackupCode string `json:"backupCode,omitempty"`
	TokenID    string `json:"token,omitempty"`
	BookingID  string `json:"bookingId,omitempty"`
	Email      string `json:"email,omitempty"`
	StaffID    string `json:"-"`
}

type CheckInResult struct {
	Success          bool              `json:"success"`
	AlreadyCheckedIn bool              `json:"alreadyCheckedIn"`
	ResolvedBy       string            `json:"resolvedBy"`
	Visitor          domain.VisitorDTO `json:"visitor"`
}

type CheckInService interface {
	CheckIn(ctx context.Context, req CheckInRequest) (*CheckInResult, error)
}

type checkInService struct {
	Deps
	strategies []strategy
}

func NewCheckInService(deps Deps) CheckInService {
	s := &checkInService{Deps: deps}
	s.strategies = []strategy{
		{name: ByVisitorID, applies: func(c credentials) bool { return isUUID(c.visitorID) }, resolve: s.byVisitorID},
		{name: ByBackupCode, applies: func(c credentials) bool { return c.backupCode != "" }, resolve: s.byBackupCode},
		{name: ByEmailAndBooking, applies: func(c credentials) bool { return c.email != "" && isUUID(c.bookingID) }, resolve: s.byEmailAndBooking},
		{name: ByToken, applies: func(c credentials) bool { return isUUID(c.tokenID) }, resolve: s.byToken},
		{name: ByEmailOnly, applies: func(c credentials) bool { return c.email != "" }, resolve: s.byEmailOnly},
	}
	return s
}

// Resolution strategies, tried in this order.
const (
	ByVisitorID       = "visitor_id"
	ByBackupCode      = "backup_code"
	ByEmailAndBooking = "email_and_booking"
	ByToken           = "token"
	ByEmailOnly       = "email"
)

type credentials struct {
	visitorID  string
	backupCode string
	tokenID    string
	bookingID  string
	email      string
}

type strategy struct {
	name    string
	applies func(credentials) bool
	// resolve returns domain.ErrNotFound to let the next strategy try.
	resolve func(ctx context.Context, c credentials) (*domain.Visitor, error)
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return s != "" && err == nil
}

// normalize merges the scanned payload with typed fields. Typed fields win.
func normalize(req CheckInRequest) (credentials, error) {
	c := credentials{
		visitorID:  utils.NormalizeString(req.VisitorID),
		backupCode: credential.CanonicalCode(req.BackupCode),
		tokenID:    utils.NormalizeString(req.TokenID),
		bookingID:  utils.NormalizeString(req.BookingID),
		email:      utils.NormalizeEmail(req.Email),
	}
	if raw := utils.NormalizeString(req.Payload); raw != "" {
		p, err := credential.ParsePayload(raw)
		if err != nil {
			// a scanner that read a bare code rather than a payload
			if c.backupCode == "" {
				c.backupCode = credential.CanonicalCode(raw)
			}
		} else {
			if c.visitorID == "" {
				c.visitorID = p.VisitorID
			}
			if c.backupCode == "" {
				c.backupCode = credential.CanonicalCode(p.BackupCode)
			}
			if c.tokenID == "" {
				c.tokenID = p.TokenID
			}
			if c.bookingID == "" {
				c.bookingID = p.BookingID
			}
		}
	}
	if c == (credentials{}) {
		return c, domain.NewValidationError("credential", "a QR payload, visitor id, backup code, token or email is required")
	}
	return c, nil
}

func (s *checkInService) resolve(ctx context.Context, c credentials) (*domain.Visitor, string, error) {
	for _, st := range s.strategies {
		if !st.applies(c) {
			continue
		}
		v, err := st.resolve(ctx, c)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, st.name, err
		}
		return v, st.name, nil
	}
	return nil, "", domain.ErrNotFound
}

func (s *checkInService) byVisitorID(ctx context.Context, c credentials) (*domain.Visitor, error) {
	return s.Visitors.GetByID(ctx, c.visitorID)
}

func (s *checkInService) byBackupCode(ctx context.Context, c credentials) (*domain.Visitor, error) {
	return s.Visitors.GetByBackupCode(ctx, c.backupCode)
}

func (s *checkInService) byEmailAndBooking(ctx context.Context, c credentials) (*domain.Visitor, error) {
	return s.Visitors.FindByEmailAndBooking(ctx, c.email, c.bookingID)
}

func (s *checkInService) byToken(ctx context.Context, c credentials) (*domain.Visitor, error) {
	t, err := s.Tokens.GetByID(ctx, c.tokenID)
	if err != nil {
		return nil, err
	}
	if t.VisitorID == "" {
		return nil, domain.ErrNotFound
	}
	return s.Visitors.GetByID(ctx, t.VisitorID)
}

func (s *checkInService) byEmailOnly(ctx context.Context, c credentials) (*domain.Visitor, error) {
	found, err := s.Visitors.FindByEmail(ctx, c.email, 2)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, domain.ErrNotFound
	}
	// Live bookings sort first. Cancelled matches only count when nothing live is left,
	// and then the cancellation is reported by CheckIn.
	if len(found) == 1 {
		return &found[0], nil
	}
	live, err := s.onLiveBooking(ctx, &found[0])
	if err != nil {
		return nil, err
	}
	if !live {
		return &found[0], nil
	}
	if live, err = s.onLiveBooking(ctx, &found[1]); err != nil {
		return nil, err
	}
	if !live {
		return &found[0], nil
	}
	return nil, domain.NewValidationError("email", "matches more than one visitor; scan the QR code or enter the backup code")
}

func (s *checkInService) onLiveBooking(ctx context.Context, v *domain.Visitor) (bool, error) {
	b, err := s.Bookings.GetByID(ctx, v.BookingID)
	if err != nil {
		return false, fmt.Errorf("%w: load booking: %v", domain.ErrInternal, err)
	}
	return !b.IsCancelled(), nil
}

// CheckIn resolves the credential and moves the visitor to visited. Repeating a check-in
// is not an error: it reports AlreadyCheckedIn with the original checkin time.
func (s *checkInService) CheckIn(ctx context.Context, req CheckInRequest) (*CheckInResult, error) {
	c, err := normalize(req)
	if err != nil {
		return nil, err
	}
	v, resolvedBy, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	b, err := s.Bookings.GetByID(ctx, v.BookingID)
	if err != nil {
		return nil, fmt.Errorf("%w: load booking: %v", domain.ErrInternal, err)
	}
	if b.IsCancelled() {
		return nil, domain.ErrCancelled
	}
	if err := s.Validator.Check(v.Identity()).Err(); err != nil {
		return nil, err
	}
	if v.Status == domain.VisitorVisited {
		return already(v, b, resolvedBy), nil
	}
	if !domain.ValidVisitorTransition(domain.ActionCheckIn, v.Status) {
		return nil, fmt.Errorf("%w: visitor is %s", domain.ErrInvalidState, v.Status)
	}

	updated, applied, err := s.Visitors.MarkVisited(ctx, v.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: mark visited: %v", domain.ErrInternal, err)
	}
	if !applied {
		return s.afterLostRace(ctx, v.ID, resolvedBy)
	}

	logger.InfoContext(ctx, "Visitor checked in",
		"visitor_id", updated.ID, "booking_id", b.ID, "resolved_by", resolvedBy)
	publish(ctx, s.Publisher, events.VisitorCheckedIn, events.VisitorCheckedInEvent{
		BookingID:   b.ID,
		VisitorID:   updated.ID,
		CheckinTime: *updated.CheckinTime,
		StaffID:     req.StaffID,
	})

	return &CheckInResult{
		Success:    true,
		ResolvedBy: resolvedBy,
		Visitor:    domain.NewVisitorDTO(updated, b),
	}, nil
}

// afterLostRace re-reads a visitor whose conditional write matched nothing.
func (s *checkInService) afterLostRace(ctx context.Context, visitorID, resolvedBy string) (*CheckInResult, error) {
	v, err := s.Visitors.GetByID(ctx, visitorID)
	if err != nil {
		return nil, fmt.Errorf("%w: reload visitor: %v", domain.ErrInternal, err)
	}
	b, err := s.Bookings.GetByID(ctx, v.BookingID)
	if err != nil {
		return nil, fmt.Errorf("%w: reload booking: %v", domain.ErrInternal, err)
	}
	if b.IsCancelled() {
		return nil, domain.ErrCancelled
	}
	if v.Status == domain.VisitorVisited {
		return already(v, b, resolvedBy), nil
	}
	return nil, fmt.Errorf("%w: visitor is %s", domain.ErrInvalidState, v.Status)
}

func already(v *domain.Visitor, b *domain.Booking, resolvedBy string) *CheckInResult {
	return &CheckInResult{
		Success:          true,
		AlreadyCheckedIn: true,
		ResolvedBy:       resolvedBy,
		Visitor:          domain.NewVisitorDTO(v, b),
	}
}
