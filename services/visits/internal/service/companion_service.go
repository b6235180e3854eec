package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/museum-visits/internal/utils"
	"github.com/diagnosis/museum-visits/pkg/events"
	"github.com/diagnosis/museum-visits/pkg/logger"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"github.com/diagnosis/museum-visits/services/visits/internal/repository"
	"github.com/google/uuid"
)

type CompanionService interface {
	// GetTokenInfo returns the form context for a companion link. When the link has
	// expired the info is returned together with domain.ErrExpired.
	GetTokenInfo(ctx context.Context, tokenID string) (*domain.TokenInfo, error)
	CompleteToken(ctx context.Context, tokenID string, in domain.IdentityInput) (*domain.CompleteTokenRes, error)
}

type companionService struct {
	Deps
}

func NewCompanionService(deps Deps) CompanionService {
	return &companionService{Deps: deps}
}

// tokenState is a companion token with the rows it hangs off.
type tokenState struct {
	token   *domain.CompanionToken
	booking *domain.Booking
	visitor *domain.Visitor
}

func (s *companionService) load(ctx context.Context, tokenID string) (*tokenState, error) {
	if _, err := uuid.Parse(tokenID); err != nil {
		return nil, domain.ErrNotFound
	}
	t, err := s.Tokens.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	b, err := s.Bookings.GetByID(ctx, t.BookingID)
	if err != nil {
		return nil, err
	}
	st := &tokenState{token: t, booking: b}
	if t.VisitorID != "" {
		v, err := s.Visitors.GetByID(ctx, t.VisitorID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		st.visitor = v
	}
	return st, nil
}

// classify names the reason a token can no longer be completed, or returns nil when it can.
// Expiry wins over completion so a lapsed link always reads as expired.
func classify(st *tokenState, now time.Time) error {
	switch {
	case st.booking.IsCancelled():
		return domain.ErrCancelled
	case st.token.IsExpired(now):
		return domain.ErrExpired
	case st.token.Status == domain.TokenCheckedIn, st.visitor != nil && st.visitor.QRUsed:
		return domain.ErrQrAlreadyUsed
	case st.token.Status == domain.TokenCompleted:
		return domain.ErrAlreadyCompleted
	case st.visitor == nil:
		return domain.ErrNotFound
	case !domain.ValidVisitorTransition(domain.ActionRegister, st.visitor.Status):
		return domain.ErrAlreadyCompleted
	}
	return nil
}

func (s *companionService) GetTokenInfo(ctx context.Context, tokenID string) (*domain.TokenInfo, error) {
	st, err := s.load(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	info := &domain.TokenInfo{
		Email:                st.token.Email,
		Status:               st.token.Status,
		VisitDate:            st.booking.VisitDate,
		VisitTime:            st.booking.TimeSlot,
		LinkExpired:          st.token.IsExpired(now),
		ExpiresAt:            st.token.ExpiresAt,
		InheritedInstitution: st.booking.Institution,
		InheritedPurpose:     st.booking.Purpose,
	}
	if err := classify(st, now); err != nil {
		if errors.Is(err, domain.ErrExpired) {
			return info, err
		}
		return nil, err
	}
	return info, nil
}

func (s *companionService) CompleteToken(ctx context.Context, tokenID string, raw domain.IdentityInput) (*domain.CompleteTokenRes, error) {
	st, err := s.load(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := classify(st, now); err != nil {
		return nil, err
	}

	in := normalizeIdentity(raw)
	if in.Email != "" && !utils.IsValidEmail(in.Email) {
		return nil, domain.NewValidationError("email", "is not a valid email address")
	}
	check := s.Validator.Check(in.Identity())
	if err := check.Err(); err != nil {
		return nil, err
	}
	if in.Institution == "" {
		in.Institution = st.booking.Institution
	}
	if in.Purpose == "" {
		in.Purpose = st.booking.Purpose
	}

	cred, err := s.Issuer.Regenerate(st.booking.ID, st.visitor.ID, st.token.ID, st.visitor.BackupCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}

	v, err := s.Tokens.Complete(ctx, repository.Completion{
		TokenID:          st.token.ID,
		Identity:         in,
		IdentityComplete: check.Complete,
		BackupCode:       cred.BackupCode,
		QRCode:           cred.Image,
		At:               now,
	})
	if errors.Is(err, domain.ErrInvalidState) {
		// lost a race with another submission, a cancellation or the expiry; report which
		fresh, lerr := s.load(ctx, tokenID)
		if lerr != nil {
			return nil, lerr
		}
		if cerr := classify(fresh, s.now()); cerr != nil {
			return nil, cerr
		}
		return nil, domain.ErrAlreadyCompleted
	}
	if err != nil {
		return nil, fmt.Errorf("%w: complete token: %v", domain.ErrInternal, err)
	}

	logger.InfoContext(ctx, "Companion registration completed",
		"booking_id", st.booking.ID, "visitor_id", v.ID, "token_id", st.token.ID)

	publish(ctx, s.Publisher, events.CompanionCompleted, events.CompanionCompletedEvent{
		BookingID:   st.booking.ID,
		VisitorID:   v.ID,
		TokenID:     st.token.ID,
		CompletedAt: now,
	})
	if v.Email != "" {
		dispatch(ctx, s.Publisher, []events.NotificationEvent{{
			Type:      "email",
			Recipient: v.Email,
			Subject:   "Your museum visit pass",
			Template:  events.TemplateCompanionCredential,
			Data: map[string]interface{}{
				"booking_id":  st.booking.ID,
				"visit_date":  st.booking.VisitDate,
				"time_slot":   st.booking.TimeSlot,
				"name":        v.FirstName,
				"backup_code": v.BackupCode,
				"qr_code":     v.QRCode,
			},
		}})
	}

	return &domain.CompleteTokenRes{
		Success:     true,
		VisitorID:   v.ID,
		QRCodeImage: v.QRCode,
		BackupCode:  v.BackupCode,
	}, nil
}
