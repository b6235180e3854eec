package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/museum-visits/internal/utils"
	"github.com/diagnosis/museum-visits/pkg/events"
	"github.com/diagnosis/museum-visits/pkg/logger"
	"github.com/diagnosis/museum-visits/services/visits/internal/capacity"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"github.com/diagnosis/museum-visits/services/visits/internal/repository"
	"github.com/google/uuid"
)

type BookingService interface {
	CreateBooking(ctx context.Context, req *domain.CreateBookingReq, idempotencyKey string) (*domain.CreateBookingRes, error)
	GetAvailability(ctx context.Context, date string) ([]capacity.SlotAvailability, error)
	GetBooking(ctx context.Context, id string) (*domain.BookingDetail, error)
	ApproveBooking(ctx context.Context, id string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id, reason string) (*domain.Booking, error)
	RegenerateCredential(ctx context.Context, visitorID string) (*domain.CredentialDTO, error)
}

type bookingService struct {
	Deps
}

func NewBookingService(deps Deps) BookingService {
	return &bookingService{Deps: deps}
}

// bookingInput is a validated and normalized CreateBookingReq.
type bookingInput struct {
	bookingType domain.BookingType
	main        domain.IdentityInput
	companions  []string
	members     []domain.IdentityInput
	date        string
	slot        string
}

func (in *bookingInput) total() int {
	return 1 + len(in.companions) + len(in.members)
}

func (s *bookingService) CreateBooking(ctx context.Context, req *domain.CreateBookingReq, idempotencyKey string) (*domain.CreateBookingRes, error) {
	in, err := s.validateBookingRequest(req)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != "" && s.Idempotency != nil {
		existingID, err := s.Idempotency.Begin(ctx, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if existingID != "" {
			return s.replay(ctx, existingID)
		}
	}

	var (
		plan *repository.BookingPlan
		res  *domain.CreateBookingRes
	)
	for attempt := 1; ; attempt++ {
		plan, res, err = s.buildPlan(in)
		if err != nil {
			break
		}
		err = s.Bookings.Create(ctx, plan, func(ctx context.Context, counter capacity.SlotCounter) error {
			return s.Capacity.Reserve(ctx, counter, in.date, in.slot, in.total())
		})
		if !errors.Is(err, repository.ErrDuplicateBackupCode) || attempt == maxCodeAttempts {
			break
		}
		logger.WarnContext(ctx, "Backup code collision, reissuing credentials", "attempt", attempt)
	}
	if err != nil {
		s.releaseKey(ctx, idempotencyKey)
		return nil, s.mapCreateError(err)
	}

	s.completeKey(ctx, idempotencyKey, plan.Booking.ID)

	logger.InfoContext(ctx, "Booking created",
		"booking_id", plan.Booking.ID,
		"type", plan.Booking.Type,
		"visit_date", plan.Booking.VisitDate,
		"time_slot", plan.Booking.TimeSlot,
		"visitors", plan.Booking.TotalVisitors,
	)

	publish(ctx, s.Publisher, events.BookingCreated, events.BookingCreatedEvent{
		BookingID:    plan.Booking.ID,
		Type:         string(plan.Booking.Type),
		VisitDate:    plan.Booking.VisitDate,
		TimeSlot:     plan.Booking.TimeSlot,
		VisitorCount: plan.Booking.TotalVisitors,
		CreatedAt:    plan.Booking.CreatedAt,
	})
	dispatch(ctx, s.Publisher, s.bookingNotifications(plan))

	return res, nil
}

func (s *bookingService) validateBookingRequest(req *domain.CreateBookingReq) (*bookingInput, error) {
	if req == nil {
		return nil, domain.NewValidationError("", "request body is required")
	}
	bt, ok := domain.ParseBookingType(req.Type)
	if !ok {
		return nil, domain.NewValidationError("type", "must be one of individual, group, walk-in, group-walk-in")
	}
	in := &bookingInput{bookingType: bt, main: normalizeIdentity(req.MainVisitor)}

	if !bt.IsWalkIn() {
		if in.main.Email == "" {
			return nil, domain.NewValidationError("mainVisitor.email", "is required")
		}
		if res := s.Validator.Check(in.main.Identity()); !res.Complete {
			return nil, domain.NewValidationError("mainVisitor", "missing %v", res.Missing)
		}
	}
	if in.main.Email != "" && !utils.IsValidEmail(in.main.Email) {
		return nil, domain.NewValidationError("mainVisitor.email", "is not a valid email address")
	}

	if len(req.Companions) > 0 && !bt.IsGroup() {
		return nil, domain.NewValidationError("companions", "only group bookings may list companions")
	}
	if len(req.Members) > 0 && bt != domain.BookingGroupWalkIn {
		return nil, domain.NewValidationError("members", "only group walk-ins may register members on site")
	}
	seen := map[string]bool{}
	if in.main.Email != "" {
		seen[in.main.Email] = true
	}
	for i, raw := range req.Companions {
		email := utils.NormalizeEmail(raw)
		if !utils.IsValidEmail(email) {
			return nil, domain.NewValidationError(fmt.Sprintf("companions[%d]", i), "is not a valid email address")
		}
		if seen[email] {
			return nil, domain.NewValidationError(fmt.Sprintf("companions[%d]", i), "duplicate email %s", email)
		}
		seen[email] = true
		in.companions = append(in.companions, email)
	}
	for _, m := range req.Members {
		in.members = append(in.members, normalizeIdentity(m))
	}
	if bt == domain.BookingGroup && len(in.companions) == 0 {
		return nil, domain.NewValidationError("companions", "a group booking needs at least one companion")
	}
	if in.total() > s.Capacity.MaxPerBooking() {
		return nil, domain.NewValidationError("companions", "a booking may hold at most %d visitors", s.Capacity.MaxPerBooking())
	}

	slot, err := s.Capacity.ValidateSlot(req.Date, req.Time)
	if err != nil {
		return nil, err
	}
	in.date, in.slot = req.Date, slot
	if bt.IsWalkIn() {
		today := s.now().In(s.Capacity.Location()).Format("2006-01-02")
		if in.date != today {
			return nil, domain.NewValidationError("date", "walk-in bookings are for today only")
		}
	}
	return in, nil
}

// buildPlan assigns ids and mints credentials for every row of the booking.
func (s *bookingService) buildPlan(in *bookingInput) (*repository.BookingPlan, *domain.CreateBookingRes, error) {
	now := s.now()
	booking := domain.Booking{
		ID:            uuid.NewString(),
		Type:          in.bookingType,
		VisitDate:     in.date,
		TimeSlot:      in.slot,
		Status:        in.bookingType.InitialStatus(),
		TotalVisitors: in.total(),
		Institution:   in.main.Institution,
		Purpose:       in.main.Purpose,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	plan := &repository.BookingPlan{Booking: booking}
	res := &domain.CreateBookingRes{
		Success:   true,
		BookingID: booking.ID,
		Status:    booking.Status,
		VisitDate: booking.VisitDate,
		TimeSlot:  booking.TimeSlot,
	}

	mainCred, err := s.addOnSiteVisitor(plan, in.main, true, now)
	if err != nil {
		return nil, nil, err
	}
	res.MainVisitor = mainCred
	for _, m := range in.members {
		cred, err := s.addOnSiteVisitor(plan, m, false, now)
		if err != nil {
			return nil, nil, err
		}
		res.Members = append(res.Members, *cred)
	}

	expiresAt := s.tokenExpiry(in.bookingType, now)
	for _, email := range in.companions {
		visitorID, tokenID := uuid.NewString(), uuid.NewString()
		cred, err := s.Issuer.Mint(booking.ID, visitorID, tokenID)
		if err != nil {
			return nil, nil, err
		}
		plan.Visitors = append(plan.Visitors, domain.Visitor{
			ID:          visitorID,
			BookingID:   booking.ID,
			Email:       email,
			Institution: booking.Institution,
			Purpose:     booking.Purpose,
			Status:      domain.VisitorPendingRegistration,
			BackupCode:  cred.BackupCode,
			QRCode:      cred.Image,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		plan.Tokens = append(plan.Tokens, domain.CompanionToken{
			ID:        tokenID,
			BookingID: booking.ID,
			Email:     email,
			Status:    domain.TokenPending,
			ExpiresAt: expiresAt,
			VisitorID: visitorID,
			CreatedAt: now,
			UpdatedAt: now,
		})
		res.Companions = append(res.Companions, domain.CompanionInvite{Email: email, TokenID: tokenID, ExpiresAt: expiresAt})
	}
	return plan, res, nil
}

// addOnSiteVisitor appends a visitor whose details are known at booking time.
func (s *bookingService) addOnSiteVisitor(plan *repository.BookingPlan, in domain.IdentityInput, main bool, now time.Time) (*domain.CredentialDTO, error) {
	visitorID := uuid.NewString()
	cred, err := s.Issuer.Mint(plan.Booking.ID, visitorID, "")
	if err != nil {
		return nil, err
	}
	institution, purpose := in.Institution, in.Purpose
	if institution == "" {
		institution = plan.Booking.Institution
	}
	if purpose == "" {
		purpose = plan.Booking.Purpose
	}
	plan.Visitors = append(plan.Visitors, domain.Visitor{
		ID:               visitorID,
		BookingID:        plan.Booking.ID,
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Gender:           in.Gender,
		Address:          in.Address,
		Email:            in.Email,
		VisitorType:      in.VisitorType,
		Institution:      institution,
		Purpose:          purpose,
		Status:           domain.VisitorApproved,
		IsMainVisitor:    main,
		BackupCode:       cred.BackupCode,
		QRCode:           cred.Image,
		IdentityComplete: s.Validator.Check(in.Identity()).Complete,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	return &domain.CredentialDTO{
		VisitorID:   visitorID,
		Email:       in.Email,
		BackupCode:  cred.BackupCode,
		QRCodeImage: cred.Image,
	}, nil
}

func (s *bookingService) tokenExpiry(bt domain.BookingType, now time.Time) *time.Time {
	ttl := s.Museum.GroupTokenTTL
	if bt.IsWalkIn() {
		ttl = s.Museum.WalkInTokenTTL
	}
	if ttl <= 0 {
		return nil
	}
	at := now.Add(ttl)
	return &at
}

func (s *bookingService) bookingNotifications(plan *repository.BookingPlan) []events.NotificationEvent {
	b := plan.Booking
	tokenByVisitor := make(map[string]domain.CompanionToken, len(plan.Tokens))
	for _, t := range plan.Tokens {
		tokenByVisitor[t.VisitorID] = t
	}

	var notes []events.NotificationEvent
	for _, v := range plan.Visitors {
		if v.Email == "" {
			continue
		}
		data := map[string]interface{}{
			"booking_id":  b.ID,
			"visit_date":  b.VisitDate,
			"time_slot":   b.TimeSlot,
			"backup_code": v.BackupCode,
			"qr_code":     v.QRCode,
			"status":      string(b.Status),
		}
		if t, ok := tokenByVisitor[v.ID]; ok {
			data["link"] = companionLink(s.Museum.FrontendURL, t.ID)
			if t.ExpiresAt != nil {
				data["expires_at"] = t.ExpiresAt.Format(time.RFC3339)
			}
			notes = append(notes, events.NotificationEvent{
				Type:      "email",
				Recipient: v.Email,
				Subject:   "You're invited to a museum visit",
				Template:  events.TemplateCompanionInvite,
				Data:      data,
			})
			continue
		}
		data["name"] = v.FirstName
		notes = append(notes, events.NotificationEvent{
			Type:      "email",
			Recipient: v.Email,
			Subject:   "Your museum visit booking",
			Template:  events.TemplateBookingConfirmation,
			Data:      data,
		})
	}
	return notes
}

func (s *bookingService) mapCreateError(err error) error {
	var capErr *domain.CapacityError
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &capErr), errors.As(err, &verr):
		return err
	default:
		return fmt.Errorf("%w: create booking: %v", domain.ErrInternal, err)
	}
}

func (s *bookingService) releaseKey(ctx context.Context, key string) {
	if key == "" || s.Idempotency == nil {
		return
	}
	if err := s.Idempotency.Release(ctx, key); err != nil {
		logger.ErrorContext(ctx, "Failed to release idempotency key", "error", err)
	}
}

// completeKey records the created booking under the key. A key that cannot be
// completed is released, so a retry books again instead of waiting out the TTL.
func (s *bookingService) completeKey(ctx context.Context, key, bookingID string) {
	if key == "" || s.Idempotency == nil {
		return
	}
	var err error
	for attempt := 0; attempt < completeKeyAttempts; attempt++ {
		if err = s.Idempotency.Complete(ctx, key, bookingID); err == nil {
			return
		}
	}
	logger.ErrorContext(ctx, "Failed to store idempotency record", "error", err, "booking_id", bookingID)
	s.releaseKey(ctx, key)
}

// replay answers a resubmitted request with the booking it already created.
func (s *bookingService) replay(ctx context.Context, bookingID string) (*domain.CreateBookingRes, error) {
	b, err := s.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	tokens, err := s.Tokens.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	visitors, err := s.Visitors.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	res := &domain.CreateBookingRes{
		Success:   true,
		BookingID: b.ID,
		Status:    b.Status,
		VisitDate: b.VisitDate,
		TimeSlot:  b.TimeSlot,
	}
	companionVisitors := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		companionVisitors[t.VisitorID] = true
		res.Companions = append(res.Companions, domain.CompanionInvite{Email: t.Email, TokenID: t.ID, ExpiresAt: t.ExpiresAt})
	}
	for i := range visitors {
		v := &visitors[i]
		cred := domain.CredentialDTO{VisitorID: v.ID, Email: v.Email, BackupCode: v.BackupCode, QRCodeImage: v.QRCode}
		switch {
		case v.IsMainVisitor:
			res.MainVisitor = &cred
		case !companionVisitors[v.ID]:
			res.Members = append(res.Members, cred)
		}
	}
	return res, nil
}

func (s *bookingService) GetAvailability(ctx context.Context, date string) ([]capacity.SlotAvailability, error) {
	return s.Capacity.Availability(ctx, s.Bookings, date)
}

func (s *bookingService) GetBooking(ctx context.Context, id string) (*domain.BookingDetail, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	b, err := s.Bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	visitors, err := s.Visitors.ListByBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list visitors: %w", err)
	}
	tokens, err := s.Tokens.ListByBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return &domain.BookingDetail{Booking: *b, Visitors: visitors, Tokens: tokens}, nil
}

// checkBookingTransition rejects an action the booking's current status does not allow.
// The conditional update that follows still decides races.
func (s *bookingService) checkBookingTransition(ctx context.Context, id, action string) error {
	b, err := s.Bookings.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if domain.ValidBookingTransition(action, b.Status) {
		return nil
	}
	if b.IsCancelled() {
		return domain.ErrCancelled
	}
	return fmt.Errorf("%w: booking is %s", domain.ErrInvalidState, b.Status)
}

func (s *bookingService) ApproveBooking(ctx context.Context, id string) (*domain.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	if err := s.checkBookingTransition(ctx, id, domain.ActionApprove); err != nil {
		return nil, err
	}
	b, err := s.Bookings.Approve(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Booking approved", "booking_id", b.ID)
	publish(ctx, s.Publisher, events.BookingApproved, events.BookingStatusEvent{
		BookingID: b.ID, Status: string(b.Status), ChangedAt: b.UpdatedAt,
	})
	return b, nil
}

func (s *bookingService) CancelBooking(ctx context.Context, id, reason string) (*domain.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	if err := s.checkBookingTransition(ctx, id, domain.ActionCancel); err != nil {
		return nil, err
	}
	b, err := s.Bookings.Cancel(ctx, id, utils.NormalizeString(reason))
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Booking cancelled", "booking_id", b.ID, "reason", b.CancelReason)
	publish(ctx, s.Publisher, events.BookingCanceled, events.BookingStatusEvent{
		BookingID: b.ID, Status: string(b.Status), Reason: b.CancelReason, ChangedAt: b.UpdatedAt,
	})

	visitors, err := s.Visitors.ListByBooking(ctx, id)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list visitors for cancellation notice", "error", err, "booking_id", id)
		return b, nil
	}
	var notes []events.NotificationEvent
	for _, v := range visitors {
		if v.Email == "" {
			continue
		}
		notes = append(notes, events.NotificationEvent{
			Type:      "email",
			Recipient: v.Email,
			Subject:   "Your museum visit was cancelled",
			Template:  events.TemplateBookingCanceled,
			Data: map[string]interface{}{
				"booking_id": b.ID,
				"visit_date": b.VisitDate,
				"time_slot":  b.TimeSlot,
				"reason":     b.CancelReason,
			},
		})
	}
	dispatch(ctx, s.Publisher, notes)
	return b, nil
}

// RegenerateCredential re-renders a visitor's QR image around the backup code already on record.
func (s *bookingService) RegenerateCredential(ctx context.Context, visitorID string) (*domain.CredentialDTO, error) {
	if _, err := uuid.Parse(visitorID); err != nil {
		return nil, domain.ErrNotFound
	}
	v, err := s.Visitors.GetByID(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	b, err := s.Bookings.GetByID(ctx, v.BookingID)
	if err != nil {
		return nil, err
	}
	if b.IsCancelled() {
		return nil, domain.ErrCancelled
	}
	tokenID := ""
	if t, err := s.Tokens.GetByVisitorID(ctx, v.ID); err == nil {
		tokenID = t.ID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	cred, err := s.Issuer.Regenerate(b.ID, v.ID, tokenID, v.BackupCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	updated, err := s.Visitors.UpdateCredential(ctx, v.ID, cred.BackupCode, cred.Image)
	if err != nil {
		return nil, err
	}
	if updated.BackupCode != cred.BackupCode {
		// another writer recorded a code first; render around that one
		if cred, err = s.Issuer.Regenerate(b.ID, v.ID, tokenID, updated.BackupCode); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
		}
		if _, err := s.Visitors.UpdateCredential(ctx, v.ID, cred.BackupCode, cred.Image); err != nil {
			return nil, err
		}
	}
	return &domain.CredentialDTO{
		VisitorID:   v.ID,
		Email:       v.Email,
		BackupCode:  cred.BackupCode,
		QRCodeImage: cred.Image,
	}, nil
}

func normalizeIdentity(in domain.IdentityInput) domain.IdentityInput {
	return domain.IdentityInput{
		FirstName:   utils.CollapseSpaces(in.FirstName),
		LastName:    utils.CollapseSpaces(in.LastName),
		Gender:      utils.NormalizeString(in.Gender),
		Address:     utils.NormalizeString(in.Address),
		Email:       utils.NormalizeEmail(in.Email),
		VisitorType: utils.NormalizeString(in.VisitorType),
		Institution: utils.NormalizeString(in.Institution),
		Purpose:     utils.NormalizeString(in.Purpose),
	}
}
