package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diagnosis/museum-visits/internal/http/response"
	"github.com/diagnosis/museum-visits/pkg/auth"
	"github.com/diagnosis/museum-visits/pkg/logger"
	mw "github.com/diagnosis/museum-visits/pkg/middleware"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"github.com/diagnosis/museum-visits/services/visits/internal/repository"
	"github.com/diagnosis/museum-visits/services/visits/internal/service"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	bookingService   service.BookingService
	companionService service.CompanionService
	checkInService   service.CheckInService
	jwtSecret        string
}

func New(bookingService service.BookingService, companionService service.CompanionService, checkInService service.CheckInService, jwtSecret string) *Handlers {
	return &Handlers{
		bookingService:   bookingService,
		companionService: companionService,
		checkInService:   checkInService,
		jwtSecret:        jwtSecret,
	}
}

// Routes mounts the visit API under r.
func (h *Handlers) Routes(r chi.Router) {
	r.Post("/bookings", h.CreateBooking)
	r.Get("/slots", h.GetSlots)

	r.Route("/companions/{token}", func(r chi.Router) {
		r.Get("/", h.GetCompanionToken)
		r.Put("/", h.CompleteCompanionToken)
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.RequireRole(h.jwtSecret, auth.RoleStaff))
		r.Post("/checkin", h.CheckIn)
		r.Get("/visitors/{id}/credential", h.GetCredential)
	})

	r.Route("/admin/bookings/{id}", func(r chi.Router) {
		r.Use(mw.RequireRole(h.jwtSecret, auth.RoleAdmin))
		r.Get("/", h.GetBooking)
		r.Post("/approve", h.ApproveBooking)
		r.Post("/cancel", h.CancelBooking)
	})
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// writeServiceError maps the domain error taxonomy onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *domain.ValidationError
		inc    *domain.IncompleteError
		capErr *domain.CapacityError
	)
	switch {
	case errors.As(err, &verr):
		response.WriteErrorWithDetails(w, http.StatusBadRequest, verr.Error(), response.CodeInvalidInput, verr.Field)
	case errors.As(err, &inc):
		response.Incomplete(w, "Visitor information is incomplete", inc.MissingFields)
	case errors.As(err, &capErr):
		response.CapacityExceeded(w, capErr.Error(), capErr.RemainingSlots)
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, "Not found")
	case errors.Is(err, domain.ErrExpired):
		response.WriteError(w, http.StatusGone, "Link has expired", response.CodeExpired)
	case errors.Is(err, domain.ErrAlreadyCompleted):
		response.WriteError(w, http.StatusConflict, "Registration already completed", response.CodeAlreadyCompleted)
	case errors.Is(err, domain.ErrCancelled):
		response.WriteError(w, http.StatusConflict, "Booking has been cancelled", response.CodeCancelled)
	case errors.Is(err, domain.ErrQrAlreadyUsed):
		response.WriteError(w, http.StatusConflict, "QR code already used", response.CodeQrAlreadyUsed)
	case errors.Is(err, domain.ErrInvalidState):
		response.Conflict(w, "Request conflicts with the current state")
	case errors.Is(err, repository.ErrRequestInFlight):
		response.WriteError(w, http.StatusConflict, "A request with this idempotency key is still in progress", response.CodeIdempotencyReplay)
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
		response.InternalError(w, "Internal server error")
	}
}
