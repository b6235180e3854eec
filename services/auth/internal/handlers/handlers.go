package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/diagnosis/museum-visits/internal/http/response"
	"github.com/diagnosis/museum-visits/pkg/auth"
	"github.com/diagnosis/museum-visits/pkg/logger"
	mw "github.com/diagnosis/museum-visits/pkg/middleware"
	"github.com/diagnosis/museum-visits/pkg/ratelimit"
	"github.com/diagnosis/museum-visits/services/auth/internal/domain"
	"github.com/diagnosis/museum-visits/services/auth/internal/service"
	"github.com/go-chi/chi/v5"
)

// Login attempts allowed per client address within loginWindow.
const (
	loginAttempts = 10
	loginWindow   = time.Minute
)

type Handlers struct {
	authService service.AuthService
	limiter     ratelimit.Limiter // optional
	jwtSecret   string
}

func New(authService service.AuthService, limiter ratelimit.Limiter, jwtSecret string) *Handlers {
	return &Handlers{
		authService: authService,
		limiter:     limiter,
		jwtSecret:   jwtSecret,
	}
}

// Routes mounts the auth API under r.
func (h *Handlers) Routes(r chi.Router) {
	r.With(ratelimit.Middleware(h.limiter, ratelimit.Config{
		Requests: loginAttempts,
		Window:   loginWindow,
		Prefix:   "login",
	})).Post("/login", h.Login)

	r.Route("/staff", func(r chi.Router) {
		r.Use(mw.RequireRole(h.jwtSecret, auth.RoleAdmin))
		r.Get("/", h.ListStaff)
		r.Post("/", h.CreateStaff)
		r.Post("/{id}/deactivate", h.DeactivateStaff)
		r.Post("/{id}/activate", h.ActivateStaff)
	})
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		response.WriteErrorWithDetails(w, http.StatusBadRequest, verr.Error(), response.CodeInvalidInput, verr.Field)
	case errors.Is(err, domain.ErrInvalidCredentials):
		response.Unauthorized(w, "Invalid email or password")
	case errors.Is(err, domain.ErrInactive):
		response.Forbidden(w, "Account is disabled")
	case errors.Is(err, domain.ErrEmailTaken):
		response.Conflict(w, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, "Staff account not found")
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
		response.InternalError(w, "Internal server error")
	}
}
