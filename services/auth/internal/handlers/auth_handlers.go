package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/diagnosis/museum-visits/internal/http/response"
	"github.com/diagnosis/museum-visits/services/auth/internal/domain"
	"github.com/go-chi/chi/v5"
)

// Login handles staff authentication
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	res, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, res)
}

// CreateStaff handles creating a door or admin account
func (h *Handlers) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	user, err := h.authService.CreateStaff(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, user.ToStaffInfo())
}

// ListStaff handles listing staff accounts
func (h *Handlers) ListStaff(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	users, err := h.authService.ListStaff(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []domain.StaffUser{}
	}
	response.WriteJSON(w, http.StatusOK, users)
}

func (h *Handlers) DeactivateStaff(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handlers) ActivateStaff(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	user, err := h.authService.SetActive(r.Context(), chi.URLParam(r, "id"), active)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, user)
}
