package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/diagnosis/museum-visits/internal/http/response"
	"github.com/go-chi/chi/v5"
)

type cancelRequest struct {
	Reason string `json:"reason"`
}

// GetBooking handles getting a booking with its visitors and companion tokens
func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	detail, err := h.bookingService.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, detail)
}

// ApproveBooking moves a pending group booking to approved
func (h *Handlers) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookingService.ApproveBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, b)
}

// CancelBooking cancels a booking; the body and its reason are optional
func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	b, err := h.bookingService.CancelBooking(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, b)
}
