package handlers

import (
	"net/http"
	"strings"

	"github.com/diagnosis/museum-visits/internal/http/response"
	"github.com/diagnosis/museum-visits/services/visits/internal/capacity"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
)

type slotsResponse struct {
	Success bool                        `json:"success"`
	Date    string                      `json:"date"`
	Slots   []capacity.SlotAvailability `json:"slots"`
}

// CreateBooking handles public booking creation
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBookingReq
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	res, err := h.bookingService.CreateBooking(r.Context(), &req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, res)
}

// GetSlots lists the slots of a day with their remaining seats
func (h *Handlers) GetSlots(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		response.BadRequest(w, "date query parameter is required")
		return
	}
	slots, err := h.bookingService.GetAvailability(r.Context(), date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, slotsResponse{Success: true, Date: date, Slots: slots})
}
