package handlers

import (
	"net/http"

	"github.com/diagnosis/museum-visits/internal/http/response"
	"github.com/diagnosis/museum-visits/pkg/logger"
	mw "github.com/diagnosis/museum-visits/pkg/middleware"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"github.com/diagnosis/museum-visits/services/visits/internal/service"
	"github.com/go-chi/chi/v5"
)

// CheckIn admits a visitor at the door. Repeated scans answer 200 with alreadyCheckedIn.
func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req service.CheckInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	if claims, ok := mw.ClaimsFromContext(r.Context()); ok {
		req.StaffID = claims.Sub
	}

	res, err := h.checkInService.CheckIn(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res.AlreadyCheckedIn {
		logger.InfoContext(r.Context(), "Repeated check-in", "visitor_id", res.Visitor.ID)
	}
	response.WriteJSON(w, http.StatusOK, res)
}

type credentialResponse struct {
	Success bool `json:"success"`
	domain.CredentialDTO
}

// GetCredential re-renders a visitor's QR around their existing backup code
func (h *Handlers) GetCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.bookingService.RegenerateCredential(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, credentialResponse{Success: true, CredentialDTO: *cred})
}
