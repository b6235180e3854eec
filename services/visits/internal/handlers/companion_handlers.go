package handlers

import (
	"errors"
	"net/http"

	"github.com/diagnosis/museum-visits/internal/http/response"
	"github.com/diagnosis/museum-visits/services/visits/internal/domain"
	"github.com/go-chi/chi/v5"
)

// expiredTokenResponse still carries the form context so the page can say which visit lapsed.
type expiredTokenResponse struct {
	response.ErrorResponse
	Token *domain.TokenInfo `json:"token"`
}

// GetCompanionToken returns what the companion form needs to render
func (h *Handlers) GetCompanionToken(w http.ResponseWriter, r *http.Request) {
	info, err := h.companionService.GetTokenInfo(r.Context(), chi.URLParam(r, "token"))
	if errors.Is(err, domain.ErrExpired) && info != nil {
		response.WriteJSON(w, http.StatusGone, expiredTokenResponse{
			ErrorResponse: response.ErrorResponse{Error: "Link has expired", Code: response.CodeExpired, Status: "expired"},
			Token:         info,
		})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, info)
}

// CompleteCompanionToken records a companion's details and returns their credential
func (h *Handlers) CompleteCompanionToken(w http.ResponseWriter, r *http.Request) {
	var in domain.IdentityInput
	if err := decodeJSON(w, r, &in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	res, err := h.companionService.CompleteToken(r.Context(), chi.URLParam(r, "token"), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, res)
}
