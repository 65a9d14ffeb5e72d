package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	sessionModel "github.com/nexlink/pairbroker/internal/model/session"
	"github.com/nexlink/pairbroker/internal/service/pairing"
	"github.com/nexlink/pairbroker/pkg/utils"
)

// Handler exposes the session lifecycle over HTTP.
type Handler struct {
	manager *pairing.Manager
}

// New creates the session handler.
func New(manager *pairing.Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes wires the session endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/generate-session", h.handleGenerate)
	r.Get("/check-session/{token}", h.handleCheck)
}

// handleGenerate starts a linking session and returns the pairing code the
// account holder types on their device.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PhoneNumber string `json:"phoneNumber"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, code, err := h.manager.Create(r.Context(), payload.PhoneNumber)
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrInvalidTarget):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, pairing.ErrPairingTimeout):
			utils.RespondError(w, http.StatusInternalServerError, "pairing code not issued in time")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "failed to start pairing")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"sessionToken": token,
		"pairingCode":  code,
	})
}

// handleCheck polls a session for its credential. The first successful poll
// disclosing the credential starts the delayed destruction of the session.
func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	res := h.manager.Retrieve(token)
	switch res.Status {
	case sessionModel.StatusFound:
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"sessionId":   res.Credential,
			"phoneNumber": res.Target,
		})
	case sessionModel.StatusPending:
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"waiting": true,
		})
	default:
		utils.RespondError(w, http.StatusNotFound, "session not found")
	}
}
