package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shehryarbajwa/texbridge/internal/accounts"
	"github.com/shehryarbajwa/texbridge/pkg/models"
)

// AccountHandler serves the entitlement endpoints
type AccountHandler struct {
	store *accounts.Store
}

// NewAccountHandler creates a new account HTTP handler
func NewAccountHandler(store *accounts.Store) *AccountHandler {
	return &AccountHandler{
		store: store,
	}
}

// Me handles GET /user/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.Lookup(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Authorize handles POST /compile/authorize
func (h *AccountHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	remaining, err := h.store.Authorize(bearerToken(r))
	switch {
	case errors.Is(err, accounts.ErrUnknownAccount):
		writeError(w, http.StatusUnauthorized, "Invalid or missing token")
	case errors.Is(err, accounts.ErrExhausted):
		writeError(w, http.StatusPaymentRequired, "Compile quota exhausted")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, models.AuthorizeResponse{Authorized: true, Remaining: remaining})
	}
}

// bearerToken extracts the token from an Authorization: Bearer header
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
