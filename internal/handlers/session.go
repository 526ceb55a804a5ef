package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/buypoint/checkout/internal/platform/auth"
	"github.com/buypoint/checkout/internal/platform/httpx"
)

// SessionHandlers tears down the server side of a shopper's session on sign-out.
type SessionHandlers struct {
	authn    *auth.Authenticator
	sessions SessionProvider
}

// NewSessionHandlers constructs session handlers guarded by Firebase authentication.
func NewSessionHandlers(authn *auth.Authenticator, sessions SessionProvider) *SessionHandlers {
	return &SessionHandlers{authn: authn, sessions: sessions}
}

// Routes registers POST /session:end.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/session:end", h.endSession)
}

// endSession drops the local cart view, abandons any UPI launch and resets verification.
// The remote cart is kept for the next sign-in.
func (h *SessionHandlers) endSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("session_unavailable", "session registry is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	ended := h.sessions.End(r.Context(), identity.UID)
	writeJSONResponse(w, http.StatusOK, map[string]any{"ended": ended})
}
