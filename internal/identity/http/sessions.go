package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/deadbolt-id/deadbolt/internal/identity/service"
	"github.com/deadbolt-id/deadbolt/pkg/httpx"
	"github.com/deadbolt-id/deadbolt/pkg/slogx"
)

// SessionHandler serves login and session lifecycle endpoints.
type SessionHandler struct {
	UserService    *service.UserService
	SessionService *service.SessionService
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	App        string `json:"app,omitempty"`
	TTLHours   int    `json:"ttlHours,omitempty"`
}

// HandleLogin handles POST /v1/login.
func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Identifier == "" {
		httpx.WriteFailed(w, http.StatusUnprocessableEntity, "identifier is required")
		return
	}

	result, err := h.UserService.Login(ctx, service.LoginRequest{
		Identifier: req.Identifier,
		Secret:     req.Password,
		App:        req.App,
		SessionTTL: parseTTLHours(req.TTLHours),
	}, &service.PasswordAuth{Passwords: h.UserService.Passwords})
	if err != nil {
		log.Error("login failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}

	code := http.StatusOK
	if !result.Success && !result.TwoFactorRequired {
		code = http.StatusUnauthorized
	}
	httpx.WriteJSON(w, code, toLoginResponse(result))
}

// HandleGet handles GET /v1/session. The bearer token resolves to its user,
// and the lookup slides the expiry forward.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	token := bearerToken(r)
	if token == "" {
		httpx.WriteFailed(w, http.StatusUnauthorized, "missing session token")
		return
	}

	user, sess, err := h.UserService.GetUserBySession(ctx, token)
	if err != nil {
		log.Error("session lookup failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess == nil {
		httpx.WriteFailed(w, http.StatusUnauthorized, "session expired or unknown")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"user":    toUserResponse(user),
		"session": toSessionResponse(sess),
	})
}

// HandleRevoke handles DELETE /v1/session. Revoking an unknown token still
// reports success; the end state is the same.
func (h *SessionHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := bearerToken(r)
	if token == "" {
		httpx.WriteFailed(w, http.StatusUnauthorized, "missing session token")
		return
	}

	if err := h.SessionService.Revoke(ctx, token); err != nil {
		slogx.FromContext(ctx).Error("session revoke failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleRevokeAll handles DELETE /v1/users/{identifier}/sessions.
func (h *SessionHandler) HandleRevokeAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	found, err := h.UserService.RevokeSessions(ctx, r.PathValue("identifier"))
	if err != nil {
		slogx.FromContext(ctx).Error("session revoke-all failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		httpx.WriteFailed(w, http.StatusNotFound, "user not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bearerToken pulls the session token from the Authorization header, falling
// back to the token query parameter.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return r.URL.Query().Get("token")
}
