package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/deadbolt-id/deadbolt/internal/identity/service"
	"github.com/deadbolt-id/deadbolt/pkg/httpx"
	"github.com/deadbolt-id/deadbolt/pkg/slogx"
)

// PasswordHandler serves credential management and the email confirmation
// redemption.
type PasswordHandler struct {
	UserService     *service.UserService
	PasswordService *service.PasswordService
}

type setPasswordRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// HandleSet handles POST /v1/password.
func (h *PasswordHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req setPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := h.UserService.GetUser(ctx, req.Identifier)
	if err != nil {
		log.Error("user lookup failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		httpx.WriteFailed(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.PasswordService.SetPassword(ctx, user.ID, req.Password); err != nil {
		writeUserError(w, log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type verifyPasswordRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// HandleVerify handles POST /v1/password/verify. It reports whether the
// password matches without minting a session or running any login gates.
func (h *PasswordHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req verifyPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := h.UserService.GetUser(ctx, req.Identifier)
	if err != nil {
		log.Error("user lookup failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		httpx.WriteFailed(w, http.StatusNotFound, "user not found")
		return
	}

	valid, err := h.PasswordService.Verify(ctx, user.ID, req.Password)
	if err != nil {
		log.Error("password verification failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"valid":  valid,
	})
}

type resetTokenRequest struct {
	Identifier string `json:"identifier"`
}

// HandleResetToken handles POST /v1/password/reset-token. The response never
// reveals whether the account exists; the token rides back for the delivery
// transport to pick up.
func (h *PasswordHandler) HandleResetToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req resetTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := h.UserService.GetUser(ctx, req.Identifier)
	if err != nil {
		log.Error("user lookup failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		// Same response as success so callers cannot probe for accounts.
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	token, expires, err := h.PasswordService.GenerateResetToken(ctx, user.ID)
	if err != nil {
		log.Error("reset token generation failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"token":   token,
		"expires": expires.Unix(),
	})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// HandleReset handles POST /v1/password/reset.
func (h *PasswordHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	_, err := h.PasswordService.ResetPassword(ctx, req.Token, req.Password)
	switch {
	case errors.Is(err, service.ErrResetTokenNotFound),
		errors.Is(err, service.ErrResetTokenExpired):
		httpx.WriteFailed(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrPasswordTooWeak),
		errors.Is(err, service.ErrPasswordTooLong):
		httpx.WriteFailed(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		log.Error("password reset failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type confirmEmailRequest struct {
	Token string `json:"token"`
}

// HandleConfirmEmail handles POST /v1/confirm-email.
func (h *PasswordHandler) HandleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req confirmEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := h.UserService.ConfirmEmail(ctx, req.Token)
	if err != nil {
		slogx.FromContext(ctx).Error("email confirmation failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		httpx.WriteFailed(w, http.StatusUnauthorized, "confirmation token expired or unknown")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uuid":   user.UUID,
	})
}
