package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/service"
	"github.com/deadbolt-id/deadbolt/pkg/httpx"
	"github.com/deadbolt-id/deadbolt/pkg/slogx"
)

// TwoFactorHandler serves second-factor setup and verification.
type TwoFactorHandler struct {
	UserService *service.UserService
}

type twoFactorSetupRequest struct {
	Identifier string `json:"identifier"`
	Method     string `json:"method"`
}

// HandleSetup handles POST /v1/2fa/setup: provisions a method and returns
// the bootstrap prompt. For totp that includes the secret and otpauth URL;
// for delivery channels the code goes out of band.
func (h *TwoFactorHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req twoFactorSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	method, ok := domain.ParseTwoFactorMethod(req.Method)
	if !ok || method == domain.TwoFactorNone {
		httpx.WriteFailed(w, http.StatusUnprocessableEntity, "unknown two-factor method")
		return
	}

	_, prompt, err := h.UserService.SetupTwoFactor(ctx, req.Identifier, method)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			httpx.WriteFailed(w, http.StatusNotFound, "user not found")
		case errors.Is(err, service.ErrUnknownTwoFactorMethod):
			httpx.WriteFailed(w, http.StatusUnprocessableEntity, "unknown two-factor method")
		default:
			log.Error("two-factor setup failed", "err", err)
			httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"twoFactor": toTwoFactorResponse(prompt),
	})
}

type twoFactorVerifyRequest struct {
	Identifier string `json:"identifier"`
	Method     string `json:"method,omitempty"`
	UserToken  string `json:"userToken"`
	Code       string `json:"code"`
	TTLHours   int    `json:"ttlHours,omitempty"`
}

// HandleVerify handles POST /v1/2fa/verify: completes a pending challenge
// and mints the session.
func (h *TwoFactorHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req twoFactorVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserToken == "" || req.Code == "" {
		httpx.WriteFailed(w, http.StatusUnprocessableEntity, "userToken and code are required")
		return
	}

	method, ok := domain.ParseTwoFactorMethod(req.Method)
	if !ok {
		httpx.WriteFailed(w, http.StatusUnprocessableEntity, "unknown two-factor method")
		return
	}

	result, err := h.UserService.VerifyTwoFactor(ctx, req.Identifier, method, domain.TwoFactorPayload{
		UserToken: req.UserToken,
		Code:      req.Code,
	}, parseTTLHours(req.TTLHours))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownTwoFactorMethod),
			errors.Is(err, service.ErrTwoFactorNotSetUp):
			httpx.WriteFailed(w, http.StatusUnprocessableEntity, err.Error())
		default:
			log.Error("two-factor verify failed", "err", err)
			httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	code := http.StatusOK
	if !result.Success {
		code = http.StatusUnauthorized
	}
	httpx.WriteJSON(w, code, toLoginResponse(result))
}
