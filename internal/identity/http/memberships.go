package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/service"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
	"github.com/deadbolt-id/deadbolt/pkg/httpx"
	"github.com/deadbolt-id/deadbolt/pkg/slogx"
)

// MembershipHandler serves (app, role) grant management.
type MembershipHandler struct {
	UserService *service.UserService
}

type membershipPair struct {
	App  string `json:"app"`
	Role string `json:"role"`
}

type membershipsRequest struct {
	Memberships []membershipPair `json:"memberships"`
}

func (h *MembershipHandler) resolveUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	user, err := h.UserService.GetUser(r.Context(), r.PathValue("uuid"))
	if err != nil {
		slogx.FromContext(r.Context()).Error("user lookup failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if user == nil {
		httpx.WriteFailed(w, http.StatusNotFound, "user not found")
		return nil, false
	}
	return user, true
}

func (h *MembershipHandler) respondWithUser(w http.ResponseWriter, r *http.Request, uuid string) {
	user, err := h.UserService.GetUser(r.Context(), uuid)
	if err != nil || user == nil {
		slogx.FromContext(r.Context()).Error("user reload failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"user":   toUserResponse(user),
	})
}

// HandleAdd handles POST /v1/users/{uuid}/memberships.
func (h *MembershipHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var req membershipsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// The service layer inserts blindly, so grants the user already holds are
	// filtered out here to keep the operation idempotent for clients.
	ms := make([]domain.Membership, 0, len(req.Memberships))
	seen := make(map[membershipPair]struct{}, len(req.Memberships))
	for _, p := range req.Memberships {
		if p.App == "" || p.Role == "" {
			httpx.WriteFailed(w, http.StatusUnprocessableEntity, "app and role are required")
			return
		}
		if _, dup := seen[p]; dup || user.HasMembership(p.App, p.Role) {
			continue
		}
		seen[p] = struct{}{}
		ms = append(ms, domain.Membership{App: p.App, Role: p.Role})
	}

	if len(ms) > 0 {
		if err := h.UserService.AddMemberships(r.Context(), user.ID, ms); err != nil {
			slogx.FromContext(r.Context()).Error("membership add failed", "err", err)
			httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	h.respondWithUser(w, r, user.UUID)
}

// HandleReplace handles PUT /v1/users/{uuid}/memberships: the full set is
// swapped in one transaction.
func (h *MembershipHandler) HandleReplace(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var req membershipsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ms := make([]domain.Membership, 0, len(req.Memberships))
	for _, p := range req.Memberships {
		if p.App == "" || p.Role == "" {
			httpx.WriteFailed(w, http.StatusUnprocessableEntity, "app and role are required")
			return
		}
		ms = append(ms, domain.Membership{App: p.App, Role: p.Role})
	}

	if err := h.UserService.ReplaceMemberships(r.Context(), user.ID, ms); err != nil {
		slogx.FromContext(r.Context()).Error("membership replace failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.respondWithUser(w, r, user.UUID)
}

// HandleRemove handles DELETE /v1/users/{uuid}/memberships.
func (h *MembershipHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var req membershipsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	pairs := make([]domain.AppRole, 0, len(req.Memberships))
	for _, p := range req.Memberships {
		pairs = append(pairs, domain.AppRole{App: p.App, Role: p.Role})
	}

	if err := h.UserService.RemoveMemberships(r.Context(), user.ID, pairs); err != nil {
		slogx.FromContext(r.Context()).Error("membership remove failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.respondWithUser(w, r, user.UUID)
}

// HandleUpdate handles PATCH /v1/memberships/{id}.
func (h *MembershipHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid membership id")
		return
	}

	var req membershipPair
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.App == "" || req.Role == "" {
		httpx.WriteFailed(w, http.StatusUnprocessableEntity, "app and role are required")
		return
	}

	err = h.UserService.UpdateMembership(r.Context(), domain.Membership{ID: id, App: req.App, Role: req.Role})
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteFailed(w, http.StatusNotFound, "membership not found")
	case err != nil:
		slogx.FromContext(r.Context()).Error("membership update failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
