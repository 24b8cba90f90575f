package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/service"
	"github.com/deadbolt-id/deadbolt/pkg/httpx"
	"github.com/deadbolt-id/deadbolt/pkg/slogx"
)

// UserHandler serves account CRUD and search.
type UserHandler struct {
	UserService     *service.UserService
	PasswordService *service.PasswordService
}

type createUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Memberships []struct {
		App  string `json:"app"`
		Role string `json:"role"`
	} `json:"memberships,omitempty"`
}

// HandleCreate handles POST /v1/users: registration plus the initial
// password in one step.
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user := domain.User{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Active:    true,
	}
	for _, m := range req.Memberships {
		user.Memberships = append(user.Memberships, domain.Membership{App: m.App, Role: m.Role})
	}

	if err := h.UserService.AddUser(ctx, &user); err != nil {
		writeUserError(w, log, err)
		return
	}

	if req.Password != "" {
		if err := h.PasswordService.SetPassword(ctx, user.ID, req.Password); err != nil {
			// The account exists but has no credential. Surface the policy
			// error; the client can set a password afterwards.
			writeUserError(w, log, err)
			return
		}
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"status": "ok",
		"user":   toUserResponse(&user),
	})
}

// HandleGet handles GET /v1/users/{identifier}. The identifier can be a
// uuid, email or username; its type is inferred.
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := h.UserService.GetUser(ctx, r.PathValue("identifier"))
	if err != nil {
		slogx.FromContext(ctx).Error("user lookup failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		httpx.WriteFailed(w, http.StatusNotFound, "user not found")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"user":   toUserResponse(user),
	})
}

// HandleSearch handles GET /v1/users.
func (h *UserHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	criteria := domain.SearchCriteria{
		Query:   q.Get("q"),
		Email:   q.Get("email"),
		UUIDs:   splitMulti(q["uuid"]),
		OrderBy: domain.ParseOrderBy(splitMulti(q["orderBy"])),
	}
	for _, raw := range splitMulti(q["membership"]) {
		if pair, ok := domain.ParseAppRole(raw); ok {
			criteria.Memberships = append(criteria.Memberships, pair)
		}
	}
	if v := q.Get("page"); v != "" {
		criteria.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("perPage"); v != "" {
		criteria.PerPage, _ = strconv.Atoi(v)
	}
	if v := q.Get("active"); v != "" {
		criteria.ActiveOnly, _ = strconv.ParseBool(v)
	}

	page, err := h.UserService.GetUsers(ctx, criteria)
	if err != nil {
		slogx.FromContext(ctx).Error("user search failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]*userResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, toUserResponse(&page.Items[i]))
	}
	httpx.WriteJSON(w, http.StatusOK, pageResponse[*userResponse]{
		Items:       items,
		CurrentPage: page.CurrentPage,
		LastPage:    page.LastPage,
		Total:       page.Total,
	})
}

type updateUserRequest struct {
	Username  *string `json:"username,omitempty"`
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}

// HandleUpdate handles PATCH /v1/users/{uuid}. Absent fields are left as
// they are.
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	user, err := h.UserService.GetUser(ctx, r.PathValue("uuid"))
	if err != nil {
		log.Error("user lookup failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		httpx.WriteFailed(w, http.StatusNotFound, "user not found")
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteFailed(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	_, err = h.UserService.UpdateUser(ctx, user.ID, domain.UserChanges{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Active:    req.Active,
	})
	if err != nil {
		writeUserError(w, log, err)
		return
	}

	updated, err := h.UserService.GetUser(ctx, user.UUID)
	if err != nil || updated == nil {
		log.Error("user reload failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"user":   toUserResponse(updated),
	})
}

// HandleDelete handles DELETE /v1/users/{uuid}: a hard purge, cascading to
// every dependent row.
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	found, err := h.UserService.PurgeUser(ctx, r.PathValue("uuid"))
	if err != nil {
		slogx.FromContext(ctx).Error("user purge failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		httpx.WriteFailed(w, http.StatusNotFound, "user not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeUserError maps service errors onto response codes: validation to 422,
// conflicts to 409, the rest to 500.
func writeUserError(w http.ResponseWriter, log interface{ Error(string, ...any) }, err error) {
	switch {
	case errors.Is(err, service.ErrUsernameInvalid),
		errors.Is(err, service.ErrEmailInvalid),
		errors.Is(err, service.ErrPasswordTooWeak),
		errors.Is(err, service.ErrPasswordTooLong):
		httpx.WriteFailed(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrCannotUpdate):
		httpx.WriteFailed(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		httpx.WriteFailed(w, http.StatusNotFound, err.Error())
	default:
		log.Error("request failed", "err", err)
		httpx.WriteFailed(w, http.StatusInternalServerError, "internal error")
	}
}

// splitMulti accepts both repeated query parameters and comma-separated
// values in one parameter.
func splitMulti(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
