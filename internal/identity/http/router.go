package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/service"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
	"github.com/deadbolt-id/deadbolt/pkg/httpx"
	"github.com/deadbolt-id/deadbolt/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store           store.Store
	UserService     *service.UserService
	SessionService  *service.SessionService
	PasswordService *service.PasswordService
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSessions()
	r.registerUsers()
	r.registerTwoFactor()
	r.registerMemberships()
	r.registerPassword()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSessions() {
	h := &SessionHandler{UserService: r.UserService, SessionService: r.SessionService}

	// POST /login - strict rate limit by IP + identifier to slow brute force
	r.Mux.Handle("POST /v1/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndBodyField(httpx.StrictLimit, "identifier"),
		),
	)

	// GET /session - resolves and touches the bearer session
	r.Mux.Handle("GET /v1/session",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	// DELETE /session - revoke the bearer session
	r.Mux.Handle("DELETE /v1/session",
		httpx.Chain(http.HandlerFunc(h.HandleRevoke),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// DELETE /users/{identifier}/sessions - revoke every session of a user
	r.Mux.Handle("DELETE /v1/users/{identifier}/sessions",
		httpx.Chain(http.HandlerFunc(h.HandleRevokeAll),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerUsers() {
	h := &UserHandler{UserService: r.UserService, PasswordService: r.PasswordService}

	// POST /users - registration, strict by IP
	r.Mux.Handle("POST /v1/users",
		httpx.Chain(http.HandlerFunc(h.HandleCreate),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// GET /users - search
	r.Mux.Handle("GET /v1/users",
		httpx.Chain(http.HandlerFunc(h.HandleSearch),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("GET /v1/users/{identifier}",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("PATCH /v1/users/{uuid}",
		httpx.Chain(http.HandlerFunc(h.HandleUpdate),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("DELETE /v1/users/{uuid}",
		httpx.Chain(http.HandlerFunc(h.HandleDelete),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerTwoFactor() {
	h := &TwoFactorHandler{UserService: r.UserService}

	// POST /2fa/setup - provision a method out of band
	r.Mux.Handle("POST /v1/2fa/setup",
		httpx.Chain(http.HandlerFunc(h.HandleSetup),
			httpx.RateLimitByIPAndBodyField(httpx.StrictLimit, "identifier"),
		),
	)

	// POST /2fa/verify - strict by IP + identifier to slow code guessing
	r.Mux.Handle("POST /v1/2fa/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			httpx.RateLimitByIPAndBodyField(httpx.StrictLimit, "identifier"),
		),
	)
}

func (r *Router) registerMemberships() {
	h := &MembershipHandler{UserService: r.UserService}

	r.Mux.Handle("POST /v1/users/{uuid}/memberships",
		httpx.Chain(http.HandlerFunc(h.HandleAdd),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// PUT replaces the full membership set atomically
	r.Mux.Handle("PUT /v1/users/{uuid}/memberships",
		httpx.Chain(http.HandlerFunc(h.HandleReplace),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("DELETE /v1/users/{uuid}/memberships",
		httpx.Chain(http.HandlerFunc(h.HandleRemove),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("PATCH /v1/memberships/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleUpdate),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerPassword() {
	h := &PasswordHandler{UserService: r.UserService, PasswordService: r.PasswordService}

	r.Mux.Handle("POST /v1/password",
		httpx.Chain(http.HandlerFunc(h.HandleSet),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /password/verify - strict, same brute-force surface as login
	r.Mux.Handle("POST /v1/password/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			httpx.RateLimitByIPAndBodyField(httpx.StrictLimit, "identifier"),
		),
	)

	// POST /password/reset-token - strict: enumeration and flood target
	r.Mux.Handle("POST /v1/password/reset-token",
		httpx.Chain(http.HandlerFunc(h.HandleResetToken),
			httpx.RateLimitByIPAndBodyField(httpx.StrictLimit, "identifier"),
		),
	)

	r.Mux.Handle("POST /v1/password/reset",
		httpx.Chain(http.HandlerFunc(h.HandleReset),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	r.Mux.Handle("POST /v1/confirm-email",
		httpx.Chain(http.HandlerFunc(h.HandleConfirmEmail),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient limits; monitors poll these
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
