package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
	"github.com/deadbolt-id/deadbolt/pkg/cryptox"
	"github.com/deadbolt-id/deadbolt/pkg/slogx"

	"github.com/google/uuid"
)

const (
	// DefaultConfirmTokenTTL is how long an email confirmation link stays
	// redeemable.
	DefaultConfirmTokenTTL = 168 * time.Hour // 7 days

	// DefaultUUIDMaxAttempts bounds the retry loop when allocating an
	// external id. Exhausting it means the random source is broken, not
	// that the id space is full.
	DefaultUUIDMaxAttempts = 1000
)

var (
	ErrUsernameInvalid = errors.New("username invalid")
	ErrEmailInvalid    = errors.New("email invalid")
	ErrUsernameTaken   = errors.New("username already taken")
	ErrEmailTaken      = errors.New("email already taken")
	ErrUserNotFound    = errors.New("user not found")
	ErrCannotUpdate    = errors.New("cannot update user")
	ErrUUIDExhausted   = errors.New("could not allocate a unique uuid")
)

// LoginRequest carries one authentication attempt.
type LoginRequest struct {
	// Identifier is a free-form user reference: id, uuid, email or username.
	Identifier string
	Secret     string

	// App, when set, requires the user to hold a membership in that app.
	App string

	// SessionTTL overrides the initial session deadline when positive.
	SessionTTL time.Duration
}

// UserService orchestrates accounts: login, registration, membership
// management and search. It owns the cross-cutting rules the lower services
// stay out of, like the email confirmation gate and the two-factor dance.
type UserService struct {
	Store     store.Store
	Sessions  *SessionService
	Passwords *PasswordService
	TwoFactor TwoFactorSet

	ConfirmTokenTTL time.Duration

	// RequireApp rejects logins that do not name an app.
	RequireApp bool

	UUIDMaxAttempts int

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (s *UserService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *UserService) confirmTokenTTL() time.Duration {
	if s.ConfirmTokenTTL > 0 {
		return s.ConfirmTokenTTL
	}
	return DefaultConfirmTokenTTL
}

// GetUser resolves a free-form identifier to a user, or (nil, nil) when no
// account matches.
func (s *UserService) GetUser(ctx context.Context, identifier string) (*domain.User, error) {
	var (
		u   domain.User
		err error
	)
	switch domain.ClassifyIdentifier(identifier) {
	case domain.IdentifierID:
		id, perr := strconv.ParseInt(identifier, 10, 64)
		if perr != nil {
			return nil, nil
		}
		u, err = s.Store.Users().GetByID(ctx, id)
	case domain.IdentifierUUID:
		u, err = s.Store.Users().GetByUUID(ctx, identifier)
	case domain.IdentifierEmail:
		u, err = s.Store.Users().GetByEmail(ctx, identifier)
	default:
		u, err = s.Store.Users().GetByUsername(ctx, identifier)
	}

	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// Login authenticates a primary credential and either mints a session or
// opens a two-factor challenge. Business rejections come back as a failed
// LoginResult, never as an error.
func (s *UserService) Login(ctx context.Context, req LoginRequest, method AuthMethod) (domain.LoginResult, error) {
	log := slogx.FromContext(ctx)

	if s.RequireApp && req.App == "" {
		return domain.LoginFailed(domain.ReasonUserCannotLogin), nil
	}

	user, err := s.GetUser(ctx, req.Identifier)
	if err != nil {
		return domain.LoginResult{}, err
	}
	if user == nil {
		return domain.LoginFailed(domain.ReasonNotFound), nil
	}
	// The app filter is part of resolution: outside the requested app the
	// account does not exist as far as the caller can tell.
	if req.App != "" && !user.HasApp(req.App) {
		return domain.LoginFailed(domain.ReasonNotFound), nil
	}

	ok, err := method.Verify(ctx, user, req.Secret)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("failed to verify credential: %w", err)
	}
	if !ok {
		log.Info("login rejected", "method", method.Name(), "reason", "credential mismatch")
		return domain.LoginFailed(domain.ReasonPasswordIncorrect), nil
	}

	if !user.Active {
		return domain.LoginFailed(domain.ReasonUserCannotLogin), nil
	}

	// Unconfirmed accounts keep a grace window while the confirmation token
	// is still live; once it lapses the login is blocked.
	if user.Email != "" && user.EmailConfirmed == nil {
		if user.EmailConfirmTokenExpires == nil || !user.EmailConfirmTokenExpires.After(s.now()) {
			return domain.LoginFailed(domain.ReasonEmailNotConfirmed), nil
		}
	}

	if user.TwoFactor != domain.TwoFactorNone {
		prompt, err := s.openTwoFactor(ctx, user, user.TwoFactor)
		if err != nil {
			return domain.LoginResult{}, err
		}
		return domain.LoginNeedsTwoFactor(user, prompt), nil
	}

	return s.mintSession(ctx, user, req.SessionTTL)
}

// openTwoFactor requests a challenge, falling back to a fresh Setup when the
// strategy has no usable enrollment yet.
func (s *UserService) openTwoFactor(ctx context.Context, user *domain.User, method domain.TwoFactorMethod) (*domain.TwoFactorPrompt, error) {
	tf, err := s.TwoFactor.Get(method)
	if err != nil {
		return nil, err
	}

	prompt, err := tf.Request(ctx, user)
	if errors.Is(err, ErrTwoFactorNotSetUp) || errors.Is(err, ErrTwoFactorNotConfirmed) {
		prompt, err = tf.Setup(ctx, user)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open two-factor challenge: %w", err)
	}
	return prompt, nil
}

// SetupTwoFactor provisions a method for the user without going through
// login, returning the bootstrap prompt.
func (s *UserService) SetupTwoFactor(ctx context.Context, identifier string, method domain.TwoFactorMethod) (*domain.User, *domain.TwoFactorPrompt, error) {
	user, err := s.GetUser(ctx, identifier)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrUserNotFound
	}

	tf, err := s.TwoFactor.Get(method)
	if err != nil {
		return nil, nil, err
	}
	prompt, err := tf.Setup(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, prompt, nil
}

// VerifyTwoFactor completes a pending challenge. On success the verified
// method becomes the user's enrolled method, an email verification confirms
// the address, and a session is minted.
func (s *UserService) VerifyTwoFactor(ctx context.Context, identifier string, method domain.TwoFactorMethod, payload domain.TwoFactorPayload, sessionTTL time.Duration) (domain.LoginResult, error) {
	user, err := s.GetUser(ctx, identifier)
	if err != nil {
		return domain.LoginResult{}, err
	}
	if user == nil {
		return domain.LoginFailed(domain.ReasonNotFound), nil
	}

	if method == domain.TwoFactorNone {
		method = user.TwoFactor
	}
	tf, err := s.TwoFactor.Get(method)
	if err != nil {
		return domain.LoginResult{}, err
	}

	ok, err := tf.Verify(ctx, user, payload)
	if err != nil {
		return domain.LoginResult{}, err
	}
	if !ok {
		return domain.LoginFailed(domain.ReasonTwoFactorFailed), nil
	}

	now := s.now()
	if user.TwoFactor != method {
		if err := s.Store.Users().SetTwoFactor(ctx, user.ID, method); err != nil {
			return domain.LoginResult{}, fmt.Errorf("failed to persist two-factor method: %w", err)
		}
		user.TwoFactor = method
	}
	// Passing an emailed code proves control of the inbox.
	if method == domain.TwoFactorEmail && user.Email != "" && user.EmailConfirmed == nil {
		if err := s.Store.Users().ConfirmEmail(ctx, user.ID, now); err != nil {
			return domain.LoginResult{}, fmt.Errorf("failed to confirm email: %w", err)
		}
		user.EmailConfirmed = &now
		user.EmailConfirmToken = ""
		user.EmailConfirmTokenExpires = nil
	}

	return s.mintSession(ctx, user, sessionTTL)
}

func (s *UserService) mintSession(ctx context.Context, user *domain.User, ttl time.Duration) (domain.LoginResult, error) {
	sess, err := s.Sessions.Create(ctx, user, ttl)
	if err != nil {
		return domain.LoginResult{}, err
	}
	now := s.now()
	if err := s.Store.Users().TouchLastActivity(ctx, user.ID, now); err != nil {
		return domain.LoginResult{}, fmt.Errorf("failed to touch last activity: %w", err)
	}
	user.LastActivity = now

	slogx.FromContext(ctx).Info("login succeeded", "user", user.UUID)
	return domain.LoginSucceeded(user, &sess), nil
}

// GetUserBySession resolves a session token to its user, touching the
// session on the way. Both results are nil for dead tokens.
func (s *UserService) GetUserBySession(ctx context.Context, token string) (*domain.User, *domain.Session, error) {
	sess, err := s.Sessions.Validate(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, nil
	}

	user, err := s.Store.Users().GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, sess, nil
}

// RevokeSessions expires every live session the identified user holds.
// Unknown identifiers are a no-op and report false.
func (s *UserService) RevokeSessions(ctx context.Context, identifier string) (bool, error) {
	user, err := s.GetUser(ctx, identifier)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	if err := s.Sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		return false, err
	}
	return true, nil
}

// AddUser registers a new account. The user's memberships, if any, are
// created with it. When an unconfirmed email is present a confirmation token
// is minted; delivering it is the caller's problem.
func (s *UserService) AddUser(ctx context.Context, u *domain.User) error {
	if !domain.ValidUsername(u.Username) {
		return ErrUsernameInvalid
	}
	if u.Email != "" && !domain.ValidEmail(u.Email) {
		return ErrEmailInvalid
	}

	now := s.now()
	u.Created = now
	u.LastActivity = now

	if u.Email != "" && u.EmailConfirmed == nil {
		token, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return fmt.Errorf("failed to generate confirm token: %w", err)
		}
		expires := now.Add(s.confirmTokenTTL())
		u.EmailConfirmToken = token
		u.EmailConfirmTokenExpires = &expires
	}

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		taken, err := tx.Users().UsernameExists(ctx, u.Username)
		if err != nil {
			return err
		}
		if taken {
			return ErrUsernameTaken
		}
		if u.Email != "" {
			taken, err := tx.Users().EmailExists(ctx, u.Email)
			if err != nil {
				return err
			}
			if taken {
				return ErrEmailTaken
			}
		}

		external, err := s.allocateUUID(ctx, tx)
		if err != nil {
			return err
		}
		u.UUID = external

		if err := tx.Users().Create(ctx, u); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrUsernameTaken
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		for i := range u.Memberships {
			u.Memberships[i].Created = now
		}
		if err := tx.Memberships().Add(ctx, u.ID, u.Memberships); err != nil {
			return fmt.Errorf("failed to create memberships: %w", err)
		}
		return nil
	})
}

// allocateUUID draws external ids until one is free. Collisions are
// vanishingly rare; the bound exists so a broken random source fails loudly
// instead of spinning.
func (s *UserService) allocateUUID(ctx context.Context, tx store.Tx) (string, error) {
	attempts := s.UUIDMaxAttempts
	if attempts <= 0 {
		attempts = DefaultUUIDMaxAttempts
	}

	for range attempts {
		candidate := uuid.NewString()
		exists, err := tx.Users().UUIDExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", ErrUUIDExhausted
}

// UpdateUser applies a partial update by internal id and reports the rows
// touched. Deactivation revokes every session; an email change restarts the
// confirmation flow.
func (s *UserService) UpdateUser(ctx context.Context, id int64, changes domain.UserChanges) (int64, error) {
	if changes.Username != nil && !domain.ValidUsername(*changes.Username) {
		return 0, ErrUsernameInvalid
	}
	if changes.Email != nil && *changes.Email != "" && !domain.ValidEmail(*changes.Email) {
		return 0, ErrEmailInvalid
	}

	n, err := s.Store.Users().Update(ctx, id, changes)
	if errors.Is(err, store.ErrConflict) {
		return 0, ErrCannotUpdate
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update user: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	if changes.Email != nil && *changes.Email != "" {
		token, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return 0, fmt.Errorf("failed to generate confirm token: %w", err)
		}
		if err := s.Store.Users().SetConfirmToken(ctx, id, token, s.now().Add(s.confirmTokenTTL())); err != nil {
			return 0, fmt.Errorf("failed to reset confirm token: %w", err)
		}
	}

	if changes.Active != nil && !*changes.Active {
		if err := s.Sessions.RevokeAllForUser(ctx, id); err != nil {
			return 0, fmt.Errorf("failed to revoke sessions: %w", err)
		}
	}
	return n, nil
}

// PurgeUser removes the account and, via schema cascades, every dependent
// row: memberships, sessions, credentials and challenges.
func (s *UserService) PurgeUser(ctx context.Context, externalID string) (bool, error) {
	return s.Store.Users().Delete(ctx, externalID)
}

// ConfirmEmail redeems a confirmation token. Expired or unknown tokens
// report (nil, nil); the caller decides how loudly to fail.
func (s *UserService) ConfirmEmail(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, nil
	}

	user, err := s.Store.Users().GetByConfirmToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	now := s.now()
	if user.EmailConfirmTokenExpires == nil || !user.EmailConfirmTokenExpires.After(now) {
		return nil, nil
	}

	if err := s.Store.Users().ConfirmEmail(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to confirm email: %w", err)
	}
	user.EmailConfirmed = &now
	user.EmailConfirmToken = ""
	user.EmailConfirmTokenExpires = nil
	return &user, nil
}

// AddMemberships grants the given (app, role) pairs to the user.
func (s *UserService) AddMemberships(ctx context.Context, userID int64, ms []domain.Membership) error {
	now := s.now()
	for i := range ms {
		ms[i].Created = now
	}
	return s.Store.Memberships().Add(ctx, userID, ms)
}

// UpdateMembership rewrites the app and role on an existing membership.
func (s *UserService) UpdateMembership(ctx context.Context, m domain.Membership) error {
	return s.Store.Memberships().Update(ctx, m)
}

// RemoveMemberships revokes the given pairs atomically.
func (s *UserService) RemoveMemberships(ctx context.Context, userID int64, pairs []domain.AppRole) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Memberships().Remove(ctx, userID, pairs)
	})
}

// ReplaceMemberships swaps the user's full membership set in one
// transaction, so readers never observe the half-empty state.
func (s *UserService) ReplaceMemberships(ctx context.Context, userID int64, ms []domain.Membership) error {
	now := s.now()
	for i := range ms {
		ms[i].Created = now
	}
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Memberships().DeleteByUser(ctx, userID); err != nil {
			return err
		}
		return tx.Memberships().Add(ctx, userID, ms)
	})
}

// GetUsers runs a filtered, ordered, paged search.
func (s *UserService) GetUsers(ctx context.Context, c domain.SearchCriteria) (domain.Page[domain.User], error) {
	return s.Store.Users().Search(ctx, c)
}
