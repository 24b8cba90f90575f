package http

import (
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
)

// Wire types. Internal integer ids never appear here: users travel by uuid,
// sessions by token. Memberships keep their id because the update route
// addresses them by it.

type membershipResponse struct {
	ID      int64  `json:"membershipId"`
	App     string `json:"app"`
	Role    string `json:"role"`
	Created int64  `json:"created"`
}

type userResponse struct {
	UUID           string               `json:"uuid"`
	Username       string               `json:"username"`
	Email          string               `json:"email,omitempty"`
	FirstName      string               `json:"firstName,omitempty"`
	LastName       string               `json:"lastName,omitempty"`
	Active         bool                 `json:"active"`
	EmailConfirmed *int64               `json:"emailConfirmed,omitempty"`
	TwoFactor      string               `json:"twoFactor,omitempty"`
	Created        int64                `json:"created"`
	LastActivity   int64                `json:"lastActivity"`
	Memberships    []membershipResponse `json:"memberships"`
}

type sessionResponse struct {
	Token   string `json:"token"`
	Created int64  `json:"created"`
	Expires int64  `json:"expires"`
}

type twoFactorResponse struct {
	Method    string `json:"method"`
	UserToken string `json:"userToken"`
	Expires   int64  `json:"expires"`

	// Enrollment bootstrap only.
	Secret     string `json:"secret,omitempty"`
	OtpauthURL string `json:"otpauthUrl,omitempty"`
}

type loginResponse struct {
	Status    string             `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	User      *userResponse      `json:"user,omitempty"`
	Session   *sessionResponse   `json:"session,omitempty"`
	TwoFactor *twoFactorResponse `json:"twoFactor,omitempty"`
}

type pageResponse[T any] struct {
	Items       []T `json:"items"`
	CurrentPage int `json:"currentPage"`
	LastPage    int `json:"lastPage"`
	Total       int `json:"total"`
}

func toMembershipResponse(m domain.Membership) membershipResponse {
	return membershipResponse{
		ID:      m.ID,
		App:     m.App,
		Role:    m.Role,
		Created: m.Created.Unix(),
	}
}

func toUserResponse(u *domain.User) *userResponse {
	if u == nil {
		return nil
	}

	out := &userResponse{
		UUID:         u.UUID,
		Username:     u.Username,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Active:       u.Active,
		TwoFactor:    string(u.TwoFactor),
		Created:      u.Created.Unix(),
		LastActivity: u.LastActivity.Unix(),
		Memberships:  make([]membershipResponse, 0, len(u.Memberships)),
	}
	if u.EmailConfirmed != nil {
		v := u.EmailConfirmed.Unix()
		out.EmailConfirmed = &v
	}
	for _, m := range u.Memberships {
		out.Memberships = append(out.Memberships, toMembershipResponse(m))
	}
	return out
}

func toSessionResponse(s *domain.Session) *sessionResponse {
	if s == nil {
		return nil
	}
	return &sessionResponse{
		Token:   s.Token,
		Created: s.Created.Unix(),
		Expires: s.Expires.Unix(),
	}
}

// toTwoFactorResponse exposes the prompt without the delivered code; the
// code travels over the out-of-band channel only.
func toTwoFactorResponse(p *domain.TwoFactorPrompt) *twoFactorResponse {
	if p == nil {
		return nil
	}
	return &twoFactorResponse{
		Method:     string(p.Method),
		UserToken:  p.UserToken,
		Expires:    p.Expires.Unix(),
		Secret:     p.Secret,
		OtpauthURL: p.OtpauthURL,
	}
}

func toLoginResponse(res domain.LoginResult) loginResponse {
	switch {
	case res.Success:
		return loginResponse{
			Status:  "ok",
			User:    toUserResponse(res.User),
			Session: toSessionResponse(res.Session),
		}
	case res.TwoFactorRequired:
		return loginResponse{
			Status:    "twoFactorRequired",
			User:      toUserResponse(res.User),
			TwoFactor: toTwoFactorResponse(res.TwoFactor),
		}
	default:
		return loginResponse{Status: "failed", Reason: res.Reason}
	}
}

func parseTTLHours(hours int) time.Duration {
	if hours <= 0 {
		return 0
	}
	return time.Duration(hours) * time.Hour
}
