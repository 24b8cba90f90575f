package domain

import (
	"regexp"
	"strings"
	"time"
)

// TwoFactorMethod identifies a second-factor strategy. The set is closed:
// dispatch happens over these values, never over open-ended registration.
type TwoFactorMethod string

const (
	TwoFactorNone  TwoFactorMethod = ""
	TwoFactorTOTP  TwoFactorMethod = "totp"
	TwoFactorEmail TwoFactorMethod = "email"
	TwoFactorSMS   TwoFactorMethod = "sms"
)

// ParseTwoFactorMethod maps a wire string to a known method.
func ParseTwoFactorMethod(s string) (TwoFactorMethod, bool) {
	switch TwoFactorMethod(strings.ToLower(strings.TrimSpace(s))) {
	case TwoFactorTOTP:
		return TwoFactorTOTP, true
	case TwoFactorEmail:
		return TwoFactorEmail, true
	case TwoFactorSMS:
		return TwoFactorSMS, true
	case TwoFactorNone:
		return TwoFactorNone, true
	default:
		return TwoFactorNone, false
	}
}

// User is an account row. ID is the internal integer key and never leaves the
// service; UUID is the exposed identifier.
type User struct {
	ID                       int64
	UUID                     string
	Username                 string
	Email                    string // optional; unique when present
	FirstName                string
	LastName                 string
	Active                   bool
	EmailConfirmed           *time.Time
	EmailConfirmToken        string
	EmailConfirmTokenExpires *time.Time
	TwoFactor                TwoFactorMethod
	Created                  time.Time
	LastActivity             time.Time
	Memberships              []Membership
}

// Membership grants a role within a named application.
type Membership struct {
	ID      int64
	UserID  int64
	App     string
	Role    string
	Created time.Time
}

// AppRole is an (app, role) pair, used for membership filters and bulk removal.
type AppRole struct {
	App  string
	Role string
}

var (
	usernameRE = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	// Close enough to RFC 5322 for classification and input validation.
	emailRE = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)
)

// ValidUsername reports whether s is an acceptable username.
func ValidUsername(s string) bool { return usernameRE.MatchString(s) }

// ValidEmail reports whether s is a syntactically valid email address.
func ValidEmail(s string) bool { return emailRE.MatchString(s) }

// Valid reports whether the user passes structural validation: username
// pattern plus, when an email is present, email syntax.
func (u *User) Valid() bool {
	if !ValidUsername(u.Username) {
		return false
	}
	if u.Email != "" && !ValidEmail(u.Email) {
		return false
	}
	return true
}

// DisplayName prefers the real name and falls back to the username.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	return u.Username
}

// HasRole reports whether any membership carries the given role.
func (u *User) HasRole(role string) bool {
	for _, m := range u.Memberships {
		if m.Role == role {
			return true
		}
	}
	return false
}

// HasApp reports whether the user holds any membership in the given app.
func (u *User) HasApp(app string) bool {
	for _, m := range u.Memberships {
		if m.App == app {
			return true
		}
	}
	return false
}

// HasMembership reports whether the exact (app, role) pair is present.
func (u *User) HasMembership(app, role string) bool {
	for _, m := range u.Memberships {
		if m.App == app && m.Role == role {
			return true
		}
	}
	return false
}

// UserChanges is a partial update: nil fields are left untouched.
type UserChanges struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
	Active    *bool
	TwoFactor *TwoFactorMethod
}
