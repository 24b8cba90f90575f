package domain

import "time"

// Session is an opaque bearer session. Sessions are never deleted: revocation
// rewrites Expires to a moment in the past, preserving audit history.
type Session struct {
	ID      int64
	UserID  int64
	Token   string // 128-bit random hex
	Created time.Time
	Expires time.Time
}

// Expired reports whether the session is past its expiry at the given time.
func (s Session) Expired(now time.Time) bool {
	return !s.Expires.After(now)
}
