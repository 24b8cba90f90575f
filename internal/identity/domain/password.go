package domain

import "time"

// PasswordRecord holds a user's credential, 1:1 with User. The reset token is
// a single-use opaque challenge with its own expiry.
type PasswordRecord struct {
	ID                int64
	UserID            int64
	PasswordHash      string // argon2id, PHC encoded
	ResetToken        string
	ResetTokenExpires *time.Time
	Created           time.Time
	Updated           time.Time
}

// ResetExpired reports whether the pending reset token (if any) has lapsed.
func (r PasswordRecord) ResetExpired(now time.Time) bool {
	return r.ResetTokenExpires != nil && r.ResetTokenExpires.Before(now)
}
