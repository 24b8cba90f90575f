package domain

import "time"

// Challenge is a single-use verification code issued over a delivery channel
// (email or sms). Code is what the user receives; UserToken is the opaque
// correlator the client echoes back alongside it.
type Challenge struct {
	ID        int64
	UserID    int64
	Code      string
	UserToken string
	Expires   time.Time
	Used      bool
	Attempt   int
	Created   time.Time
}

// Expired reports whether the challenge window has closed.
func (c Challenge) Expired(now time.Time) bool {
	return !c.Expires.After(now)
}

// TotpEnrollment is a user's authenticator-app secret. An enrollment only
// counts for login once Confirmed is set by a successful verification.
type TotpEnrollment struct {
	ID        int64
	UserID    int64
	Secret    string
	Confirmed bool
	Created   time.Time
}

// TotpChallenge is a pending authenticator prompt. There is no stored code;
// the code is computed from the enrollment secret at verify time.
type TotpChallenge struct {
	ID           int64
	EnrollmentID int64
	UserToken    string
	Expires      time.Time
	Used         bool
	Attempt      int
	Created      time.Time
}
