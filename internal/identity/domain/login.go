package domain

import "time"

// Login failure reasons surfaced to callers. The strings are part of the API
// contract; clients match on them.
const (
	ReasonNotFound          = "Not found"
	ReasonPasswordIncorrect = "Password incorrect"
	ReasonUserCannotLogin   = "User cannot login"
	ReasonEmailNotConfirmed = "Email not confirmed"
	ReasonTwoFactorFailed   = "Two-factor verification failed"
)

// TwoFactorPrompt is the data a caller needs to complete a pending second
// factor. The verification code itself never rides on this struct except for
// delivery channels (email, sms) where the transport layer must see it.
type TwoFactorPrompt struct {
	Method    TwoFactorMethod
	UserToken string
	Expires   time.Time

	// Code is set only for delivery-based methods so the caller can hand it
	// to a mailer or SMS gateway. Never serialize it to the requester.
	Code string

	// Secret and OtpauthURL are set only on a fresh TOTP enrollment.
	Secret     string
	OtpauthURL string
}

// TwoFactorPayload carries the second step of a challenge: the correlator
// handed out earlier plus the code the user typed.
type TwoFactorPayload struct {
	UserToken string
	Code      string
}

// LoginResult is the outcome of an authentication attempt. Exactly one of
// three shapes holds: a failure with a Reason, a pending second factor with
// TwoFactorRequired set, or a success carrying a Session.
type LoginResult struct {
	Success bool
	Reason  string

	User    *User
	Session *Session

	TwoFactorRequired bool
	TwoFactor         *TwoFactorPrompt
}

// LoginFailed builds a failed result with the given reason.
func LoginFailed(reason string) LoginResult {
	return LoginResult{Reason: reason}
}

// LoginSucceeded builds a successful result carrying the minted session.
func LoginSucceeded(u *User, s *Session) LoginResult {
	return LoginResult{Success: true, User: u, Session: s}
}

// LoginNeedsTwoFactor builds a pending result: credentials were accepted but
// a second factor must be verified before a session is minted.
func LoginNeedsTwoFactor(u *User, prompt *TwoFactorPrompt) LoginResult {
	return LoginResult{User: u, TwoFactorRequired: true, TwoFactor: prompt}
}
