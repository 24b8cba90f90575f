package cryptox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (32 hex chars).
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (64 hex chars).
	TokenSize256 = 32
)

// GenerateToken creates a cryptographically secure random token of the
// specified byte length, hex-encoded. Tokens are opaque bearer credentials:
// session tokens, 2FA correlators, reset tokens.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// MustGenerateToken is like GenerateToken but panics on error.
// Use this only during initialization or in contexts where failure is unrecoverable.
func MustGenerateToken(size int) string {
	token, err := GenerateToken(size)
	if err != nil {
		panic(fmt.Sprintf("cryptox: failed to generate token: %v", err))
	}
	return token
}

// GenerateDigitCode returns a uniformly distributed six digit code ("100000"
// through "999999") from a cryptographically secure source. Used for 2FA codes
// delivered out of band.
func GenerateDigitCode() (string, error) {
	// Uniform over [100000, 999999] so the code never has a leading zero.
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate random code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+100000), nil
}
