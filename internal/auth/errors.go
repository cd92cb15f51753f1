package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound             = errors.New("auth: not found")
	ErrDuplicateEmail       = errors.New("auth: email already registered")
	ErrInvalidInput         = errors.New("auth: invalid input")
	ErrUnauthorized         = errors.New("auth: unauthorized")
	ErrEmailNotVerified     = errors.New("auth: email not verified")
	ErrEmailAlreadyVerified = errors.New("auth: email already verified")

	// ErrInvalidToken covers every refresh token the service refuses to
	// honor: forged, expired, or already rotated.
	ErrInvalidToken = errors.New("auth: invalid token")

	ErrInvalidVerificationToken = errors.New("auth: invalid verification token")
	ErrInvalidResetToken        = errors.New("auth: invalid reset token")

	// ErrStaleRefreshToken is returned by Store.RotateRefreshToken when the
	// conditional update matched no row, i.e. the presented token is no
	// longer the user's current one.
	ErrStaleRefreshToken = errors.New("auth: stale refresh token")
)

// Codec-level verification failures. VerifyAccess and VerifyRefresh wrap
// exactly one of these so callers can distinguish a clock problem from a
// forgery.
var (
	ErrTokenMalformed   = errors.New("auth: token malformed")
	ErrTokenSignature   = errors.New("auth: token signature invalid")
	ErrTokenExpired     = errors.New("auth: token expired")
	ErrTokenNotYetValid = errors.New("auth: token not yet valid")
)

// RateLimitError reports a cooldown violation for action token re-issue.
// RetryAfter is the remaining wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("auth: rate limit exceeded, retry in %s", e.RetryAfter.Round(time.Second))
}

// IsRateLimit reports whether err is a cooldown violation and returns the
// remaining wait when it is.
func IsRateLimit(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
