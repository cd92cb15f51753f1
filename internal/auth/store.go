package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations the auth core needs. Every
// mutation is a full overwrite of the affected fields under the single-row
// atomicity of the backing database.
type Store interface {
	// Create persists a new user. Fails with ErrDuplicateEmail when the
	// email is already taken.
	Create(ctx context.Context, u *User) error

	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)

	// PendingVerifications returns users whose email verification token is
	// set and not expired at now. Redemption runs a hash comparison over
	// this candidate set because the plaintext token is not indexable.
	PendingVerifications(ctx context.Context, now time.Time) ([]*User, error)

	// PendingResets returns users whose password reset token is set and
	// not expired at now.
	PendingResets(ctx context.Context, now time.Time) ([]*User, error)

	// SetRefreshToken overwrites the user's current refresh token. This is
	// the rotation/invalidation point for any previous session.
	SetRefreshToken(ctx context.Context, userID, token string) error

	// RotateRefreshToken swaps old for new only if old is still the
	// stored token. A non-matching old token fails with
	// ErrStaleRefreshToken, which is the reuse-detection mechanism and
	// keeps concurrent rotations race-free.
	RotateRefreshToken(ctx context.Context, userID, old, next string) error

	// ClearRefreshToken ends the user's session. Idempotent.
	ClearRefreshToken(ctx context.Context, userID string) error

	// SetEmailVerification overwrites the verification hash/expiry/issued
	// triple atomically.
	SetEmailVerification(ctx context.Context, userID, tokenHash string, expiresAt, issuedAt time.Time) error

	// MarkEmailVerified flips the verified flag and clears the
	// verification triple.
	MarkEmailVerified(ctx context.Context, userID string) error

	// SetPasswordReset overwrites the reset hash/expiry/issued triple
	// atomically.
	SetPasswordReset(ctx context.Context, userID, tokenHash string, expiresAt, issuedAt time.Time) error

	// CompletePasswordReset installs the new password hash, clears the
	// reset triple and revokes the current session in one update.
	CompletePasswordReset(ctx context.Context, userID, passwordHash string) error

	// List returns users ordered by creation time, newest first.
	List(ctx context.Context, limit, offset int) ([]*User, error)

	// Delete removes a user row permanently.
	Delete(ctx context.Context, userID string) error
}
