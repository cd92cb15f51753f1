// Package mail defines the outbound email contract consumed by the auth
// core. Delivery mechanics live behind the Dispatcher interface; the core
// treats every send as fire-and-forget.
package mail

import (
	"context"
	"time"
)

// VerifyEmailData is the payload for the address verification email. The
// VerifyURL embeds the plaintext action token; only its hash is persisted.
type VerifyEmailData struct {
	UserName  string
	VerifyURL string
	ExpiresIn time.Duration
}

// WelcomeData is the payload for the post-verification welcome email.
type WelcomeData struct {
	UserName string
	LoginURL string
}

// PasswordResetData is the payload for the password reset email.
type PasswordResetData struct {
	UserName  string
	ResetURL  string
	ExpiresIn time.Duration
}

// PasswordChangedData is the payload for the change confirmation email.
type PasswordChangedData struct {
	UserName  string
	ChangedAt time.Time
}

// Dispatcher sends transactional email. Errors are reported to the caller
// for logging only; the auth core never propagates them.
type Dispatcher interface {
	SendVerifyEmail(ctx context.Context, to string, data VerifyEmailData) error
	SendWelcomeEmail(ctx context.Context, to string, data WelcomeData) error
	SendPasswordResetEmail(ctx context.Context, to string, data PasswordResetData) error
	SendPasswordChangedEmail(ctx context.Context, to string, data PasswordChangedData) error
}
