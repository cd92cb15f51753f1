package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"identra.org/internal/ids"
	"identra.org/internal/mail"
	"identra.org/internal/obs"
)

const (
	defaultVerificationTTL = 24 * time.Hour
	defaultResetTTL        = time.Hour
	defaultCooldown        = 3 * time.Minute

	actionTokenLength   = 32
	actionTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	mailDispatchTimeout = 10 * time.Second
)

// Service orchestrates the token lifecycle: registration, login, refresh
// rotation, logout, email verification and password reset.
type Service struct {
	store  Store
	codec  *Codec
	hasher *Hasher
	mailer mail.Dispatcher

	now       func() time.Time
	log       *zap.Logger
	publicURL string

	verificationTTL time.Duration
	resetTTL        time.Duration
	cooldown        time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger sets the logger used for fire-and-forget failures.
func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithPublicURL sets the base URL embedded in verification and reset links.
func WithPublicURL(base string) ServiceOption {
	return func(s *Service) {
		s.publicURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithActionTokenTTLs configures the verification and reset token windows.
func WithActionTokenTTLs(verification, reset time.Duration) ServiceOption {
	return func(s *Service) {
		if verification > 0 {
			s.verificationTTL = verification
		}
		if reset > 0 {
			s.resetTTL = reset
		}
	}
}

// WithCooldown configures the minimum gap between action token re-issues.
func WithCooldown(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// NewService constructs the auth core. All collaborators are explicit;
// nothing is reached through package globals.
func NewService(store Store, codec *Codec, hasher *Hasher, mailer mail.Dispatcher, opts ...ServiceOption) (*Service, error) {
	if store == nil || codec == nil || hasher == nil || mailer == nil {
		return nil, errors.New("auth: store, codec, hasher and mailer are required")
	}
	s := &Service{
		store:           store,
		codec:           codec,
		hasher:          hasher,
		mailer:          mailer,
		now:             time.Now,
		log:             zap.NewNop(),
		publicURL:       "http://localhost:8080",
		verificationTTL: defaultVerificationTTL,
		resetTTL:        defaultResetTTL,
		cooldown:        defaultCooldown,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates an unverified account and dispatches the verification
// email. It never starts a session.
func (s *Service) Register(ctx context.Context, email, password, name string) (PublicUser, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return PublicUser{}, s.observe("register", ErrInvalidInput)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return PublicUser{}, s.observe("register", fmt.Errorf("hash password: %w", err))
	}

	token, tokenHash, err := s.newActionToken()
	if err != nil {
		return PublicUser{}, s.observe("register", err)
	}

	now := s.now().UTC()
	user := &User{
		ID:                         ids.New(),
		Email:                      email,
		Name:                       strings.TrimSpace(name),
		PasswordHash:               passwordHash,
		Role:                       RoleUser,
		EmailVerified:              false,
		EmailVerificationTokenHash: tokenHash,
		EmailVerificationExpiresAt: now.Add(s.verificationTTL),
		EmailVerificationIssuedAt:  now,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return PublicUser{}, s.observe("register", err)
	}

	s.sendVerificationMail(user, token)
	return user.Public(), s.observe("register", nil)
}

// Login checks credentials and starts a session. The stored refresh token
// is overwritten, which invalidates any previous session for the user.
func (s *Service) Login(ctx context.Context, email, password string) (PublicUser, *TokenPair, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return PublicUser{}, nil, s.observe("login", ErrUnauthorized)
	}

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		// Indistinguishable from a wrong password so callers cannot probe
		// which half of the credentials failed.
		return PublicUser{}, nil, s.observe("login", ErrUnauthorized)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return PublicUser{}, nil, s.observe("login", ErrUnauthorized)
	}
	if !user.EmailVerified {
		return PublicUser{}, nil, s.observe("login", ErrEmailNotVerified)
	}

	pair, err := s.codec.GeneratePair(user.ID, user.Email, user.Role, user.Name)
	if err != nil {
		return PublicUser{}, nil, s.observe("login", fmt.Errorf("sign tokens: %w", err))
	}
	if err := s.store.SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		return PublicUser{}, nil, s.observe("login", err)
	}
	obs.ObserveTokenIssued("access")
	obs.ObserveTokenIssued("refresh")
	return user.Public(), pair, s.observe("login", nil)
}

// Refresh exchanges a refresh token for a fresh pair, rotating the stored
// token. Presenting anything but the user's current token fails with
// ErrInvalidToken; that includes tokens already rotated away.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, s.observe("refresh", ErrInvalidToken)
	}

	user, err := s.store.Find(ctx, claims.Subject)
	if err != nil {
		return nil, s.observe("refresh", ErrUnauthorized)
	}
	if user.RefreshToken == "" || user.RefreshToken != refreshToken {
		return nil, s.observe("refresh", ErrInvalidToken)
	}

	pair, err := s.codec.GeneratePair(user.ID, user.Email, user.Role, user.Name)
	if err != nil {
		return nil, s.observe("refresh", fmt.Errorf("sign tokens: %w", err))
	}
	// Conditional swap; a concurrent refresh that already rotated makes
	// this a no-op and the presented token is treated as reused.
	if err := s.store.RotateRefreshToken(ctx, user.ID, refreshToken, pair.RefreshToken); err != nil {
		if errors.Is(err, ErrStaleRefreshToken) {
			return nil, s.observe("refresh", ErrInvalidToken)
		}
		return nil, s.observe("refresh", err)
	}
	obs.ObserveTokenIssued("access")
	obs.ObserveTokenIssued("refresh")
	return pair, s.observe("refresh", nil)
}

// Logout revokes the user's current session. Idempotent.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return s.observe("logout", ErrInvalidInput)
	}
	return s.observe("logout", s.store.ClearRefreshToken(ctx, userID))
}

// VerifyEmail redeems a verification token. Hashed-at-rest tokens cannot
// be looked up by value, so the candidate set of pending verifications is
// scanned with a hash comparison.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return s.observe("verify_email", ErrInvalidVerificationToken)
	}
	candidates, err := s.store.PendingVerifications(ctx, s.now().UTC())
	if err != nil {
		return s.observe("verify_email", err)
	}
	for _, u := range candidates {
		if !s.hasher.Verify(token, u.EmailVerificationTokenHash) {
			continue
		}
		if err := s.store.MarkEmailVerified(ctx, u.ID); err != nil {
			return s.observe("verify_email", err)
		}
		s.sendWelcomeMail(u)
		return s.observe("verify_email", nil)
	}
	// Also covers expired tokens: expired rows never enter the candidate set.
	return s.observe("verify_email", ErrInvalidVerificationToken)
}

// ResendVerification re-issues the verification token, subject to the
// cooldown. An unknown email is silently accepted.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return s.observe("resend_verification", nil)
	}
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.observe("resend_verification", nil)
		}
		return s.observe("resend_verification", err)
	}
	if user.EmailVerified {
		return s.observe("resend_verification", ErrEmailAlreadyVerified)
	}
	if err := s.checkCooldown(user.EmailVerificationIssuedAt); err != nil {
		return s.observe("resend_verification", err)
	}

	token, tokenHash, err := s.newActionToken()
	if err != nil {
		return s.observe("resend_verification", err)
	}
	now := s.now().UTC()
	if err := s.store.SetEmailVerification(ctx, user.ID, tokenHash, now.Add(s.verificationTTL), now); err != nil {
		return s.observe("resend_verification", err)
	}
	s.sendVerificationMail(user, token)
	return s.observe("resend_verification", nil)
}

// ForgotPassword issues a password reset token, subject to the cooldown.
// An unknown email is silently accepted so responses cannot be used to
// enumerate accounts.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return s.observe("forgot_password", nil)
	}
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.observe("forgot_password", nil)
		}
		return s.observe("forgot_password", err)
	}
	if err := s.checkCooldown(user.PasswordResetIssuedAt); err != nil {
		return s.observe("forgot_password", err)
	}

	token, tokenHash, err := s.newActionToken()
	if err != nil {
		return s.observe("forgot_password", err)
	}
	now := s.now().UTC()
	if err := s.store.SetPasswordReset(ctx, user.ID, tokenHash, now.Add(s.resetTTL), now); err != nil {
		return s.observe("forgot_password", err)
	}
	s.sendResetMail(user, token)
	return s.observe("forgot_password", nil)
}

// ResetPassword redeems a reset token and installs the new password. Every
// active session for the user is revoked in the same update.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return s.observe("reset_password", ErrInvalidResetToken)
	}
	candidates, err := s.store.PendingResets(ctx, s.now().UTC())
	if err != nil {
		return s.observe("reset_password", err)
	}
	for _, u := range candidates {
		if !s.hasher.Verify(token, u.PasswordResetTokenHash) {
			continue
		}
		passwordHash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return s.observe("reset_password", fmt.Errorf("hash password: %w", err))
		}
		if err := s.store.CompletePasswordReset(ctx, u.ID, passwordHash); err != nil {
			return s.observe("reset_password", err)
		}
		s.sendPasswordChangedMail(u)
		return s.observe("reset_password", nil)
	}
	return s.observe("reset_password", ErrInvalidResetToken)
}

// GetUser returns the public projection for an existing user.
func (s *Service) GetUser(ctx context.Context, userID string) (PublicUser, error) {
	user, err := s.store.Find(ctx, userID)
	if err != nil {
		return PublicUser{}, err
	}
	return user.Public(), nil
}

// ListUsers returns public projections, newest first.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]PublicUser, error) {
	users, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out, nil
}

// DeleteUser removes an account permanently.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, userID)
}

// internals ----------------------------------------------------------------

// checkCooldown enforces the issuance gap. The window tracks issued-at
// only; it does not reset when the underlying token expires.
func (s *Service) checkCooldown(issuedAt time.Time) error {
	if issuedAt.IsZero() || s.cooldown <= 0 {
		return nil
	}
	elapsed := s.now().UTC().Sub(issuedAt)
	if elapsed < s.cooldown {
		return &RateLimitError{RetryAfter: s.cooldown - elapsed}
	}
	return nil
}

// newActionToken returns a fresh plaintext action token and its hash. The
// plaintext leaves the process only inside an email link.
func (s *Service) newActionToken() (token, tokenHash string, err error) {
	buf := make([]byte, actionTokenLength)
	alphabetLen := big.NewInt(int64(len(actionTokenAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", "", fmt.Errorf("random token: %w", err)
		}
		buf[i] = actionTokenAlphabet[n.Int64()]
	}
	token = string(buf)
	tokenHash, err = s.hasher.Hash(token)
	if err != nil {
		return "", "", fmt.Errorf("hash token: %w", err)
	}
	return token, tokenHash, nil
}

func (s *Service) verifyURL(token string) string {
	return fmt.Sprintf("%s/verify-email?token=%s", s.publicURL, url.QueryEscape(token))
}

func (s *Service) resetURL(token string) string {
	return fmt.Sprintf("%s/reset-password?token=%s", s.publicURL, url.QueryEscape(token))
}

func (s *Service) loginURL() string {
	return s.publicURL + "/login"
}

func (s *Service) sendVerificationMail(u *User, token string) {
	data := mail.VerifyEmailData{
		UserName:  u.Name,
		VerifyURL: s.verifyURL(token),
		ExpiresIn: s.verificationTTL,
	}
	s.dispatch("verify email", u.Email, func(ctx context.Context) error {
		return s.mailer.SendVerifyEmail(ctx, u.Email, data)
	})
}

func (s *Service) sendWelcomeMail(u *User) {
	data := mail.WelcomeData{UserName: u.Name, LoginURL: s.loginURL()}
	s.dispatch("welcome email", u.Email, func(ctx context.Context) error {
		return s.mailer.SendWelcomeEmail(ctx, u.Email, data)
	})
}

func (s *Service) sendResetMail(u *User, token string) {
	data := mail.PasswordResetData{
		UserName:  u.Name,
		ResetURL:  s.resetURL(token),
		ExpiresIn: s.resetTTL,
	}
	s.dispatch("password reset email", u.Email, func(ctx context.Context) error {
		return s.mailer.SendPasswordResetEmail(ctx, u.Email, data)
	})
}

func (s *Service) sendPasswordChangedMail(u *User) {
	data := mail.PasswordChangedData{UserName: u.Name, ChangedAt: s.now().UTC()}
	s.dispatch("password changed email", u.Email, func(ctx context.Context) error {
		return s.mailer.SendPasswordChangedEmail(ctx, u.Email, data)
	})
}

// dispatch sends mail fire-and-forget. A delivery failure is logged and
// never surfaces to the caller of the triggering operation.
func (s *Service) dispatch(kind, to string, send func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mailDispatchTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			s.log.Warn("mail dispatch failed",
				zap.String("kind", kind),
				zap.String("to", to),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) observe(op string, err error) error {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrUnauthorized):
		outcome = "unauthorized"
	case errors.Is(err, ErrEmailNotVerified):
		outcome = "email_not_verified"
	case errors.Is(err, ErrDuplicateEmail):
		outcome = "duplicate_email"
	case errors.Is(err, ErrInvalidToken):
		outcome = "invalid_token"
	case errors.Is(err, ErrInvalidVerificationToken), errors.Is(err, ErrInvalidResetToken):
		outcome = "invalid_action_token"
	case errors.Is(err, ErrEmailAlreadyVerified):
		outcome = "already_verified"
	default:
		if _, ok := IsRateLimit(err); ok {
			outcome = "rate_limited"
		} else {
			outcome = "error"
		}
	}
	obs.ObserveAuthOperation(op, outcome)
	return err
}
