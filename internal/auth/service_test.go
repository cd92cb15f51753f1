package auth

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identra.org/internal/mail"
)

// fakeClock is a mutable time source shared by the service and codec.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc    *Service
	store  *MemoryStore
	mailer *mail.Recorder
	clock  *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock()
	store := NewMemoryStore()
	mailer := mail.NewRecorder()
	codec, err := NewCodec(CodecConfig{
		Issuer:        "identra-test",
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, WithCodecClock(clock.Now))
	require.NoError(t, err)

	svc, err := NewService(store, codec, NewHasher(4), mailer,
		WithClock(clock.Now),
		WithPublicURL("https://app.example.com"),
		WithActionTokenTTLs(24*time.Hour, time.Hour),
		WithCooldown(3*time.Minute),
	)
	require.NoError(t, err)
	return &testEnv{svc: svc, store: store, mailer: mailer, clock: clock}
}

// tokenFromMail waits for the next recorded email of the given kind and
// extracts the plaintext action token from its link.
func (e *testEnv) tokenFromMail(t *testing.T, kind string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-e.mailer.Sent:
			if m.Kind != kind {
				continue
			}
			var link string
			switch data := m.Data.(type) {
			case mail.VerifyEmailData:
				link = data.VerifyURL
			case mail.PasswordResetData:
				link = data.ResetURL
			default:
				t.Fatalf("message %q carries no link", kind)
			}
			u, err := url.Parse(link)
			require.NoError(t, err)
			token := u.Query().Get("token")
			require.NotEmpty(t, token)
			return token
		case <-deadline:
			t.Fatalf("no %q email arrived", kind)
		}
	}
}

func (e *testEnv) registerVerified(t *testing.T, email, password string) PublicUser {
	t.Helper()
	u, err := e.svc.Register(context.Background(), email, password, "Test User")
	require.NoError(t, err)
	token := e.tokenFromMail(t, "verify")
	require.NoError(t, e.svc.VerifyEmail(context.Background(), token))
	return u
}

func TestRegisterReturnsNoTokens(t *testing.T) {
	env := newTestEnv(t)

	u, err := env.svc.Register(context.Background(), "alice@x.com", "Passw0rd!", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", u.Email)
	assert.Equal(t, RoleUser, u.Role)
	assert.False(t, u.EmailVerified)

	stored, err := env.store.FindByEmail(context.Background(), "alice@x.com")
	require.NoError(t, err)
	assert.Empty(t, stored.RefreshToken, "registration must not start a session")
	assert.NotEmpty(t, stored.EmailVerificationTokenHash)
	assert.NotEqual(t, "Passw0rd!", stored.PasswordHash)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(context.Background(), "alice@x.com", "Passw0rd!", "Alice")
	require.NoError(t, err)
	_, err = env.svc.Register(context.Background(), "alice@x.com", "Other1234", "Imposter")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestVerificationTokenStoredHashedOnly(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(context.Background(), "alice@x.com", "Passw0rd!", "Alice")
	require.NoError(t, err)
	token := env.tokenFromMail(t, "verify")
	require.GreaterOrEqual(t, len(token), 32)

	stored, err := env.store.FindByEmail(context.Background(), "alice@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, token, stored.EmailVerificationTokenHash)
	assert.False(t, strings.Contains(stored.EmailVerificationTokenHash, token))
}

func TestLoginBeforeVerificationFails(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(context.Background(), "alice@x.com", "Passw0rd!", "Alice")
	require.NoError(t, err)

	_, _, err = env.svc.Login(context.Background(), "alice@x.com", "Passw0rd!")
	assert.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestLoginWrongCredentialsIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@x.com", "Passw0rd!")

	_, _, errUnknown := env.svc.Login(context.Background(), "nobody@x.com", "Passw0rd!")
	_, _, errWrongPass := env.svc.Login(context.Background(), "alice@x.com", "wrong-pass")
	assert.ErrorIs(t, errUnknown, ErrUnauthorized)
	assert.ErrorIs(t, errWrongPass, ErrUnauthorized)
	assert.Equal(t, errUnknown.Error(), errWrongPass.Error())
}

func TestVerifyEmailLifecycle(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(context.Background(), "alice@x.com", "Passw0rd!", "Alice")
	require.NoError(t, err)
	token := env.tokenFromMail(t, "verify")

	require.NoError(t, env.svc.VerifyEmail(context.Background(), token))

	stored, err := env.store.FindByEmail(context.Background(), "alice@x.com")
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)
	assert.Empty(t, stored.EmailVerificationTokenHash)

	// The token is single-use: the candidate set no longer contains it.
	err = env.svc.VerifyEmail(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidVerificationToken)
}

func TestVerifyEmailWrongToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(context.Background(), "alice@x.com", "Passw0rd!", "Alice")
	require.NoError(t, err)
	env.tokenFromMail(t, "verify")

	err = env.svc.VerifyEmail(context.Background(), strings.Repeat("z", 32))
	assert.ErrorIs(t, err, ErrInvalidVerificationToken)
}

func TestVerifyEmailExpiredToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(context.Background(), "alice@x.com", "Passw0rd!", "Alice")
	require.NoError(t, err)
	token := env.tokenFromMail(t, "verify")

	env.clock.Advance(25 * time.Hour)
	err = env.svc.VerifyEmail(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidVerificationToken)
}

func TestFullLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// register -> login blocked -> verify -> login -> refresh -> reuse fails
	_, err := env.svc.Register(ctx, "alice@x.com", "Passw0rd!", "Alice")
	require.NoError(t, err)

	_, _, err = env.svc.Login(ctx, "alice@x.com", "Passw0rd!")
	require.ErrorIs(t, err, ErrEmailNotVerified)

	token := env.tokenFromMail(t, "verify")
	require.NoError(t, env.svc.VerifyEmail(ctx, token))

	user, pair, err := env.svc.Login(ctx, "alice@x.com", "Passw0rd!")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", user.Email)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	next, err := env.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoginRotatesOutPriorSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "alice@x.com", "Passw0rd!")

	_, first, err := env.svc.Login(ctx, "alice@x.com", "Passw0rd!")
	require.NoError(t, err)
	_, second, err := env.svc.Login(ctx, "alice@x.com", "Passw0rd!")
	require.NoError(t, err)

	// First session's refresh token is no longer the stored one.
	_, err = env.svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = env.svc.Refresh(ctx, second.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshNotIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "alice@x.com", "Passw0rd!")

	_, pair, err := env.svc.Login(ctx, "alice@x.com", "Passw0rd!")
	require.NoError(t, err)

	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshRejectsForgedAndGarbageTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewCodec(CodecConfig{
		Issuer:        "identra-test",
		AccessSecret:  "attacker-access",
		RefreshSecret: "attacker-refresh",
	})
	require.NoError(t, err)
	forged, err := other.SignRefresh("user-1")
	require.NoError(t, err)
	_, err = env.svc.Refresh(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogoutIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.registerVerified(t, "alice@x.com", "Passw0rd!")

	_, pair, err := env.svc.Login(ctx, "alice@x.com", "Passw0rd!")
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, u.ID))
	require.NoError(t, env.svc.Logout(ctx, u.ID))

	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResendVerificationCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "alice@x.com", "Passw0rd!", "Alice")
	require.NoError(t, err)
	env.tokenFromMail(t, "verify")

	err = env.svc.ResendVerification(ctx, "alice@x.com")
	retry, ok := IsRateLimit(err)
	require.True(t, ok, "expected rate limit, got %v", err)
	assert.Positive(t, retry)

	env.clock.Advance(3*time.Minute + time.Second)
	require.NoError(t, env.svc.ResendVerification(ctx, "alice@x.com"))
	fresh := env.tokenFromMail(t, "verify")

	// Re-issue overwrites the triple: only the newest token redeems.
	require.NoError(t, env.svc.VerifyEmail(ctx, fresh))
}

func TestResendVerificationAlreadyVerified(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@x.com", "Passw0rd!")

	err := env.svc.ResendVerification(context.Background(), "alice@x.com")
	assert.ErrorIs(t, err, ErrEmailAlreadyVerified)
}

func TestResendVerificationUnknownEmailSilent(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.svc.ResendVerification(context.Background(), "ghost@x.com"))
}

func TestForgotPasswordAntiEnumeration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "real@x.com", "Passw0rd!")

	// Existing (outside cooldown) and unknown email resolve identically.
	assert.NoError(t, env.svc.ForgotPassword(ctx, "real@x.com"))
	assert.NoError(t, env.svc.ForgotPassword(ctx, "nonexistent@x.com"))
}

func TestForgotPasswordCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "alice@x.com", "Passw0rd!")

	require.NoError(t, env.svc.ForgotPassword(ctx, "alice@x.com"))
	env.tokenFromMail(t, "reset")

	err := env.svc.ForgotPassword(ctx, "alice@x.com")
	retry, ok := IsRateLimit(err)
	require.True(t, ok, "expected rate limit, got %v", err)
	assert.LessOrEqual(t, retry, 3*time.Minute)

	env.clock.Advance(3*time.Minute + time.Second)
	assert.NoError(t, env.svc.ForgotPassword(ctx, "alice@x.com"))
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "alice@x.com", "Passw0rd!")

	_, pair, err := env.svc.Login(ctx, "alice@x.com", "Passw0rd!")
	require.NoError(t, err)

	require.NoError(t, env.svc.ForgotPassword(ctx, "alice@x.com"))
	token := env.tokenFromMail(t, "reset")

	require.NoError(t, env.svc.ResetPassword(ctx, token, "NewPass123!"))

	// The session active before the reset is gone.
	_, err = env.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Old password out, new password in.
	_, _, err = env.svc.Login(ctx, "alice@x.com", "Passw0rd!")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, _, err = env.svc.Login(ctx, "alice@x.com", "NewPass123!")
	assert.NoError(t, err)
}

func TestResetPasswordSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "alice@x.com", "Passw0rd!")

	require.NoError(t, env.svc.ForgotPassword(ctx, "alice@x.com"))
	token := env.tokenFromMail(t, "reset")

	require.NoError(t, env.svc.ResetPassword(ctx, token, "NewPass123!"))
	err := env.svc.ResetPassword(ctx, token, "AnotherPass1!")
	assert.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "alice@x.com", "Passw0rd!")

	require.NoError(t, env.svc.ForgotPassword(ctx, "alice@x.com"))
	token := env.tokenFromMail(t, "reset")

	env.clock.Advance(2 * time.Hour)
	err := env.svc.ResetPassword(ctx, token, "NewPass123!")
	assert.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestMailFailureDoesNotFailRegistration(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.Err = assert.AnError

	_, err := env.svc.Register(context.Background(), "alice@x.com", "Passw0rd!", "Alice")
	assert.NoError(t, err)
}

func TestAdminProjectionListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "Passw0rd!")
	env.clock.Advance(time.Minute)
	env.registerVerified(t, "b@x.com", "Passw0rd!")

	users, err := env.svc.ListUsers(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "b@x.com", users[0].Email, "newest first")

	one, err := env.svc.ListUsers(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "a@x.com", one[0].Email)
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.registerVerified(t, "a@x.com", "Passw0rd!")

	require.NoError(t, env.svc.DeleteUser(ctx, u.ID))
	_, err := env.svc.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, env.svc.DeleteUser(ctx, u.ID), ErrNotFound)
}
