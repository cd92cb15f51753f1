package auth

import "time"

// Role is the coarse authorization level attached to a user.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is the persisted account row. Secret material is stored hashed
// only; zero values on the action-token fields mean "no pending action",
// and an empty RefreshToken means "no active session".
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	Role          Role
	EmailVerified bool

	// RefreshToken holds the serialized form of the single currently valid
	// refresh token. Storing the literal token string is what makes reuse
	// of a rotated token detectable.
	RefreshToken string

	EmailVerificationTokenHash string
	EmailVerificationExpiresAt time.Time
	EmailVerificationIssuedAt  time.Time

	PasswordResetTokenHash string
	PasswordResetExpiresAt time.Time
	PasswordResetIssuedAt  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicUser is the projection returned to clients. It never carries
// password or token material.
type PublicUser struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name,omitempty"`
	Role          Role      `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// Public returns the client-safe projection of the user.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

// TokenPair is the result of a successful login or refresh. The ExpiresIn
// durations are derived from the same configured TTLs the codec signs
// with, so the client-facing numbers cannot drift from the token exp.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  time.Duration
	RefreshExpiresIn time.Duration
}
