package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// AccessClaims is the payload carried by short-lived access tokens.
type AccessClaims struct {
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload carried by long-lived refresh tokens. The
// registered ID claim holds a random token id, which guarantees two
// refresh tokens for the same user are never byte-equal even when issued
// within the same second.
type RefreshClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// CodecConfig carries the signing material and lifetimes for the codec.
// Access and refresh tokens use separate secrets so leaking one class
// does not compromise the other.
type CodecConfig struct {
	Issuer        string
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Codec signs and verifies the two bearer token classes with HS256.
type Codec struct {
	issuer        string
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithCodecClock overrides the codec time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec. Both secrets are required and must differ.
func NewCodec(cfg CodecConfig, opts ...CodecOption) (*Codec, error) {
	access := strings.TrimSpace(cfg.AccessSecret)
	refresh := strings.TrimSpace(cfg.RefreshSecret)
	if access == "" || refresh == "" {
		return nil, errors.New("auth: both access and refresh secrets are required")
	}
	if access == refresh {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	c := &Codec{
		issuer:        cfg.Issuer,
		accessSecret:  []byte(access),
		refreshSecret: []byte(refresh),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
	if c.accessTTL <= 0 {
		c.accessTTL = 15 * time.Minute
	}
	if c.refreshTTL <= 0 {
		c.refreshTTL = 7 * 24 * time.Hour
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SignAccess issues a short-lived access token for the given identity.
func (c *Codec) SignAccess(userID, email string, role Role, name string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidInput
	}
	now := c.now().UTC()
	claims := AccessClaims{
		Email:     email,
		Name:      name,
		Role:      role,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.accessSecret)
}

// SignRefresh issues a long-lived refresh token carrying a fresh random
// token id.
func (c *Codec) SignRefresh(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidInput
	}
	now := c.now().UTC()
	claims := RefreshClaims{
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.refreshSecret)
}

// VerifyAccess checks signature, algorithm, structure and expiry of an
// access token and returns its claims.
func (c *Codec) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.verify(token, claims, c.accessSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// VerifyRefresh checks signature, algorithm, structure and expiry of a
// refresh token and returns its claims.
func (c *Codec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.verify(token, claims, c.refreshSecret); err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeRefresh || claims.ID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (c *Codec) verify(token string, claims jwt.Claims, secret []byte) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenSignature
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }), jwt.WithIssuedAt())
	if err != nil {
		return mapJWTError(err)
	}
	if !parsed.Valid {
		return ErrTokenSignature
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return ErrTokenMalformed
	}
	// Defense in depth: the library already rejects expired tokens, but the
	// expiry is re-checked here against the injected clock.
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ErrTokenMalformed
	}
	if c.now().UTC().After(exp.Time) {
		return ErrTokenExpired
	}
	return nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrTokenNotYetValid
	default:
		return ErrTokenMalformed
	}
}

// GeneratePair issues an access/refresh pair. The reported lifetimes are
// the very durations used for signing, so client-facing numbers and token
// exp cannot drift apart.
func (c *Codec) GeneratePair(userID, email string, role Role, name string) (*TokenPair, error) {
	accessToken, err := c.SignAccess(userID, email, role, name)
	if err != nil {
		return nil, err
	}
	refreshToken, err := c.SignRefresh(userID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresIn:  c.accessTTL,
		RefreshExpiresIn: c.refreshTTL,
	}, nil
}
