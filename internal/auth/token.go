package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid covers expired, malformed and wrongly-signed tokens.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrSecretTooShort enforces a minimum HMAC secret length at startup.
	ErrSecretTooShort = errors.New("auth: token secret too short (min 32 bytes)")
)

const minSecretBytes = 32

// Tokens issues and verifies HS256 access tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokens constructs a token service. The secret is used as raw bytes,
// so its length is measured in bytes, not runes.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if len(secret) < minSecretBytes {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, issuer: "wren"}, nil
}

// Issue returns a signed access token for the user.
func (t *Tokens) Issue(userID string, now time.Time) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrTokenInvalid
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	claims := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify parses a token and returns the subject user id.
func (t *Tokens) Verify(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(
		strings.TrimSpace(tokenString),
		&jwt.RegisteredClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrTokenInvalid
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}
