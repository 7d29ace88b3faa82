// Package auth validates API credentials: signed service tokens and static
// operator API keys.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdeck/incident-commander/internal/domain"
)

// Errors returned by token validation.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// APIKey is a pre-provisioned static credential. The secret is stored as a
// bcrypt hash; the caller presents the raw key.
type APIKey struct {
	Name string
	Hash string
	Role domain.Role
}

// Config holds authenticator configuration.
type Config struct {
	SecretKey     string
	TokenDuration time.Duration
	APIKeys       []APIKey
}

// Authenticator validates bearer credentials. It accepts either an HMAC
// signed JWT carrying a role claim, or one of the configured API keys.
type Authenticator struct {
	config Config
}

// NewAuthenticator creates a new authenticator.
func NewAuthenticator(config Config) (*Authenticator, error) {
	if config.SecretKey == "" && len(config.APIKeys) == 0 {
		return nil, errors.New("auth: secret key or api keys required")
	}
	if config.TokenDuration == 0 {
		config.TokenDuration = 12 * time.Hour
	}
	return &Authenticator{config: config}, nil
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken creates a signed token for the given subject and role.
func (a *Authenticator) IssueToken(subject string, role domain.Role) (string, error) {
	if a.config.SecretKey == "" {
		return "", errors.New("auth: secret key not configured")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenDuration)),
		},
	})

	signed, err := token.SignedString([]byte(a.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken implements httputil.TokenValidator. API keys are checked
// first so that operators without a token service can still authenticate.
func (a *Authenticator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	for _, key := range a.config.APIKeys {
		if bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(token)) == nil {
			return key.Name, key.Role, nil
		}
	}

	if a.config.SecretKey == "" {
		return "", "", ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.config.SecretKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", ErrTokenExpired
		}
		return "", "", ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", "", ErrInvalidToken
	}

	role := domain.Role(c.Role)
	if !role.IsValid() {
		return "", "", ErrInvalidToken
	}

	return c.Subject, role, nil
}
