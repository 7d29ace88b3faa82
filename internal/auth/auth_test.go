package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdeck/incident-commander/internal/domain"
)

func TestIssueAndValidateToken(t *testing.T) {
	a, err := NewAuthenticator(Config{SecretKey: "test-secret", TokenDuration: time.Hour})
	require.NoError(t, err)

	token, err := a.IssueToken("alice", domain.RoleOperator)
	require.NoError(t, err)

	caller, role, err := a.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", caller)
	assert.Equal(t, domain.RoleOperator, role)
}

func TestValidateToken_Expired(t *testing.T) {
	a, err := NewAuthenticator(Config{SecretKey: "test-secret", TokenDuration: -time.Hour})
	require.NoError(t, err)

	token, err := a.IssueToken("alice", domain.RoleOperator)
	require.NoError(t, err)

	_, _, err = a.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer, err := NewAuthenticator(Config{SecretKey: "secret-a"})
	require.NoError(t, err)
	verifier, err := NewAuthenticator(Config{SecretKey: "secret-b"})
	require.NoError(t, err)

	token, err := issuer.IssueToken("alice", domain.RoleAdmin)
	require.NoError(t, err)

	_, _, err = verifier.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Garbage(t *testing.T) {
	a, err := NewAuthenticator(Config{SecretKey: "test-secret"})
	require.NoError(t, err)

	_, _, err = a.ValidateToken(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_APIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("raw-api-key"), bcrypt.MinCost)
	require.NoError(t, err)

	a, err := NewAuthenticator(Config{
		APIKeys: []APIKey{{Name: "ci-bot", Hash: string(hash), Role: domain.RoleAdmin}},
	})
	require.NoError(t, err)

	caller, role, err := a.ValidateToken(context.Background(), "raw-api-key")
	require.NoError(t, err)
	assert.Equal(t, "ci-bot", caller)
	assert.Equal(t, domain.RoleAdmin, role)

	_, _, err = a.ValidateToken(context.Background(), "wrong-key")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewAuthenticator_RequiresCredentials(t *testing.T) {
	_, err := NewAuthenticator(Config{})
	assert.Error(t, err)
}
