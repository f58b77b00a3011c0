package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifier_IssueParseRoundtrip(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	tok, err := v.Issue("user-1", time.Minute)
	require.NoError(t, err)

	claims, err := v.Parse(tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
}

func TestVerifier_WrongSecretRejected(t *testing.T) {
	tok, err := NewVerifier([]byte("secret-a")).Issue("user-1", time.Minute)
	require.NoError(t, err)

	_, err = NewVerifier([]byte("secret-b")).Parse(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_ExpiredRejected(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))
	tok, err := v.Issue("user-1", -time.Minute)
	require.NoError(t, err)

	_, err = v.Parse(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_GarbageRejected(t *testing.T) {
	_, err := NewVerifier([]byte("s")).Parse("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
