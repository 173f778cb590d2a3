package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	iss := NewIssuer([]byte("test-signing-key"))

	tok, err := iss.Issue("user-1")
	require.NoError(t, err)

	claims, err := iss.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.ExpiresAt.After(claims.IssuedAt))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	iss := NewIssuer([]byte("key-a"))
	tok, err := iss.Issue("user-1")
	require.NoError(t, err)

	other := NewIssuer([]byte("key-b"))
	_, err = other.Verify(tok)
	require.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	iss := NewIssuer([]byte("key-a"))
	_, err := iss.Verify("not-a-token")
	require.Error(t, err)
}
