package httpapi

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"salecore/internal/domain"
)

func TestIssuedTokenRoundTrips(t *testing.T) {
	auth := NewAuthManager("secret-a", "", "")
	tok, err := auth.IssueToken(domain.Actor{ID: 12, Username: "kasir-b", Role: RoleCashier}, time.Hour)
	require.NoError(t, err)

	actor, err := auth.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{ID: 12, Username: "kasir-b", Role: RoleCashier}, actor)
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	auth := NewAuthManager("secret-a", "", "")

	other := NewAuthManager("secret-b", "", "")
	tok, err := other.IssueToken(domain.Actor{Username: "x", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)
	_, err = auth.ParseToken(tok)
	assert.Error(t, err, "wrong key")

	expired, err := auth.IssueToken(domain.Actor{Username: "x", Role: RoleAdmin}, -time.Minute)
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.Error(t, err, "expired")

	foreign := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.RegisteredClaims{
		Subject:   "x",
		Issuer:    "somebody-else",
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := foreign.SignedString([]byte("secret-a"))
	require.NoError(t, err)
	_, err = auth.ParseToken(signed)
	assert.Error(t, err, "wrong issuer")

	unsigned := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{Subject: "x", Issuer: tokenIssuer})
	none, err := unsigned.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ParseToken(none)
	assert.Error(t, err, "alg none")
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	auth := NewAuthManager("secret", " 123456 ", "")
	assert.True(t, IsPasswordHash(auth.managerPIN))
	assert.True(t, auth.ValidateManagerPIN("123456"))
	assert.False(t, auth.ValidateManagerPIN("654321"))
	assert.False(t, auth.ValidateManagerPIN(""))
}

func TestManagerPINHashTakesPrecedence(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("777000"), bcrypt.MinCost)
	require.NoError(t, err)

	auth := NewAuthManager("secret", "123456", string(hash))
	assert.True(t, auth.ValidateManagerPIN("777000"))
	assert.False(t, auth.ValidateManagerPIN("123456"))
}

func TestNoManagerPINConfiguredRejectsEverything(t *testing.T) {
	auth := NewAuthManager("secret", "", "not-a-hash")
	assert.False(t, auth.ValidateManagerPIN("not-a-hash"))
	assert.False(t, auth.ValidateManagerPIN("123456"))
}
