package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/outposts/internal/outpost"
)

func TestControllerKey(t *testing.T) {
	k := ControllerKey("server-admin-key")
	assert.True(t, k.IsController("server-admin-key"))
	assert.False(t, k.IsController("server-admin-kex"))
	assert.False(t, k.IsController(""))
	assert.False(t, ControllerKey("").IsController(""))
}

func TestTokenRoundTrip(t *testing.T) {
	ti, err := NewTokenIssuer([]byte("0123456789abcdef0123"))
	require.NoError(t, err)

	tok, err := ti.Issue("7M5gyKT88N9fViSMjNcizfq5", time.Hour)
	require.NoError(t, err)

	owner, err := ti.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "7M5gyKT88N9fViSMjNcizfq5", owner)
}

func TestTokenRejected(t *testing.T) {
	ti, err := NewTokenIssuer([]byte("0123456789abcdef0123"))
	require.NoError(t, err)
	other, err := NewTokenIssuer([]byte("fedcba9876543210fedc"))
	require.NoError(t, err)

	forged, err := other.Issue("alice", time.Hour)
	require.NoError(t, err)
	_, err = ti.Verify(forged)
	assert.ErrorIs(t, err, outpost.ErrUnauthorized)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ti.now = func() time.Time { return base }
	expiring, err := ti.Issue("alice", time.Minute)
	require.NoError(t, err)
	ti.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = ti.Verify(expiring)
	assert.ErrorIs(t, err, outpost.ErrUnauthorized)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ti.Verify(unsigned)
	assert.ErrorIs(t, err, outpost.ErrUnauthorized)

	_, err = ti.Verify("garbage")
	assert.ErrorIs(t, err, outpost.ErrUnauthorized)
}

func TestNewTokenIssuerShortSecret(t *testing.T) {
	_, err := NewTokenIssuer([]byte("short"))
	assert.Error(t, err)

	ti, err := NewTokenIssuer([]byte("0123456789abcdef"))
	require.NoError(t, err)
	_, err = ti.Issue("", time.Hour)
	assert.ErrorIs(t, err, outpost.ErrInvalidIdentity)
}
