package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestSigner(t *testing.T, ttl time.Duration) *Signer {
	t.Helper()
	s, err := NewSigner(testSecret, ttl)
	require.NoError(t, err)
	return s
}

func TestNewSigner(t *testing.T) {
	t.Run("short secret", func(t *testing.T) {
		s, err := NewSigner([]byte("too-short"), time.Hour)
		require.ErrorIs(t, err, ErrSecretTooShort)
		require.Nil(t, s)
	})

	t.Run("zero ttl", func(t *testing.T) {
		s, err := NewSigner(testSecret, 0)
		require.Error(t, err)
		require.Nil(t, s)
	})
}

func TestSignerIssueVerify(t *testing.T) {
	s := newTestSigner(t, time.Hour)
	subject := uuid.Must(uuid.NewV7())

	token, issued, err := s.Issue(subject)
	require.NoError(t, err)
	require.Equal(t, subject, issued.Subject)
	require.WithinDuration(t, time.Now().Add(time.Hour), issued.ExpiresAt, 2*time.Second)

	claims, err := s.Verify(token)
	require.NoError(t, err)
	require.Equal(t, subject, claims.Subject)
	require.Equal(t, issued.ExpiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestSignerVerifyRejects(t *testing.T) {
	s := newTestSigner(t, time.Hour)
	subject := uuid.Must(uuid.NewV7())

	t.Run("expired", func(t *testing.T) {
		expired := newTestSigner(t, time.Hour)
		expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

		token, _, err := expired.Issue(subject)
		require.NoError(t, err)

		_, err = s.Verify(token)
		require.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewSigner([]byte(strings.Repeat("x", 32)), time.Hour)
		require.NoError(t, err)

		token, _, err := other.Issue(subject)
		require.NoError(t, err)

		_, err = s.Verify(token)
		require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(testSecret)
		require.NoError(t, err)

		_, err = s.Verify(token)
		require.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	})

	t.Run("no expiry", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.RegisteredClaims{
			Subject: subject.String(),
			Issuer:  Issuer,
		}).SignedString(testSecret)
		require.NoError(t, err)

		_, err = s.Verify(token)
		require.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)
	})

	t.Run("bad subject", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(testSecret)
		require.NoError(t, err)

		_, err = s.Verify(token)
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.Verify("not.a.jwt")
		require.Error(t, err)
	})
}

func TestFingerprint(t *testing.T) {
	require.Empty(t, Fingerprint(""))

	a := Fingerprint("token-a")
	require.Len(t, a, 12)
	require.Equal(t, a, Fingerprint("token-a"))
	require.NotEqual(t, a, Fingerprint("token-b"))
	require.NotContains(t, a, "token")
}
