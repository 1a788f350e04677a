package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// Issuer is the iss claim stamped on every session token.
const Issuer = "peerhub"

// MinSecretLength is the minimum HMAC secret size (256 bits for HS256).
const MinSecretLength = 32

// ErrSecretTooShort is returned when the signing secret is shorter than MinSecretLength.
var ErrSecretTooShort = errors.New("token signing secret must be at least 32 bytes")

// Claims are the verified contents of a session token.
type Claims struct {
	Subject   uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer issues and verifies HS256 session tokens with a shared server secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a token signer. ttl is the lifetime of issued tokens.
func NewSigner(secret []byte, ttl time.Duration) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token TTL must be greater than 0")
	}

	return &Signer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Issue creates a signed token for the given user.
func (s *Signer) Issue(subject uuid.UUID) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.RegisteredClaims{
		Subject:   subject.String(),
		IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		Issuer:    Issuer,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, claims, nil
}

// Verify checks the token signature and expiry and returns its claims.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	registered := &jwt.RegisteredClaims{}

	parsed, err := jwt.ParseWithClaims(tokenString, registered, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	if !parsed.Valid {
		return nil, errors.New("token invalid")
	}

	subject, err := uuid.Parse(registered.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject claim: %w", err)
	}

	claims := &Claims{
		Subject:   subject,
		ExpiresAt: registered.ExpiresAt.Time,
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time
	}

	return claims, nil
}

// Fingerprint returns a short, non-reversible identifier for a token
// that is safe to write to logs.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	return base58.Encode(hash[:])[:12]
}
