package storage

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultURLTTL matches the one-year signed links handed to the client.
const DefaultURLTTL = 365 * 24 * time.Hour

var ErrBadToken = errors.New("storage: invalid or expired token")

// Signer mints and checks HS256 tokens that grant read access to a single
// object until they expire.
type Signer struct {
	key     []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner builds a Signer. baseURL is the public prefix objects are served
// under, e.g. "https://example.org/api/files".
func NewSigner(key []byte, baseURL string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Signer{key: key, baseURL: baseURL, ttl: ttl, now: time.Now}
}

func (s *Signer) Token(name string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   name,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// URL returns a signed link to name.
func (s *Signer) URL(name string) (string, error) {
	tok, err := s.Token(name)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", name, err)
	}
	return fmt.Sprintf("%s/%s?token=%s", s.baseURL, url.PathEscape(name), url.QueryEscape(tok)), nil
}

// Verify checks that token is valid, unexpired and was issued for name.
func (s *Signer) Verify(token, name string) error {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if claims.Subject != name {
		return fmt.Errorf("%w: issued for another object", ErrBadToken)
	}
	return nil
}
