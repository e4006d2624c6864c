// Package auth encodes and decodes the short-lived HS256 access tokens.
// Expiry is checked here against the codec's own clock rather than left to
// the JWT library, so the policy can be tested in isolation.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidSignature = errors.New("access token signature invalid")
	ErrExpired          = errors.New("access token expired")
	ErrMalformedClaims  = errors.New("access token claims malformed")
)

// Claims are the access token claims: the registered set plus the numeric
// subject user id.
type Claims struct {
	jwt.RegisteredClaims
	UserID *int64 `json:"uid,omitempty"`
}

// Codec signs and verifies access tokens with a secret injected at
// construction. It is safe for concurrent use.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec builds a Codec. now may be nil, meaning time.Now.
func NewCodec(secret []byte, issuer string, ttl time.Duration, now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{secret: secret, issuer: issuer, ttl: ttl, now: now}
}

// TTL is the lifetime given to every encoded token.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Encode mints a signed access token for userID.
func (c *Codec) Encode(userID int64) (string, error) {
	issuedAt := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
		},
		UserID: &userID,
	})

	return token.SignedString(c.secret)
}

// Decode verifies the signature, then expiry, then extracts the user id.
func (c *Codec) Decode(tokenString string) (int64, error) {
	claims := &Claims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidSignature
	}

	if claims.ExpiresAt == nil {
		return 0, ErrMalformedClaims
	}
	if !c.now().Before(claims.ExpiresAt.Time) {
		return 0, ErrExpired
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return 0, ErrMalformedClaims
	}
	if claims.UserID == nil {
		return 0, ErrMalformedClaims
	}

	return *claims.UserID, nil
}
