package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimal HMAC key length accepted by NewIssuer.
const MinSecretLength = 16

// ErrInvalidToken is returned for malformed, expired or foreign tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims represents JWT claims
type Claims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// Issuer signs and validates HS256 tokens for the terrain API.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer creates an issuer for the given shared secret.
func NewIssuer(secret, issuer string) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("secret key must be at least %d bytes", MinSecretLength)
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Generate creates a signed token for subject valid for ttl.
func (i *Issuer) Generate(subject string, admin bool, ttl time.Duration) (string, error) {
	now := i.now()
	claims := &Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    i.issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate checks token validity and returns its claims
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithTimeFunc(i.now))

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecureSecret generates a new secure secret key
func GenerateSecureSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
