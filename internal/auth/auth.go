package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer token claims. The subject and roles are forwarded to
// filters as request headers.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// User is the caller behind a validated token.
type User struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

const DefaultTokenTTL = 15 * time.Minute

// IssueToken signs an HS256 token for subject. A zero ttl means DefaultTokenTTL.
func IssueToken(secret, subject string, roles []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates an HS256 token carrying an expiry and a subject.
func ParseToken(secret, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
