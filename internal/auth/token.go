package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// Parse validates an HS256 bearer token and returns the actor it names.
func Parse(tokenString, secret string) (Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	role := claims.Role
	if _, ok := roleCaps[role]; !ok {
		role = RoleCustomer
	}
	return Actor{UserID: claims.Subject, Email: claims.Email, Role: role}, nil
}

// Sign issues a token for a; used by tooling and tests.
func Sign(a Actor, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: a.Email,
		Role:  a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
