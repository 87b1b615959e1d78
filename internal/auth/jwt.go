// Package auth authenticates admin API callers with HS256 bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims are the token claims. The subject is the actor ID.
type Claims struct {
	Role stream.Role `json:"role"`
	jwt.RegisteredClaims
}

// Actor returns the stream actor the claims describe.
func (c *Claims) Actor() stream.Actor {
	return stream.Actor{ID: c.Subject, Role: c.Role}
}

// GenerateToken signs a token for actor valid for ttl.
func GenerateToken(actor stream.Actor, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates a token and returns its claims. Tokens must carry
// a subject and a role callers may hold; the system role is reserved for
// in-process writers.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing subject: %w", ErrInvalidToken)
	}
	switch claims.Role {
	case stream.RoleAdmin, stream.RoleOwner, stream.RoleFuneralDirector, stream.RoleViewer:
	default:
		return nil, fmt.Errorf("role %q: %w", claims.Role, ErrInvalidToken)
	}
	return claims, nil
}
