// Package auth resolves bearer tokens to users.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload issued by the account service.
type Claims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

var _ core.Verifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

func (v *JWTVerifier) Verify(token string) (domain.User, error) {
	if token == "" {
		return domain.User{}, fmt.Errorf("%w: missing token", domain.ErrAuth)
	}
	var claims Claims
	tok, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected alg")
		}
		return v.secret, nil
	})
	if err != nil || !tok.Valid {
		return domain.User{}, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	id := claims.ID
	if id == "" {
		id = claims.Subject
	}
	return domain.NewUser(id, claims.Username)
}

// Issue signs a token for u. Used by tooling and tests; production tokens
// come from the account service.
func (v *JWTVerifier) Issue(u domain.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:       string(u.ID),
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
