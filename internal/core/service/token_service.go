package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lernquiz/account-system/internal/core/domain"
)

// TokenService mints and parses the signed session tokens the caller uses to
// carry an authenticated username between requests. A token only proves who
// authenticated, never that they are still authorized: callers pair Parse
// with StatusService.CheckStatus on every sensitive operation.
type TokenService struct {
	secret string
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{secret: secret, ttl: ttl}
}

// Issue returns an HS256 token for the given identity.
func (t *TokenService) Issue(username string, role domain.Role) (string, error) {
	claims := jwt.MapClaims{
		"username": username,
		"role":     string(role),
		"exp":      time.Now().Add(t.ttl).Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(t.secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates the token and returns the identity it carries. The
// signing algorithm is pinned to HS256.
func (t *TokenService) Parse(token string) (username string, role domain.Role, err error) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		if tok.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(t.secret), nil
	})
	if err != nil || !tok.Valid {
		return "", "", domain.ErrInvalidToken
	}

	username, _ = claims["username"].(string)
	roleStr, _ := claims["role"].(string)
	if username == "" {
		return "", "", domain.ErrInvalidToken
	}
	return username, domain.Role(roleStr), nil
}
