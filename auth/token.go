// Package auth verifies the identity supplied at the websocket handshake.
// Token issuance belongs to the platform's session service; the core only
// validates what it is handed and trusts it for the connection's lifetime.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chat-core/domain"
	errs "chat-core/errors"
)

const issuer = "chat-core"

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	key []byte
}

func NewAuthenticator(secret string) Authenticator {
	return Authenticator{key: []byte(secret)}
}

// GenerateToken creates a signed JWT for a specific user. Exposed for tests
// and local tooling; production tokens come from the session service.
func (a Authenticator) GenerateToken(userID domain.UserID, roles []string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID: string(userID),
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.key)
}

// Verify parses and validates the signature and expiry of a token and
// returns the verified user id.
func (a Authenticator) Verify(tokenString string) (domain.UserID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", fmt.Errorf("%w: missing identity", errs.ErrUnauthorized)
	}
	return domain.UserID(claims.UserID), nil
}
