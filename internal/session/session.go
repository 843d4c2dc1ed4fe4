// Package session verifies bearer tokens issued by the auth provider.
package session

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/porticolabs/portico/internal/common"
)

// Verifier validates HS256 bearer tokens and extracts the caller identity.
// The token itself is kept on the identity so it can be forwarded to the
// upstream backend unchanged.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates tokenString and returns the identity it
// carries. The subject claim is the user the cache is keyed on.
func (v *Verifier) Verify(tokenString string) (*common.Identity, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("no token provided")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return &common.Identity{UserID: sub, Token: tokenString}, nil
}

// FromRequest extracts and verifies the bearer token on r. A missing or
// malformed Authorization header is an authentication failure; no upstream
// request may be made for such callers.
func (v *Verifier) FromRequest(r *http.Request) (*common.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fmt.Errorf("Authorization header is not a bearer token")
	}

	return v.Verify(strings.TrimSpace(parts[1]))
}
