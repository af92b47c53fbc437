package chatapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is who the session token belongs to.
type Identity struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// IdentityFromToken reads the claims of the bearer token without verifying
// its signature. The backend verifies it on every call; the client only needs
// to know which participant it is.
func IdentityFromToken(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, fmt.Errorf("empty token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	id := Identity{}
	for _, k := range []string{"user_id", "sub", "id"} {
		if s, _ := claims[k].(string); strings.TrimSpace(s) != "" {
			id.UserID = strings.TrimSpace(s)
			break
		}
	}
	for _, k := range []string{"username", "preferred_username", "name"} {
		if s, _ := claims[k].(string); s != "" {
			id.Username = s
			break
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("token carries no user id")
	}
	return id, nil
}

func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
