package auth

import "github.com/golang-jwt/jwt/v5"

// Identity is the resolved caller attached to authenticated requests.
type Identity struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
}

// Claims is the JWT claim set for session tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
}

// Identity returns the identity asserted by the claims.
func (c *Claims) Identity() *Identity {
	return &Identity{UserID: c.UserID, Username: c.Username}
}
