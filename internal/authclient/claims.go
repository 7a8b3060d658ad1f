package authclient

import (
	"fmt"

	"github.com/dimitrije/mise-api/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the access token claims issued by the auth service.
type Claims struct {
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	SessionID    string         `json:"session_id"`
	jwt.RegisteredClaims
}

// ParseClaims decodes an access token. With a secret the HS256 signature and
// the expiry are verified; without one the claims are read as-is.
func (c *Client) ParseClaims(accessToken string) (*Claims, error) {
	claims := &Claims{}

	if len(c.jwtSecret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
			return nil, fmt.Errorf("failed to parse access token: %w", err)
		}
		return claims, nil
	}

	token, err := jwt.ParseWithClaims(accessToken, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid access token")
	}

	return claims, nil
}

// SessionUser extracts the embedded identity from the claims.
func (c *Claims) SessionUser() (models.SessionUser, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return models.SessionUser{}, fmt.Errorf("invalid subject in token: %w", err)
	}
	return models.SessionUser{
		ID:       id,
		Email:    c.Email,
		Metadata: c.UserMetadata,
	}, nil
}
