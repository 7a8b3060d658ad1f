package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/dimitrije/mise-api/internal/models"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
)

const (
	UserIDKey    = "user_id"
	UserEmailKey = "user_email"
)

// ServiceKey requires "Authorization: Bearer <key>" on every request. An
// empty key disables the check.
func ServiceKey(key string) drift.HandlerFunc {
	return func(c *drift.Context) {
		if key == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Unauthorized("missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.Unauthorized("invalid authorization header format")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(key)) != 1 {
			c.Unauthorized("invalid service key")
			return
		}

		c.Next()
	}
}

// UserProvider exposes the signed-in user, if any.
type UserProvider interface {
	User() *models.User
}

// RequireUser rejects requests while nobody is signed in and stores the
// user's id and email on the context.
func RequireUser(users UserProvider) drift.HandlerFunc {
	return func(c *drift.Context) {
		user := users.User()
		if user == nil {
			c.Unauthorized("not signed in")
			return
		}

		c.Set(UserIDKey, user.ID)
		c.Set(UserEmailKey, user.Email)

		c.Next()
	}
}

func GetUserID(c *drift.Context) uuid.UUID {
	if id, ok := c.Get(UserIDKey); ok {
		if uid, ok := id.(uuid.UUID); ok {
			return uid
		}
	}
	return uuid.Nil
}

func GetUserEmail(c *drift.Context) string {
	if email, ok := c.Get(UserEmailKey); ok {
		if e, ok := email.(string); ok {
			return e
		}
	}
	return ""
}
