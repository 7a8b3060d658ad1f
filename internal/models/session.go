package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// SessionUser is the minimal identity embedded in a session by the auth service.
type SessionUser struct {
	ID       uuid.UUID      `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is the token bundle issued by the auth service.
type Session struct {
	User  SessionUser   `json:"user"`
	Token *oauth2.Token `json:"token"`
}

// HasIdentity reports whether the session carries a usable identity.
func (s *Session) HasIdentity() bool {
	return s != nil && s.User.ID != uuid.Nil
}

func (s *Session) AccessToken() string {
	if s == nil || s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

func (s *Session) RefreshToken() string {
	if s == nil || s.Token == nil {
		return ""
	}
	return s.Token.RefreshToken
}

func (s *Session) ExpiresAt() time.Time {
	if s == nil || s.Token == nil {
		return time.Time{}
	}
	return s.Token.Expiry
}

// MetadataString returns the first non-empty string value among keys.
func (s *Session) MetadataString(keys ...string) string {
	if s == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := s.User.Metadata[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Clone copies the session so cached values are never shared.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Token != nil {
		t := *s.Token
		c.Token = &t
	}
	if s.User.Metadata != nil {
		c.User.Metadata = make(map[string]any, len(s.User.Metadata))
		for k, v := range s.User.Metadata {
			c.User.Metadata[k] = v
		}
	}
	return &c
}
