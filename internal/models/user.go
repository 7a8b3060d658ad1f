package models

import (
	"time"

	"github.com/google/uuid"
)

// Platform roles
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

func IsValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// IsSelfAssignableRole reports whether a user may pick role for themselves.
// Admin is only granted out of band.
func IsSelfAssignableRole(role string) bool {
	return role == RoleStudent || role == RoleInstructor
}

// User is the application-level identity handed to the rest of the platform.
// Email always comes from the session; the extended fields are only set when
// the user was built from a stored profile row.
type User struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Role            string    `json:"role"`
	ProfileComplete bool      `json:"profile_complete"`
	CreatedAt       time.Time `json:"created_at"`
	AvatarURL       *string   `json:"avatar_url,omitempty"`
	Bio             *string   `json:"bio,omitempty"`
	YearLevel       *string   `json:"year_level,omitempty"`
	Specialization  *string   `json:"specialization,omitempty"`
	Phone           *string   `json:"phone,omitempty"`
	Location        *string   `json:"location,omitempty"`

	// Synthesized marks a user built from session metadata only.
	Synthesized bool `json:"-"`
}

// Clone returns a deep copy so callers never share pointer fields with the
// reconciler's committed value.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.AvatarURL = cloneString(u.AvatarURL)
	c.Bio = cloneString(u.Bio)
	c.YearLevel = cloneString(u.YearLevel)
	c.Specialization = cloneString(u.Specialization)
	c.Phone = cloneString(u.Phone)
	c.Location = cloneString(u.Location)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
