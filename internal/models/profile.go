package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Profile is one row of the profiles table, keyed by identity id.
type Profile struct {
	ID             uuid.UUID
	Name           string
	Role           string
	Bio            *string
	AvatarURL      *string
	YearLevel      *string
	Specialization *string
	Phone          *string
	Location       *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProfileUpdate is a partial profile change. Nil fields are left untouched.
type ProfileUpdate struct {
	Name           *string `json:"name,omitempty"`
	Role           *string `json:"role,omitempty"`
	Bio            *string `json:"bio,omitempty"`
	AvatarURL      *string `json:"avatar_url,omitempty"`
	YearLevel      *string `json:"year_level,omitempty"`
	Specialization *string `json:"specialization,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Location       *string `json:"location,omitempty"`
}

func (u ProfileUpdate) IsEmpty() bool {
	return u.Name == nil && u.Role == nil && u.Bio == nil && u.AvatarURL == nil &&
		u.YearLevel == nil && u.Specialization == nil && u.Phone == nil && u.Location == nil
}

// Apply merges the update into a copy of p.
func (u ProfileUpdate) Apply(p Profile) Profile {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Role != nil {
		p.Role = *u.Role
	}
	if u.Bio != nil {
		p.Bio = cloneString(u.Bio)
	}
	if u.AvatarURL != nil {
		p.AvatarURL = cloneString(u.AvatarURL)
	}
	if u.YearLevel != nil {
		p.YearLevel = cloneString(u.YearLevel)
	}
	if u.Specialization != nil {
		p.Specialization = cloneString(u.Specialization)
	}
	if u.Phone != nil {
		p.Phone = cloneString(u.Phone)
	}
	if u.Location != nil {
		p.Location = cloneString(u.Location)
	}
	return p
}

// ApplyToUser merges the update into a copy of user without touching
// ProfileComplete, which is only ever derived from a stored row.
func (u ProfileUpdate) ApplyToUser(user *User) *User {
	c := user.Clone()
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Role != nil {
		c.Role = *u.Role
	}
	if u.Bio != nil {
		c.Bio = cloneString(u.Bio)
	}
	if u.AvatarURL != nil {
		c.AvatarURL = cloneString(u.AvatarURL)
	}
	if u.YearLevel != nil {
		c.YearLevel = cloneString(u.YearLevel)
	}
	if u.Specialization != nil {
		c.Specialization = cloneString(u.Specialization)
	}
	if u.Phone != nil {
		c.Phone = cloneString(u.Phone)
	}
	if u.Location != nil {
		c.Location = cloneString(u.Location)
	}
	return c
}

// IsComplete reports whether the stored row has both a name and a bio.
func (p Profile) IsComplete() bool {
	return strings.TrimSpace(p.Name) != "" && p.Bio != nil && strings.TrimSpace(*p.Bio) != ""
}

// ToUser maps a stored row onto a User. Email is taken from the session.
func (p Profile) ToUser(email string) *User {
	return &User{
		ID:              p.ID,
		Email:           email,
		Name:            p.Name,
		Role:            p.Role,
		ProfileComplete: p.IsComplete(),
		CreatedAt:       p.CreatedAt,
		AvatarURL:       cloneString(p.AvatarURL),
		Bio:             cloneString(p.Bio),
		YearLevel:       cloneString(p.YearLevel),
		Specialization:  cloneString(p.Specialization),
		Phone:           cloneString(p.Phone),
		Location:        cloneString(p.Location),
	}
}
