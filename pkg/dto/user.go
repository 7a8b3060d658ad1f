package dto

import "github.com/dimitrije/mise-api/internal/models"

// ProfileResultResponse is a ResultResponse plus the user as it stands
// after the operation.
type ProfileResultResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	User    *models.User `json:"user"`
}

type UpdateProfileRequest = models.ProfileUpdate
