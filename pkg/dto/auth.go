package dto

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type ResetPasswordRequest struct {
	Email string `json:"email"`
}

// ResultResponse carries the outcome of a user operation. Error may hold an
// informational message even when Success is true.
type ResultResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
