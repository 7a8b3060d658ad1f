package handlers

import (
	"net/http"
	"strings"

	"github.com/dimitrije/mise-api/internal/identity"
	"github.com/dimitrije/mise-api/pkg/dto"
	"github.com/m1z23r/drift/pkg/drift"
)

type AuthHandler struct {
	session SessionService
}

func NewAuthHandler(session SessionService) *AuthHandler {
	return &AuthHandler{session: session}
}

func (h *AuthHandler) SignIn(c *drift.Context) {
	var req dto.SignInRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.BadRequest("email and password are required")
		return
	}

	res := h.session.SignIn(c.Request.Context(), req.Email, req.Password)
	_ = c.JSON(http.StatusOK, resultResponse(res))
}

func (h *AuthHandler) SignUp(c *drift.Context) {
	var req dto.SignUpRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.BadRequest("email and password are required")
		return
	}

	res := h.session.SignUp(c.Request.Context(), req.Email, req.Password, req.Name, req.Role)
	_ = c.JSON(http.StatusOK, resultResponse(res))
}

func (h *AuthHandler) SignOut(c *drift.Context) {
	h.session.SignOut(c.Request.Context())

	c.Response.WriteHeader(http.StatusNoContent)
	c.Abort()
}

func (h *AuthHandler) ResetPassword(c *drift.Context) {
	var req dto.ResetPasswordRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		c.BadRequest("email is required")
		return
	}

	res := h.session.ResetPassword(c.Request.Context(), req.Email)
	_ = c.JSON(http.StatusOK, resultResponse(res))
}

func resultResponse(res identity.Result) dto.ResultResponse {
	return dto.ResultResponse{Success: res.Success, Error: res.Error}
}
