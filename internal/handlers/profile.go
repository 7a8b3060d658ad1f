package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/dimitrije/mise-api/internal/identity"
	"github.com/dimitrije/mise-api/internal/middleware"
	"github.com/dimitrije/mise-api/internal/models"
	"github.com/dimitrije/mise-api/internal/storage"
	"github.com/dimitrije/mise-api/pkg/dto"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
)

type ProfileHandler struct {
	session SessionService
	avatars AvatarStorage
}

// NewProfileHandler builds the handler. avatars may be nil, which turns
// avatar uploads off.
func NewProfileHandler(session SessionService, avatars AvatarStorage) *ProfileHandler {
	return &ProfileHandler{session: session, avatars: avatars}
}

func (h *ProfileHandler) Update(c *drift.Context) {
	var req dto.UpdateProfileRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}

	res := h.session.UpdateProfile(c.Request.Context(), req)
	_ = c.JSON(http.StatusOK, h.profileResponse(res))
}

func (h *ProfileHandler) Refresh(c *drift.Context) {
	res := h.session.RefreshProfile(c.Request.Context())
	_ = c.JSON(http.StatusOK, h.profileResponse(res))
}

func (h *ProfileHandler) UploadAvatar(c *drift.Context) {
	if h.avatars == nil {
		c.NotFound("avatar storage is not configured")
		return
	}

	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not signed in")
		return
	}

	contentType := c.GetHeader("Content-Type")
	if !storage.IsSupportedType(contentType) {
		c.BadRequest("unsupported image type")
		return
	}

	body := http.MaxBytesReader(c.Response, c.Request.Body, storage.MaxAvatarSize)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.BadRequest("image is too large")
			return
		}
		c.BadRequest("failed to read image")
		return
	}
	if len(data) == 0 {
		c.BadRequest("image is required")
		return
	}

	ctx := c.Request.Context()
	url, err := h.avatars.Upload(ctx, userID, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedType) {
			c.BadRequest("unsupported image type")
			return
		}
		c.InternalServerError("failed to store avatar")
		return
	}

	res := h.session.UpdateProfile(ctx, models.ProfileUpdate{AvatarURL: &url})
	_ = c.JSON(http.StatusOK, h.profileResponse(res))
}

func (h *ProfileHandler) profileResponse(res identity.Result) dto.ProfileResultResponse {
	return dto.ProfileResultResponse{
		Success: res.Success,
		Error:   res.Error,
		User:    h.session.User(),
	}
}
