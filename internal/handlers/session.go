package handlers

import (
	"net/http"

	"github.com/dimitrije/mise-api/internal/sse"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
)

type SessionHandler struct {
	session SessionService
	hub     *sse.Hub
}

func NewSessionHandler(session SessionService, hub *sse.Hub) *SessionHandler {
	return &SessionHandler{session: session, hub: hub}
}

func (h *SessionHandler) Get(c *drift.Context) {
	_ = c.JSON(http.StatusOK, h.session.Snapshot())
}

// Events streams a "session" event for the current state and for every
// change after it.
func (h *SessionHandler) Events(c *drift.Context) {
	sseCtx := c.SSE()

	clientID := uuid.New().String()
	client := &sse.Client{
		ID:   clientID,
		Send: make(chan []byte, 16),
	}

	if !h.hub.Register(client) {
		return
	}
	defer h.hub.Unregister(client)

	if err := sseCtx.SendJSON(map[string]string{
		"type":      "connected",
		"client_id": clientID,
	}, "system", ""); err != nil {
		return
	}

	done := c.Request.Context().Done()
	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			if err := sseCtx.Send(string(msg), "session", ""); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
