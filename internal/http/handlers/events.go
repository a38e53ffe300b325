package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/heimdex/heimdex-backend/internal/http/response"
	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/realtime"
)

type EventsHandler struct {
	hub *realtime.Hub
}

func NewEventsHandler(hub *realtime.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// GET /api/events/jobs?video_id=
//
// Streams the tenant's job progress events as SSE until the client
// disconnects. video_id narrows the feed to one video.
func (h *EventsHandler) Stream(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())

	var videoID *uuid.UUID
	if raw := c.Query("video_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
			return
		}
		videoID = &parsed
	}

	sub := h.hub.Subscribe(tenantID, videoID)
	defer h.hub.Unsubscribe(sub)

	h.hub.ServeHTTP(c.Writer, c.Request, sub)
}
