package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heimdex/heimdex-backend/internal/http/response"
	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/services"
)

type PreferenceHandler struct {
	prefs services.PreferenceService
}

func NewPreferenceHandler(prefs services.PreferenceService) *PreferenceHandler {
	return &PreferenceHandler{prefs: prefs}
}

// GET /api/search/preferences
func (h *PreferenceHandler) Get(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())
	view, err := h.prefs.Get(c.Request.Context(), tenantID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, view)
}

// PUT /api/search/preferences
func (h *PreferenceHandler) Update(c *gin.Context) {
	var in services.UpdatePreferenceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	tenantID := ctxutil.TenantID(c.Request.Context())
	view, err := h.prefs.Update(c.Request.Context(), tenantID, in)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, view)
}
