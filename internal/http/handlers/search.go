package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heimdex/heimdex-backend/internal/http/response"
	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/search"
)

type SearchHandler struct {
	search search.Service
}

func NewSearchHandler(searchService search.Service) *SearchHandler {
	return &SearchHandler{search: searchService}
}

// POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req search.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	tenantID := ctxutil.TenantID(c.Request.Context())
	resp, err := h.search.Search(c.Request.Context(), tenantID, req)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, resp)
}
