package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/heimdex/heimdex-backend/internal/http/response"
	"github.com/heimdex/heimdex-backend/internal/services"
)

type AuthHandler struct {
	auth services.AuthService
}

func NewAuthHandler(auth services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type tokenRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	APIKey   string `json:"api_key" binding:"required"`
}

// POST /auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_tenant_id", err)
		return
	}
	grant, err := h.auth.IssueToken(c.Request.Context(), tenantID, req.APIKey)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, grant)
}
