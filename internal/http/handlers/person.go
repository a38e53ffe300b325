package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/heimdex/heimdex-backend/internal/http/response"
	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/services"
)

type PersonHandler struct {
	persons services.PersonService
}

func NewPersonHandler(persons services.PersonService) *PersonHandler {
	return &PersonHandler{persons: persons}
}

// GET /api/persons
func (h *PersonHandler) List(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())
	persons, err := h.persons.List(c.Request.Context(), tenantID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"persons": persons})
}

// GET /api/persons/:id
func (h *PersonHandler) Get(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())
	personID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_person_id", err)
		return
	}
	person, err := h.persons.Get(c.Request.Context(), tenantID, personID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"person": person})
}

// POST /api/persons/:id/embedding/refresh
func (h *PersonHandler) RefreshEmbedding(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())
	personID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_person_id", err)
		return
	}
	run, err := h.persons.RefreshEmbedding(c.Request.Context(), tenantID, personID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": run})
}
