package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/heimdex/heimdex-backend/internal/http/response"
	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/services"
)

type JobHandler struct {
	jobs services.JobService
}

func NewJobHandler(jobs services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// GET /api/jobs/:id?events=&event_limit=
func (h *JobHandler) Get(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	if c.Query("events") != "true" {
		run, err := h.jobs.Get(c.Request.Context(), tenantID, jobID)
		if err != nil {
			response.RespondFromError(c, err)
			return
		}
		response.RespondOK(c, gin.H{"job": run})
		return
	}
	limit, _ := strconv.Atoi(c.Query("event_limit"))
	run, events, err := h.jobs.GetWithEvents(c.Request.Context(), tenantID, jobID, limit)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": run, "events": events})
}

// POST /api/jobs/:id/cancel
func (h *JobHandler) Cancel(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	run, err := h.jobs.Cancel(c.Request.Context(), tenantID, jobID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": run})
}
