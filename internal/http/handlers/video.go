package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/http/response"
	"github.com/heimdex/heimdex-backend/internal/jobs"
	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/platform/gcs"
	"github.com/heimdex/heimdex-backend/internal/services"
)

const videoDownloadURLTTL = 15 * time.Minute

type VideoHandler struct {
	videos   services.VideoService
	enqueuer jobs.Enqueuer
	store    gcs.ObjectStore
}

// NewVideoHandler wires the video lifecycle routes. store may be nil; the
// detail response then omits signed URLs.
func NewVideoHandler(videos services.VideoService, enqueuer jobs.Enqueuer, store gcs.ObjectStore) *VideoHandler {
	return &VideoHandler{videos: videos, enqueuer: enqueuer, store: store}
}

// POST /api/videos  (multipart: file, transcript_language?)
func (h *VideoHandler) Upload(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer f.Close()

	video, run, err := h.videos.Upload(c.Request.Context(), tenantID, services.UploadVideoInput{
		Filename:           fileHeader.Filename,
		ContentType:        fileHeader.Header.Get("Content-Type"),
		SizeBytes:          fileHeader.Size,
		TranscriptLanguage: c.PostForm("transcript_language"),
		Reader:             f,
	})
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"video": video, "job": run})
}

// GET /api/videos?status=&limit=&offset=
func (h *VideoHandler) List(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	videos, total, err := h.videos.List(c.Request.Context(), tenantID, c.Query("status"), limit, offset)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"videos": videos, "total": total})
}

// GET /api/videos/:id
func (h *VideoHandler) Get(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	video, scenes, err := h.videos.Get(c.Request.Context(), tenantID, videoID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	payload := gin.H{"video": video, "scenes": scenes}
	if h.store != nil && video.StorageKey != "" {
		if url, err := h.store.SignedDownloadURL(video.StorageKey, videoDownloadURLTTL); err == nil {
			payload["download_url"] = url
		}
	}
	response.RespondOK(c, payload)
}

// DELETE /api/videos/:id
func (h *VideoHandler) Delete(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	if err := h.videos.Delete(c.Request.Context(), tenantID, videoID); err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": videoID})
}

// POST /api/videos/:id/reprocess
func (h *VideoHandler) Reprocess(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	run, err := h.videos.Reprocess(c.Request.Context(), tenantID, videoID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": run})
}

// POST /api/videos/:id/export
func (h *VideoHandler) Export(c *gin.Context) {
	tenantID := ctxutil.TenantID(c.Request.Context())
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_id", err)
		return
	}
	run, err := h.enqueuer.EnqueueVideo(c.Request.Context(), tenantID, videoID, types.JobKindExport, "")
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": run})
}
