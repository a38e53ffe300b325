package services

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heimdex/heimdex-backend/internal/data/lexical"
	jobrepo "github.com/heimdex/heimdex-backend/internal/data/repos/jobs"
	scenerepo "github.com/heimdex/heimdex-backend/internal/data/repos/scenes"
	videorepo "github.com/heimdex/heimdex-backend/internal/data/repos/videos"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/jobs"
	perrors "github.com/heimdex/heimdex-backend/internal/pkg/errors"
	"github.com/heimdex/heimdex-backend/internal/platform/gcs"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
)

const (
	defaultVideoPageSize = 50
	maxVideoPageSize     = 200
)

// Container formats the probe/decode path handles. Anything else is
// rejected at upload time instead of failing mid-pipeline.
var supportedVideoExts = map[string]bool{
	"mp4":  true,
	"mov":  true,
	"m4v":  true,
	"mkv":  true,
	"webm": true,
	"avi":  true,
}

// UploadVideoInput is one multipart upload, already opened by the handler.
type UploadVideoInput struct {
	Filename           string
	ContentType        string
	SizeBytes          int64
	TranscriptLanguage string
	Reader             io.Reader
}

// VideoService owns the video lifecycle: upload to the object store, list
// and detail reads, the delete cascade across every index, and the
// reprocess reset. Ingestion itself runs in the worker; this service only
// creates rows and enqueues jobs.
type VideoService interface {
	Upload(ctx context.Context, tenantID uuid.UUID, in UploadVideoInput) (*types.Video, *types.JobRun, error)
	List(ctx context.Context, tenantID uuid.UUID, status string, limit, offset int) ([]*types.Video, int64, error)
	Get(ctx context.Context, tenantID, videoID uuid.UUID) (*types.Video, []*types.Scene, error)
	Delete(ctx context.Context, tenantID, videoID uuid.UUID) error
	Reprocess(ctx context.Context, tenantID, videoID uuid.UUID) (*types.JobRun, error)
}

type videoService struct {
	log      *logger.Logger
	db       *gorm.DB
	videos   videorepo.VideoRepo
	scenes   scenerepo.SceneRepo
	jobs     jobrepo.JobRunRepo
	store    gcs.ObjectStore
	vectors  vectorstore.VectorStore
	lexical  lexical.LexicalStore
	enqueuer jobs.Enqueuer
}

func NewVideoService(
	log *logger.Logger,
	db *gorm.DB,
	videos videorepo.VideoRepo,
	scenes scenerepo.SceneRepo,
	jobRuns jobrepo.JobRunRepo,
	store gcs.ObjectStore,
	vectors vectorstore.VectorStore,
	lexicalStore lexical.LexicalStore,
	enqueuer jobs.Enqueuer,
) VideoService {
	return &videoService{
		log:      log.With("service", "VideoService"),
		db:       db,
		videos:   videos,
		scenes:   scenes,
		jobs:     jobRuns,
		store:    store,
		vectors:  vectors,
		lexical:  lexicalStore,
		enqueuer: enqueuer,
	}
}

func (s *videoService) Upload(ctx context.Context, tenantID uuid.UUID, in UploadVideoInput) (*types.Video, *types.JobRun, error) {
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		return nil, nil, perrors.Invalid("filename is required")
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if !supportedVideoExts[ext] {
		return nil, nil, perrors.Invalid("unsupported video format %q", ext)
	}
	if ct := strings.ToLower(strings.TrimSpace(in.ContentType)); ct != "" &&
		!strings.HasPrefix(ct, "video/") && ct != "application/octet-stream" {
		return nil, nil, perrors.Invalid("unsupported content type %q", in.ContentType)
	}
	if in.Reader == nil {
		return nil, nil, perrors.Invalid("empty upload body")
	}

	video := &types.Video{
		ID:       uuid.New(),
		TenantID: tenantID,
		Filename: filename,
		Ext:      ext,
		Status:   types.VideoStatusPending,
	}
	video.StorageKey = gcs.VideoKey(tenantID.String(), video.ID.String(), ext)

	if err := s.store.Upload(ctx, video.StorageKey, in.Reader, in.ContentType); err != nil {
		return nil, nil, perrors.Transientf("upload video object: %v", err)
	}
	if _, err := s.videos.Create(ctx, nil, []*types.Video{video}); err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), video.StorageKey); delErr != nil {
			s.log.Warn("orphaned upload object left behind", "key", video.StorageKey, "error", delErr)
		}
		return nil, nil, err
	}

	run, err := s.enqueuer.EnqueueVideo(ctx, tenantID, video.ID, types.JobKindIngest, in.TranscriptLanguage)
	if err != nil {
		// The row stays PENDING; a reprocess call can pick it up later.
		return video, nil, err
	}
	s.log.Info("video uploaded", "video_id", video.ID, "tenant_id", tenantID, "job_id", run.ID, "size_bytes", in.SizeBytes)
	return video, run, nil
}

func (s *videoService) List(ctx context.Context, tenantID uuid.UUID, status string, limit, offset int) ([]*types.Video, int64, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	switch status {
	case "", types.VideoStatusPending, types.VideoStatusProcessing, types.VideoStatusReady, types.VideoStatusFailed:
	default:
		return nil, 0, perrors.Invalid("unknown status filter %q", status)
	}
	if limit <= 0 {
		limit = defaultVideoPageSize
	}
	if limit > maxVideoPageSize {
		limit = maxVideoPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.videos.ListByTenant(ctx, nil, tenantID, status, limit, offset)
}

func (s *videoService) Get(ctx context.Context, tenantID, videoID uuid.UUID) (*types.Video, []*types.Scene, error) {
	video, err := s.videos.GetByID(ctx, nil, tenantID, videoID)
	if err != nil {
		return nil, nil, err
	}
	if video == nil {
		return nil, nil, perrors.NotFoundf("video %s", videoID)
	}
	scenes, err := s.scenes.GetByVideo(ctx, nil, tenantID, videoID)
	if err != nil {
		return nil, nil, err
	}
	return video, scenes, nil
}

// Delete removes a video everywhere: active jobs are canceled best-effort,
// then vector points, lexical docs and stored objects go, then the scene
// rows and the video row in one transaction. Every step is idempotent, so a
// failed cascade can simply be retried.
func (s *videoService) Delete(ctx context.Context, tenantID, videoID uuid.UUID) error {
	video, err := s.videos.GetByID(ctx, nil, tenantID, videoID)
	if err != nil {
		return err
	}
	if video == nil {
		return perrors.NotFoundf("video %s", videoID)
	}

	for _, kind := range []string{types.JobKindIngest, types.JobKindReprocess, types.JobKindExport} {
		run, err := s.jobs.GetLatestByVideo(ctx, nil, tenantID, videoID, kind)
		if err != nil || run == nil || types.JobTerminal(run.Status) {
			continue
		}
		if _, err := s.enqueuer.Cancel(ctx, tenantID, run.ID); err != nil {
			s.log.Warn("cancel before delete failed", "video_id", videoID, "job_id", run.ID, "error", err)
		}
	}

	if err := s.vectors.DeleteScenes(ctx, tenantID.String(), videoID.String()); err != nil {
		return perrors.Transientf("delete scene vectors: %v", err)
	}
	if err := s.lexical.DeleteByVideo(ctx, videoID); err != nil {
		return err
	}
	if err := s.store.DeletePrefix(ctx, gcs.VideoPrefix(tenantID.String(), videoID.String())); err != nil {
		return perrors.Transientf("delete stored objects: %v", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.scenes.DeleteByVideo(ctx, tx, videoID); err != nil {
			return err
		}
		_, err := s.videos.SoftDelete(ctx, tx, tenantID, videoID)
		return err
	})
	if err != nil {
		return err
	}
	s.log.Info("video deleted", "video_id", videoID, "tenant_id", tenantID)
	return nil
}

// Reprocess resets the row to PENDING and clears transcript state and scene
// rows in one transaction, then enqueues a reprocess run. Stale vector and
// lexical entries are left for the pipeline, which rebuilds them anyway.
func (s *videoService) Reprocess(ctx context.Context, tenantID, videoID uuid.UUID) (*types.JobRun, error) {
	video, err := s.videos.GetByID(ctx, nil, tenantID, videoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, perrors.NotFoundf("video %s", videoID)
	}
	for _, kind := range []string{types.JobKindIngest, types.JobKindReprocess} {
		run, err := s.jobs.GetLatestByVideo(ctx, nil, tenantID, videoID, kind)
		if err != nil {
			return nil, err
		}
		if run != nil && !types.JobTerminal(run.Status) {
			return nil, perrors.Invalid("a %s job is already %s for this video", kind, strings.ToLower(run.Status))
		}
	}

	languageHint := video.TranscriptLanguage

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reset, err := s.videos.ResetForReprocess(ctx, tx, tenantID, videoID)
		if err != nil {
			return err
		}
		if !reset {
			return perrors.NotFoundf("video %s", videoID)
		}
		_, err = s.scenes.DeleteByVideo(ctx, tx, videoID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.enqueuer.EnqueueVideo(ctx, tenantID, videoID, types.JobKindReprocess, languageHint)
}
