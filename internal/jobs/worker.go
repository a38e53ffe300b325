package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	jobrepo "github.com/heimdex/heimdex-backend/internal/data/repos/jobs"
	personrepo "github.com/heimdex/heimdex-backend/internal/data/repos/persons"
	scenerepo "github.com/heimdex/heimdex-backend/internal/data/repos/scenes"
	videorepo "github.com/heimdex/heimdex-backend/internal/data/repos/videos"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/ingestion/pipeline"
	perrors "github.com/heimdex/heimdex-backend/internal/pkg/errors"
	"github.com/heimdex/heimdex-backend/internal/pkg/vectors"
	"github.com/heimdex/heimdex-backend/internal/platform/clip"
	"github.com/heimdex/heimdex-backend/internal/platform/gcs"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
)

// Deps carries everything the task handlers touch.
type Deps struct {
	DB      *gorm.DB
	Jobs    jobrepo.JobRunRepo
	Videos  videorepo.VideoRepo
	Persons personrepo.PersonRepo
	Scenes  scenerepo.SceneRepo
	Builder pipeline.SidecarBuilder
	Store   gcs.ObjectStore
	Clip    clip.ImageEmbedder
	Vectors vectorstore.VectorStore
	Notify  *Notifier
}

// Worker consumes the per-kind queues. One process, bounded concurrency;
// a job's internal fan-out is bounded separately by the pipeline config.
type Worker struct {
	log *logger.Logger
	srv *asynq.Server
	h   *handlers
}

func NewWorker(log *logger.Logger, cfg Config, redis asynq.RedisConnOpt, deps Deps) (*Worker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.Jobs == nil || deps.Videos == nil || deps.Persons == nil || deps.Scenes == nil {
		return nil, fmt.Errorf("repos required")
	}
	if deps.Notify == nil {
		return nil, fmt.Errorf("notifier required")
	}
	cfg = cfg.withDefaults()
	wlog := log.With("service", "JobWorker")

	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      queueWeights(),
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return cfg.retryDelay(n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			wlog.Warn("task errored", "type", task.Type(), "error", err)
		}),
	})

	return &Worker{
		log: wlog,
		srv: srv,
		h:   newHandlers(wlog, cfg, deps),
	}, nil
}

// Run serves tasks until ctx is cancelled, then drains in-flight handlers.
func (w *Worker) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskVideoIngest, w.h.handleVideo)
	mux.HandleFunc(TaskVideoReprocess, w.h.handleVideo)
	mux.HandleFunc(TaskVideoExport, w.h.handleExport)
	mux.HandleFunc(TaskPersonPhoto, w.h.handlePersonPhoto)

	if err := w.srv.Start(mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	w.log.Info("job worker started")
	<-ctx.Done()
	w.log.Info("job worker shutting down")
	w.srv.Shutdown()
	return nil
}

type handlers struct {
	log  *logger.Logger
	cfg  Config
	deps Deps
}

func newHandlers(log *logger.Logger, cfg Config, deps Deps) *handlers {
	return &handlers{log: log, cfg: cfg.withDefaults(), deps: deps}
}

// begin decodes the payload, loads the run, and moves it to PROCESSING.
// A nil run with nil error means the delivery should be acked without work
// (row gone, already finished, or canceled).
func (h *handlers) begin(ctx context.Context, t *asynq.Task, stage string) (Payload, *types.JobRun, error) {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// Poison message; archive it for inspection.
		return p, nil, fmt.Errorf("%w: decode payload for %s: %v", asynq.SkipRetry, t.Type(), err)
	}

	run, err := h.deps.Jobs.GetByID(ctx, nil, p.TenantID, p.JobID)
	if err != nil {
		return p, nil, fmt.Errorf("load job run: %w", err)
	}
	if run == nil {
		h.log.Warn("job row missing, acking task", "job_id", p.JobID, "type", t.Type())
		return p, nil, nil
	}
	if types.JobTerminal(run.Status) {
		h.log.Info("job already finished, acking task", "job_id", run.ID, "status", run.Status)
		return p, nil, nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":       types.JobStatusProcessing,
		"stage":        stage,
		"attempts":     run.Attempts + 1,
		"heartbeat_at": now,
	}
	if run.StartedAt == nil {
		updates["started_at"] = now
	}
	written, err := h.deps.Jobs.UpdateFieldsUnlessStatus(ctx, nil, run.ID, terminalStatuses(), updates)
	if err != nil {
		return p, nil, fmt.Errorf("claim job run: %w", err)
	}
	if !written {
		// Raced a cancel; ack.
		h.log.Info("job canceled before start, acking task", "job_id", run.ID)
		return p, nil, nil
	}

	run.Status = types.JobStatusProcessing
	run.Stage = stage
	run.Attempts++
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	h.deps.Notify.Emit(ctx, run, types.JobEventProgress, "started")
	return p, run, nil
}

// finish maps the handler outcome onto the run row and the broker's retry
// machinery. Cancellation acks; permanent failures skip retry; transient
// failures requeue until the attempt budget runs out.
func (h *handlers) finish(ctx context.Context, run *types.JobRun, err error) error {
	now := time.Now()

	if err == nil {
		h.mark(ctx, run, map[string]interface{}{
			"status":      types.JobStatusSucceeded,
			"progress":    100,
			"finished_at": now,
		})
		run.Status = types.JobStatusSucceeded
		run.Progress = 100
		h.deps.Notify.Emit(ctx, run, types.JobEventSucceeded, "")
		h.log.Info("job succeeded", "job_id", run.ID, "kind", run.Kind)
		return nil
	}

	kind := perrors.Classify(err)
	if kind == perrors.KindCancelled {
		h.mark(ctx, run, map[string]interface{}{
			"status":      types.JobStatusCanceled,
			"finished_at": now,
			"error":       "canceled",
		})
		run.Status = types.JobStatusCanceled
		h.deps.Notify.Emit(ctx, run, types.JobEventCanceled, "")
		h.log.Info("job canceled mid-flight", "job_id", run.ID, "kind", run.Kind)
		return nil
	}

	msg := truncateError(err, 500)
	if perrors.Retryable(err) && !h.finalAttempt(ctx) {
		h.mark(ctx, run, map[string]interface{}{
			"status":        types.JobStatusQueued,
			"error":         msg,
			"last_error_at": now,
		})
		run.Status = types.JobStatusQueued
		run.Error = msg
		h.deps.Notify.Emit(ctx, run, types.JobEventProgress, "retry scheduled: "+msg)
		h.log.Warn("job attempt failed, will retry", "job_id", run.ID, "kind", run.Kind, "error", err)
		return err
	}

	h.mark(ctx, run, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"error":         msg,
		"finished_at":   now,
		"last_error_at": now,
	})
	run.Status = types.JobStatusFailed
	run.Error = msg
	h.deps.Notify.Emit(ctx, run, types.JobEventFailed, msg)
	h.log.Error("job failed", "job_id", run.ID, "kind", run.Kind, "error", err)
	if perrors.Retryable(err) {
		// Out of attempts; let the broker archive the task as-is.
		return err
	}
	return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
}

// mark writes terminal-ish transitions guarded so a cancel is never
// overwritten by a late worker update.
func (h *handlers) mark(ctx context.Context, run *types.JobRun, updates map[string]interface{}) {
	if _, err := h.deps.Jobs.UpdateFieldsUnlessStatus(ctx, nil, run.ID, []string{types.JobStatusCanceled}, updates); err != nil {
		h.log.Warn("job status update failed", "job_id", run.ID, "error", err)
	}
}

func (h *handlers) finalAttempt(ctx context.Context) bool {
	n, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	budget, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return n >= budget
}

// handleVideo runs the sidecar builder for ingest and reprocess tasks. The
// builder claims the video row itself, so a duplicate delivery is a no-op.
func (h *handlers) handleVideo(ctx context.Context, t *asynq.Task) error {
	p, run, err := h.begin(ctx, t, types.VideoStageQueued)
	if err != nil || run == nil {
		return err
	}
	if p.VideoID == nil {
		return h.finish(ctx, run, perrors.Permanentf("payload missing video id"))
	}
	if h.deps.Builder == nil {
		return h.finish(ctx, run, perrors.Permanentf("sidecar builder not configured"))
	}

	videoID := *p.VideoID
	h.deps.Notify.AttachVideoJob(videoID, run)
	defer h.deps.Notify.DetachVideoJob(videoID)

	err = h.runRecovered(func() error {
		return h.deps.Builder.Process(ctx, p.TenantID, videoID)
	})
	return h.finish(ctx, run, err)
}

// handleExport writes the finished sidecar (video row plus every scene) as
// one JSON artifact under the video's export key.
func (h *handlers) handleExport(ctx context.Context, t *asynq.Task) error {
	p, run, err := h.begin(ctx, t, "exporting")
	if err != nil || run == nil {
		return err
	}
	if p.VideoID == nil {
		return h.finish(ctx, run, perrors.Permanentf("payload missing video id"))
	}
	if h.deps.Store == nil {
		return h.finish(ctx, run, perrors.Permanentf("object store not configured"))
	}

	err = h.runRecovered(func() error {
		video, err := h.deps.Videos.GetByID(ctx, nil, p.TenantID, *p.VideoID)
		if err != nil {
			return fmt.Errorf("load video: %w", err)
		}
		if video == nil {
			return fmt.Errorf("%w: video %s", perrors.ErrNotFound, *p.VideoID)
		}
		scenes, err := h.deps.Scenes.GetByVideo(ctx, nil, p.TenantID, video.ID)
		if err != nil {
			return fmt.Errorf("load scenes: %w", err)
		}

		artifact := sidecarExport{
			Version:     "v1",
			GeneratedAt: time.Now().UTC(),
			Video:       video,
			SceneCount:  len(scenes),
			Scenes:      scenes,
		}
		raw, err := json.Marshal(artifact)
		if err != nil {
			return fmt.Errorf("marshal export: %w", err)
		}

		key := exportKey(p.TenantID.String(), video.ID.String())
		if err := h.deps.Store.Upload(ctx, key, bytes.NewReader(raw), "application/json"); err != nil {
			return perrors.Transientf("upload export: %v", err)
		}

		result, _ := json.Marshal(map[string]interface{}{
			"export_key":  key,
			"scene_count": len(scenes),
			"bytes":       len(raw),
		})
		h.mark(ctx, run, map[string]interface{}{"result": result})
		return nil
	})
	return h.finish(ctx, run, err)
}

// handlePersonPhoto embeds the person's reference photo with the CLIP image
// tower and stores the vector as the person query embedding.
func (h *handlers) handlePersonPhoto(ctx context.Context, t *asynq.Task) error {
	p, run, err := h.begin(ctx, t, "embedding_photo")
	if err != nil || run == nil {
		return err
	}
	if p.PersonID == nil {
		return h.finish(ctx, run, perrors.Permanentf("payload missing person id"))
	}
	if h.deps.Clip == nil || h.deps.Vectors == nil || h.deps.Store == nil {
		return h.finish(ctx, run, perrors.Permanentf("clip embedder not configured"))
	}

	err = h.runRecovered(func() error {
		person, err := h.deps.Persons.GetByID(ctx, nil, p.TenantID, *p.PersonID)
		if err != nil {
			return fmt.Errorf("load person: %w", err)
		}
		if person == nil {
			return fmt.Errorf("%w: person %s", perrors.ErrNotFound, *p.PersonID)
		}
		if person.PhotoKey == "" {
			return perrors.Permanentf("person %s has no reference photo", person.ID)
		}

		path, cleanup, err := h.downloadToTemp(ctx, person.PhotoKey)
		if err != nil {
			return err
		}
		defer cleanup()

		vec, err := h.deps.Clip.EmbedImage(ctx, path)
		if err != nil {
			return fmt.Errorf("embed photo: %w", err)
		}
		vec = vectors.L2Normalize(vec)
		if len(vec) == 0 || !vectors.IsFinite(vec) {
			return perrors.Contractf("photo embedding unusable for person %s", person.ID)
		}

		if err := h.deps.Vectors.UpdatePersonQueryEmbedding(ctx, p.TenantID.String(), person.ID.String(), vec); err != nil {
			return perrors.Transientf("store person embedding: %v", err)
		}
		if err := h.deps.Persons.UpdateFields(ctx, nil, person.ID, map[string]interface{}{
			"status":              types.PersonStatusReady,
			"has_query_embedding": true,
		}); err != nil {
			return fmt.Errorf("mark person ready: %w", err)
		}
		return nil
	})
	return h.finish(ctx, run, err)
}

func (h *handlers) downloadToTemp(ctx context.Context, key string) (string, func(), error) {
	rc, err := h.deps.Store.Download(ctx, key)
	if err != nil {
		return "", nil, perrors.Transientf("download %s: %v", key, err)
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "heimdex-photo-*.jpg")
	if err != nil {
		return "", nil, fmt.Errorf("temp file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, perrors.Transientf("download %s: %v", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("temp file: %w", err)
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// runRecovered converts a handler panic into a permanent failure so the row
// never hangs in PROCESSING.
func (h *handlers) runRecovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("job handler panic", "panic", r)
			err = perrors.Permanentf("handler panic: %v", r)
		}
	}()
	return fn()
}

type sidecarExport struct {
	Version     string         `json:"version"`
	GeneratedAt time.Time      `json:"generated_at"`
	Video       *types.Video   `json:"video"`
	SceneCount  int            `json:"scene_count"`
	Scenes      []*types.Scene `json:"scenes"`
}

func exportKey(tenantID, videoID string) string {
	return fmt.Sprintf("%s/%s/export/sidecar.json", tenantID, videoID)
}
