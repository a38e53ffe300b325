package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobrepo "github.com/heimdex/heimdex-backend/internal/data/repos/jobs"
	personrepo "github.com/heimdex/heimdex-backend/internal/data/repos/persons"
	videorepo "github.com/heimdex/heimdex-backend/internal/data/repos/videos"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	perrors "github.com/heimdex/heimdex-backend/internal/pkg/errors"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

// Enqueuer creates job rows and hands the matching tasks to the broker.
// Enqueues are idempotent per (kind, subject): while a run is QUEUED or
// PROCESSING, a second enqueue returns the existing run instead of minting
// a duplicate.
type Enqueuer interface {
	EnqueueVideo(ctx context.Context, tenantID, videoID uuid.UUID, kind, transcriptLanguage string) (*types.JobRun, error)
	EnqueuePersonPhoto(ctx context.Context, tenantID, personID uuid.UUID) (*types.JobRun, error)
	Cancel(ctx context.Context, tenantID, jobID uuid.UUID) (*types.JobRun, error)
}

// taskClient is the slice of asynq.Client the enqueuer needs.
type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// taskCanceler is the slice of asynq.Inspector used for cooperative cancel
// of an actively running task.
type taskCanceler interface {
	CancelProcessing(id string) error
}

type enqueuer struct {
	log     *logger.Logger
	cfg     Config
	client  taskClient
	cancels taskCanceler
	videos  videorepo.VideoRepo
	persons personrepo.PersonRepo
	jobs    jobrepo.JobRunRepo
	notify  *Notifier
}

// NewEnqueuer wires the enqueue side. cancels may be nil (cancel then only
// flips the row; queued tasks still notice it before running).
func NewEnqueuer(
	log *logger.Logger,
	cfg Config,
	client taskClient,
	cancels taskCanceler,
	videos videorepo.VideoRepo,
	persons personrepo.PersonRepo,
	jobs jobrepo.JobRunRepo,
	notify *Notifier,
) (Enqueuer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("task client required")
	}
	if videos == nil || persons == nil || jobs == nil {
		return nil, fmt.Errorf("repos required")
	}
	if notify == nil {
		return nil, fmt.Errorf("notifier required")
	}
	return &enqueuer{
		log:     log.With("service", "JobEnqueuer"),
		cfg:     cfg.withDefaults(),
		client:  client,
		cancels: cancels,
		videos:  videos,
		persons: persons,
		jobs:    jobs,
		notify:  notify,
	}, nil
}

func (e *enqueuer) EnqueueVideo(ctx context.Context, tenantID, videoID uuid.UUID, kind, transcriptLanguage string) (*types.JobRun, error) {
	switch kind {
	case types.JobKindIngest, types.JobKindReprocess, types.JobKindExport:
	default:
		return nil, perrors.Invalid("unknown video job kind %q", kind)
	}

	video, err := e.videos.GetByID(ctx, nil, tenantID, videoID)
	if err != nil {
		return nil, fmt.Errorf("load video: %w", err)
	}
	if video == nil {
		return nil, fmt.Errorf("%w: video %s", perrors.ErrNotFound, videoID)
	}

	runnable, err := e.jobs.HasRunnableForVideo(ctx, nil, tenantID, videoID, kind)
	if err != nil {
		return nil, fmt.Errorf("check runnable: %w", err)
	}
	if runnable {
		existing, err := e.jobs.GetLatestByVideo(ctx, nil, tenantID, videoID, kind)
		if err != nil {
			return nil, fmt.Errorf("load existing run: %w", err)
		}
		if existing != nil && !types.JobTerminal(existing.Status) {
			e.log.Info("job already runnable, returning existing", "kind", kind, "video_id", videoID, "job_id", existing.ID)
			return existing, nil
		}
	}

	run, payload, err := e.createRun(ctx, kind, tenantID, &videoID, nil, transcriptLanguage)
	if err != nil {
		return nil, err
	}
	if err := e.dispatch(ctx, run, payload); err != nil {
		return nil, err
	}
	return run, nil
}

func (e *enqueuer) EnqueuePersonPhoto(ctx context.Context, tenantID, personID uuid.UUID) (*types.JobRun, error) {
	person, err := e.persons.GetByID(ctx, nil, tenantID, personID)
	if err != nil {
		return nil, fmt.Errorf("load person: %w", err)
	}
	if person == nil {
		return nil, fmt.Errorf("%w: person %s", perrors.ErrNotFound, personID)
	}
	if person.PhotoKey == "" {
		return nil, perrors.Invalid("person %s has no reference photo", personID)
	}

	runnable, err := e.jobs.HasRunnableForPerson(ctx, nil, tenantID, personID)
	if err != nil {
		return nil, fmt.Errorf("check runnable: %w", err)
	}
	if runnable {
		e.log.Info("person photo job already runnable", "person_id", personID)
		return nil, perrors.Invalid("a photo job for person %s is already queued or running", personID)
	}

	run, payload, err := e.createRun(ctx, types.JobKindPersonPhoto, tenantID, nil, &personID, "")
	if err != nil {
		return nil, err
	}
	if err := e.dispatch(ctx, run, payload); err != nil {
		return nil, err
	}
	return run, nil
}

// Cancel flips the run to CANCELED unless it already finished, and signals
// the broker so an actively running handler sees its context cancelled.
// Cancel of a terminal run is a no-op returning the current row.
func (e *enqueuer) Cancel(ctx context.Context, tenantID, jobID uuid.UUID) (*types.JobRun, error) {
	run, err := e.jobs.GetByID(ctx, nil, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: job %s", perrors.ErrNotFound, jobID)
	}
	if types.JobTerminal(run.Status) {
		return run, nil
	}

	now := time.Now()
	written, err := e.jobs.UpdateFieldsUnlessStatus(ctx, nil, run.ID, terminalStatuses(), map[string]interface{}{
		"status":      types.JobStatusCanceled,
		"finished_at": now,
		"error":       "canceled",
	})
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	if !written {
		// Finished in the meantime; re-read for the caller.
		return e.jobs.GetByID(ctx, nil, tenantID, jobID)
	}

	run.Status = types.JobStatusCanceled
	run.FinishedAt = &now
	run.Error = "canceled"
	e.notify.Emit(ctx, run, types.JobEventCanceled, "")

	if e.cancels != nil && run.Fingerprint != "" {
		if err := e.cancels.CancelProcessing(run.Fingerprint); err != nil {
			e.log.Warn("broker cancel failed", "job_id", run.ID, "error", err)
		}
	}
	e.log.Info("job canceled", "job_id", run.ID, "kind", run.Kind)
	return run, nil
}

func (e *enqueuer) createRun(ctx context.Context, kind string, tenantID uuid.UUID, videoID, personID *uuid.UUID, transcriptLanguage string) (*types.JobRun, Payload, error) {
	now := time.Now()
	subject := uuid.Nil
	if videoID != nil {
		subject = *videoID
	} else if personID != nil {
		subject = *personID
	}

	payload := Payload{
		JobID:              uuid.New(),
		TenantID:           tenantID,
		VideoID:            videoID,
		PersonID:           personID,
		Kind:               kind,
		TranscriptLanguage: transcriptLanguage,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, Payload{}, fmt.Errorf("marshal payload: %w", err)
	}

	run := &types.JobRun{
		ID:          payload.JobID,
		TenantID:    tenantID,
		Kind:        kind,
		Fingerprint: mintFingerprint(kind, tenantID, subject, now),
		VideoID:     videoID,
		PersonID:    personID,
		Status:      types.JobStatusQueued,
		QueuedAt:    now,
		Payload:     raw,
	}
	if _, err := e.jobs.Create(ctx, nil, []*types.JobRun{run}); err != nil {
		return nil, Payload{}, fmt.Errorf("create job run: %w", err)
	}
	return run, payload, nil
}

func (e *enqueuer) dispatch(ctx context.Context, run *types.JobRun, payload Payload) error {
	taskType, err := taskTypeFor(run.Kind)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	task := asynq.NewTask(taskType, raw)
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(queueFor(run.Kind)),
		asynq.TaskID(run.Fingerprint),
		asynq.MaxRetry(e.cfg.MaxRetries),
		asynq.Timeout(e.cfg.timeoutFor(run.Kind)),
	)
	if err != nil {
		if uerr := e.jobs.UpdateFields(ctx, nil, run.ID, map[string]interface{}{
			"status":      types.JobStatusFailed,
			"error":       truncateError(err, 500),
			"finished_at": time.Now(),
		}); uerr != nil {
			e.log.Warn("failed to mark unenqueued run", "job_id", run.ID, "error", uerr)
		}
		return fmt.Errorf("enqueue %s: %w", run.Kind, err)
	}

	e.notify.Emit(ctx, run, types.JobEventCreated, "")
	e.log.Info("job enqueued",
		"job_id", run.ID,
		"kind", run.Kind,
		"queue", info.Queue,
		"fingerprint", run.Fingerprint,
	)
	return nil
}
