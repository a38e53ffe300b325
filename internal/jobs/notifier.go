package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	jobrepo "github.com/heimdex/heimdex-backend/internal/data/repos/jobs"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/ingestion/pipeline"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/redisbus"
)

// Rough completion percentage per processing stage, for progress bars. The
// exact numbers only need to be monotonic in stage order.
var stageProgress = map[string]int{
	types.VideoStageQueued:       5,
	types.VideoStageProbing:      10,
	types.VideoStageTranscribing: 25,
	types.VideoStageScenes:       40,
	types.VideoStageAnalyzing:    55,
	types.VideoStageEmbedding:    75,
	types.VideoStageIndexing:     90,
	types.VideoStageDone:         100,
}

// Notifier persists the job timeline and fans events out on the Redis bus.
// Both sinks are fail-soft: a notification failure never fails the job.
type Notifier struct {
	log    *logger.Logger
	db     *gorm.DB
	jobs   jobrepo.JobRunRepo
	events jobrepo.JobRunEventRepo
	bus    redisbus.Bus

	mu     sync.Mutex
	active map[uuid.UUID]*types.JobRun
}

// NewNotifier wires the event sinks. bus may be nil (no fan-out, timeline
// rows only).
func NewNotifier(log *logger.Logger, db *gorm.DB, jobs jobrepo.JobRunRepo, events jobrepo.JobRunEventRepo, bus redisbus.Bus) *Notifier {
	return &Notifier{
		log:    log.With("service", "JobNotifier"),
		db:     db,
		jobs:   jobs,
		events: events,
		bus:    bus,
		active: map[uuid.UUID]*types.JobRun{},
	}
}

// AttachVideoJob registers the run as the owner of a video so stage
// callbacks from the pipeline can be tied back to it. Workers attach before
// Process and detach after.
func (n *Notifier) AttachVideoJob(videoID uuid.UUID, job *types.JobRun) {
	if videoID == uuid.Nil || job == nil {
		return
	}
	n.mu.Lock()
	n.active[videoID] = job
	n.mu.Unlock()
}

func (n *Notifier) DetachVideoJob(videoID uuid.UUID) {
	n.mu.Lock()
	delete(n.active, videoID)
	n.mu.Unlock()
}

func (n *Notifier) activeJob(videoID uuid.UUID) *types.JobRun {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active[videoID]
}

// StageHook adapts the notifier to the pipeline's stage callback. Each
// transition updates the owning job row (stage + progress, unless the run
// already reached a terminal status) and emits a progress event.
func (n *Notifier) StageHook() pipeline.StageFunc {
	return func(ctx context.Context, tenantID, videoID uuid.UUID, stage string) {
		job := n.activeJob(videoID)
		if job == nil {
			// Stage fired outside a worker-owned run; nothing to update.
			n.log.Debug("stage transition without attached job", "video_id", videoID, "stage", stage)
			return
		}
		progress := stageProgress[stage]
		written, err := n.jobs.UpdateFieldsUnlessStatus(ctx, nil, job.ID, terminalStatuses(), map[string]interface{}{
			"stage":    stage,
			"progress": progress,
		})
		if err != nil {
			n.log.Warn("stage update failed", "job_id", job.ID, "stage", stage, "error", err)
		}
		if written {
			job.Stage = stage
			job.Progress = progress
		}
		n.Emit(ctx, job, types.JobEventProgress, "")
	}
}

// Emit appends a timeline row and publishes the bus event. Failures are
// logged and swallowed.
func (n *Notifier) Emit(ctx context.Context, job *types.JobRun, kind types.JobEventKind, message string) {
	if job == nil {
		return
	}
	now := time.Now()
	ev := &types.JobRunEvent{
		ID:        uuid.New(),
		JobID:     job.ID,
		TenantID:  job.TenantID,
		JobKind:   job.Kind,
		Kind:      string(kind),
		Status:    job.Status,
		Stage:     job.Stage,
		Progress:  job.Progress,
		Message:   message,
		CreatedAt: now,
	}
	if _, err := n.events.Append(ctx, nil, []*types.JobRunEvent{ev}); err != nil {
		n.log.Warn("event append failed", "job_id", job.ID, "kind", kind, "error", err)
	}
	if n.bus == nil {
		return
	}
	busEv := redisbus.JobEvent{
		JobID:    job.ID,
		TenantID: job.TenantID,
		VideoID:  job.VideoID,
		PersonID: job.PersonID,
		JobKind:  job.Kind,
		Kind:     string(kind),
		Status:   job.Status,
		Stage:    job.Stage,
		Progress: job.Progress,
		Message:  message,
		At:       now,
	}
	if err := n.bus.Publish(ctx, busEv); err != nil {
		n.log.Warn("event publish failed", "job_id", job.ID, "kind", kind, "error", err)
	}
}

func terminalStatuses() []string {
	return []string{types.JobStatusSucceeded, types.JobStatusFailed, types.JobStatusCanceled}
}
