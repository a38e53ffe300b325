package services

import (
	"context"

	"github.com/google/uuid"

	jobrepo "github.com/heimdex/heimdex-backend/internal/data/repos/jobs"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/jobs"
	perrors "github.com/heimdex/heimdex-backend/internal/pkg/errors"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

const maxJobEventsPage = 200

// JobService is the read/cancel surface over job runs. Enqueueing lives on
// the services that own the subject (video upload, reprocess, persons).
type JobService interface {
	Get(ctx context.Context, tenantID, jobID uuid.UUID) (*types.JobRun, error)
	GetWithEvents(ctx context.Context, tenantID, jobID uuid.UUID, eventLimit int) (*types.JobRun, []*types.JobRunEvent, error)
	LatestForVideo(ctx context.Context, tenantID, videoID uuid.UUID, kind string) (*types.JobRun, error)
	Cancel(ctx context.Context, tenantID, jobID uuid.UUID) (*types.JobRun, error)
}

type jobService struct {
	log      *logger.Logger
	jobs     jobrepo.JobRunRepo
	events   jobrepo.JobRunEventRepo
	enqueuer jobs.Enqueuer
}

func NewJobService(log *logger.Logger, jobRuns jobrepo.JobRunRepo, events jobrepo.JobRunEventRepo, enqueuer jobs.Enqueuer) JobService {
	return &jobService{
		log:      log.With("service", "JobService"),
		jobs:     jobRuns,
		events:   events,
		enqueuer: enqueuer,
	}
}

func (s *jobService) Get(ctx context.Context, tenantID, jobID uuid.UUID) (*types.JobRun, error) {
	run, err := s.jobs.GetByID(ctx, nil, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, perrors.NotFoundf("job %s", jobID)
	}
	return run, nil
}

func (s *jobService) GetWithEvents(ctx context.Context, tenantID, jobID uuid.UUID, eventLimit int) (*types.JobRun, []*types.JobRunEvent, error) {
	run, err := s.Get(ctx, tenantID, jobID)
	if err != nil {
		return nil, nil, err
	}
	if eventLimit <= 0 || eventLimit > maxJobEventsPage {
		eventLimit = maxJobEventsPage
	}
	events, err := s.events.ListByJob(ctx, nil, tenantID, jobID, eventLimit)
	if err != nil {
		return nil, nil, err
	}
	return run, events, nil
}

func (s *jobService) LatestForVideo(ctx context.Context, tenantID, videoID uuid.UUID, kind string) (*types.JobRun, error) {
	switch kind {
	case types.JobKindIngest, types.JobKindReprocess, types.JobKindExport:
	default:
		return nil, perrors.Invalid("unknown job kind %q", kind)
	}
	return s.jobs.GetLatestByVideo(ctx, nil, tenantID, videoID, kind)
}

func (s *jobService) Cancel(ctx context.Context, tenantID, jobID uuid.UUID) (*types.JobRun, error) {
	run, err := s.enqueuer.Cancel(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("job canceled", "job_id", jobID, "tenant_id", tenantID)
	return run, nil
}
