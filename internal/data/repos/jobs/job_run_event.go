package jobs

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

type JobRunEventRepo interface {
	Append(ctx context.Context, tx *gorm.DB, events []*types.JobRunEvent) ([]*types.JobRunEvent, error)
	ListByJob(ctx context.Context, tx *gorm.DB, tenantID, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error)
}

type jobRunEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunEventRepo(db *gorm.DB, baseLog *logger.Logger) JobRunEventRepo {
	return &jobRunEventRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunEventRepo"),
	}
}

// Append writes progress events. The table is append-only; nothing updates
// or deletes rows outside retention jobs.
func (r *jobRunEventRepo) Append(ctx context.Context, tx *gorm.DB, events []*types.JobRunEvent) ([]*types.JobRunEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(events) == 0 {
		return []*types.JobRunEvent{}, nil
	}
	for _, ev := range events {
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
	}
	if err := transaction.WithContext(ctx).Create(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *jobRunEventRepo) ListByJob(ctx context.Context, tx *gorm.DB, tenantID, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.JobRunEvent
	if tenantID == uuid.Nil || jobID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND job_id = ?", tenantID, jobID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
