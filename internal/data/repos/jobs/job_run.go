package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

type JobRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, tenantID, jobID uuid.UUID) (*types.JobRun, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, jobIDs []uuid.UUID) ([]*types.JobRun, error)
	GetByFingerprint(ctx context.Context, tx *gorm.DB, fingerprint string) (*types.JobRun, error)
	GetLatestByVideo(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID, kind string) (*types.JobRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error
	HasRunnableForVideo(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID, kind string) (bool, error)
	HasRunnableForPerson(ctx context.Context, tx *gorm.DB, tenantID, personID uuid.UUID) (bool, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByID(ctx context.Context, tx *gorm.DB, tenantID, jobID uuid.UUID) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || jobID == uuid.Nil {
		return nil, nil
	}
	var job types.JobRun
	err := transaction.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", jobID, tenantID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRunRepo) GetByIDs(ctx context.Context, tx *gorm.DB, jobIDs []uuid.UUID) ([]*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.JobRun
	if len(jobIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", jobIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRunRepo) GetByFingerprint(ctx context.Context, tx *gorm.DB, fingerprint string) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if fingerprint == "" {
		return nil, nil
	}
	var job types.JobRun
	err := transaction.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRunRepo) GetLatestByVideo(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID, kind string) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || videoID == uuid.Nil || kind == "" {
		return nil, nil
	}
	var job types.JobRun
	err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND video_id = ? AND kind = ?", tenantID, videoID, kind).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ?", jobID).
		Updates(updates).Error
}

// UpdateFieldsUnlessStatus applies updates only while the row is not in one
// of the disallowed statuses. Workers route every status write through this
// with CANCELED disallowed, so a cancel can never be overwritten by a late
// worker update. Returns whether a row was written.
func (r *jobRunRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ?", jobID)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", jobID, types.JobStatusProcessing).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// HasRunnableForVideo reports whether a QUEUED or PROCESSING job of the
// given kind already exists for the video. Enqueue paths use it to refuse
// duplicate work before minting a new fingerprint.
func (r *jobRunRepo) HasRunnableForVideo(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID, kind string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || videoID == uuid.Nil || kind == "" {
		return false, nil
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("tenant_id = ? AND video_id = ? AND kind = ? AND status IN ?",
			tenantID, videoID, kind, []string{types.JobStatusQueued, types.JobStatusProcessing},
		).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *jobRunRepo) HasRunnableForPerson(ctx context.Context, tx *gorm.DB, tenantID, personID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || personID == uuid.Nil {
		return false, nil
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("tenant_id = ? AND person_id = ? AND status IN ?",
			tenantID, personID, []string{types.JobStatusQueued, types.JobStatusProcessing},
		).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
