package videos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

type VideoRepo interface {
	Create(ctx context.Context, tx *gorm.DB, videos []*types.Video) ([]*types.Video, error)
	GetByID(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID) (*types.Video, error)
	ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, status string, limit, offset int) ([]*types.Video, int64, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, videoID uuid.UUID, updates map[string]interface{}) error
	ClaimForProcessing(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID, staleAfter time.Duration) (bool, error)
	ResetForReprocess(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID) (bool, error)
	SoftDelete(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID) (bool, error)
}

type videoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoRepo(db *gorm.DB, baseLog *logger.Logger) VideoRepo {
	return &videoRepo{
		db:  db,
		log: baseLog.With("repo", "VideoRepo"),
	}
}

func (r *videoRepo) Create(ctx context.Context, tx *gorm.DB, videos []*types.Video) ([]*types.Video, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(videos) == 0 {
		return []*types.Video{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *videoRepo) GetByID(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID) (*types.Video, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || videoID == uuid.Nil {
		return nil, nil
	}
	var video types.Video
	err := transaction.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", videoID, tenantID).
		First(&video).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &video, nil
}

func (r *videoRepo) ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, status string, limit, offset int) ([]*types.Video, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil {
		return []*types.Video{}, 0, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := transaction.WithContext(ctx).
		Model(&types.Video{}).
		Where("tenant_id = ?", tenantID)
	if s := strings.TrimSpace(status); s != "" {
		q = q.Where("status = ?", s)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []*types.Video
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *videoRepo) UpdateFields(ctx context.Context, tx *gorm.DB, videoID uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if videoID == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Video{}).
		Where("id = ?", videoID).
		Updates(updates).Error
}

// ClaimForProcessing flips the row to PROCESSING with a fresh queued_at.
// A second delivery of the same job sees a fresh PROCESSING row, gets
// claimed=false, and acks without running. A run whose queued_at is older
// than staleAfter is treated as abandoned and can be re-claimed.
func (r *videoRepo) ClaimForProcessing(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID, staleAfter time.Duration) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || videoID == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	staleCutoff := now.Add(-staleAfter)

	res := transaction.WithContext(ctx).
		Model(&types.Video{}).
		Where("id = ? AND tenant_id = ?", videoID, tenantID).
		Where("status <> ? OR queued_at IS NULL OR queued_at < ?", types.VideoStatusProcessing, staleCutoff).
		Updates(map[string]interface{}{
			"status":           types.VideoStatusProcessing,
			"processing_stage": types.VideoStageQueued,
			"error":            "",
			"queued_at":        now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ResetForReprocess rewinds the row to PENDING and clears every field the
// sidecar builder owns. Scene rows are deleted by the caller in the same
// transaction so the reset is atomic.
func (r *videoRepo) ResetForReprocess(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || videoID == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.Video{}).
		Where("id = ? AND tenant_id = ?", videoID, tenantID).
		Updates(map[string]interface{}{
			"status":              types.VideoStatusPending,
			"processing_stage":    "",
			"error":               "",
			"queued_at":           nil,
			"transcript_language": "",
			"full_transcript":     "",
			"rich_semantics":      false,
			"scene_count":         0,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *videoRepo) SoftDelete(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || videoID == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", videoID, tenantID).
		Delete(&types.Video{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
