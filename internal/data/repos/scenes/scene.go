package scenes

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

type SceneRepo interface {
	Create(ctx context.Context, tx *gorm.DB, scenes []*types.Scene) ([]*types.Scene, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, sceneIDs []uuid.UUID) ([]*types.Scene, error)
	GetByVideo(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID) ([]*types.Scene, error)
	CountByVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (int64, error)
	DeleteByVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (int64, error)
}

type sceneRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSceneRepo(db *gorm.DB, baseLog *logger.Logger) SceneRepo {
	return &sceneRepo{
		db:  db,
		log: baseLog.With("repo", "SceneRepo"),
	}
}

func (r *sceneRepo) Create(ctx context.Context, tx *gorm.DB, scenes []*types.Scene) ([]*types.Scene, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(scenes) == 0 {
		return []*types.Scene{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&scenes).Error; err != nil {
		return nil, err
	}
	return scenes, nil
}

func (r *sceneRepo) GetByIDs(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, sceneIDs []uuid.UUID) ([]*types.Scene, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Scene
	if tenantID == uuid.Nil || len(sceneIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, sceneIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sceneRepo) GetByVideo(ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID) ([]*types.Scene, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Scene
	if tenantID == uuid.Nil || videoID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND video_id = ?", tenantID, videoID).
		Order("scene_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sceneRepo) CountByVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if videoID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Scene{}).
		Where("video_id = ?", videoID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteByVideo hard-deletes every scene of a video. Reprocess recreates
// scenes from scratch, so soft-deleted rows would only pile up.
func (r *sceneRepo) DeleteByVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if videoID == uuid.Nil {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Unscoped().
		Where("video_id = ?", videoID).
		Delete(&types.Scene{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
