package persons

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

type PersonAppearanceRepo interface {
	Create(ctx context.Context, tx *gorm.DB, appearances []*types.PersonAppearance) ([]*types.PersonAppearance, error)
	ListByPerson(ctx context.Context, tx *gorm.DB, tenantID, personID uuid.UUID, limit int) ([]*types.PersonAppearance, error)
	DeleteByVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (int64, error)
	DeleteByPerson(ctx context.Context, tx *gorm.DB, personID uuid.UUID) (int64, error)
}

type personAppearanceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPersonAppearanceRepo(db *gorm.DB, baseLog *logger.Logger) PersonAppearanceRepo {
	return &personAppearanceRepo{
		db:  db,
		log: baseLog.With("repo", "PersonAppearanceRepo"),
	}
}

func (r *personAppearanceRepo) Create(ctx context.Context, tx *gorm.DB, appearances []*types.PersonAppearance) ([]*types.PersonAppearance, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(appearances) == 0 {
		return []*types.PersonAppearance{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&appearances).Error; err != nil {
		return nil, err
	}
	return appearances, nil
}

func (r *personAppearanceRepo) ListByPerson(ctx context.Context, tx *gorm.DB, tenantID, personID uuid.UUID, limit int) ([]*types.PersonAppearance, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PersonAppearance
	if tenantID == uuid.Nil || personID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND person_id = ?", tenantID, personID).
		Order("similarity DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *personAppearanceRepo) DeleteByVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if videoID == uuid.Nil {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("video_id = ?", videoID).
		Delete(&types.PersonAppearance{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *personAppearanceRepo) DeleteByPerson(ctx context.Context, tx *gorm.DB, personID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if personID == uuid.Nil {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("person_id = ?", personID).
		Delete(&types.PersonAppearance{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
