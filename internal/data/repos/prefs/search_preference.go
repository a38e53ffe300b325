package prefs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

type SearchPreferenceRepo interface {
	GetByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) (*types.SearchPreference, error)
	Upsert(ctx context.Context, tx *gorm.DB, pref *types.SearchPreference) (*types.SearchPreference, error)
}

type searchPreferenceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSearchPreferenceRepo(db *gorm.DB, baseLog *logger.Logger) SearchPreferenceRepo {
	return &searchPreferenceRepo{
		db:  db,
		log: baseLog.With("repo", "SearchPreferenceRepo"),
	}
}

func (r *searchPreferenceRepo) GetByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) (*types.SearchPreference, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil {
		return nil, nil
	}
	var pref types.SearchPreference
	err := transaction.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

// Upsert writes the tenant's saved weights, one row per tenant.
func (r *searchPreferenceRepo) Upsert(ctx context.Context, tx *gorm.DB, pref *types.SearchPreference) (*types.SearchPreference, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if pref == nil || pref.TenantID == uuid.Nil {
		return nil, errors.New("search preference missing tenant_id")
	}
	if pref.ID == uuid.Nil {
		pref.ID = uuid.New()
	}
	pref.UpdatedAt = time.Now()

	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"weights", "fusion_method", "visual_mode", "updated_at"}),
		}).
		Create(pref).Error
	if err != nil {
		return nil, err
	}
	return pref, nil
}
