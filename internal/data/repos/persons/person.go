package persons

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

type PersonRepo interface {
	Create(ctx context.Context, tx *gorm.DB, persons []*types.Person) ([]*types.Person, error)
	GetByID(ctx context.Context, tx *gorm.DB, tenantID, personID uuid.UUID) (*types.Person, error)
	ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) ([]*types.Person, error)
	ListReady(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) ([]*types.Person, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, personID uuid.UUID, updates map[string]interface{}) error
	SoftDelete(ctx context.Context, tx *gorm.DB, tenantID, personID uuid.UUID) (bool, error)
}

type personRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPersonRepo(db *gorm.DB, baseLog *logger.Logger) PersonRepo {
	return &personRepo{
		db:  db,
		log: baseLog.With("repo", "PersonRepo"),
	}
}

func (r *personRepo) Create(ctx context.Context, tx *gorm.DB, persons []*types.Person) ([]*types.Person, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(persons) == 0 {
		return []*types.Person{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&persons).Error; err != nil {
		return nil, err
	}
	return persons, nil
}

func (r *personRepo) GetByID(ctx context.Context, tx *gorm.DB, tenantID, personID uuid.UUID) (*types.Person, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || personID == uuid.Nil {
		return nil, nil
	}
	var person types.Person
	err := transaction.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", personID, tenantID).
		First(&person).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &person, nil
}

func (r *personRepo) ListByTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) ([]*types.Person, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Person
	if tenantID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("display_name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListReady returns persons usable by the query planner: READY and with a
// query embedding present in the vector store.
func (r *personRepo) ListReady(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) ([]*types.Person, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Person
	if tenantID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND has_query_embedding = ?", tenantID, types.PersonStatusReady, true).
		Order("display_name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *personRepo) UpdateFields(ctx context.Context, tx *gorm.DB, personID uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if personID == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Person{}).
		Where("id = ?", personID).
		Updates(updates).Error
}

func (r *personRepo) SoftDelete(ctx context.Context, tx *gorm.DB, tenantID, personID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil || personID == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", personID, tenantID).
		Delete(&types.Person{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
