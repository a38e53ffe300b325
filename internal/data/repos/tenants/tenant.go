package tenants

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

type TenantRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tenants []*types.Tenant) ([]*types.Tenant, error)
	GetByID(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) (*types.Tenant, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Tenant, error)
	UpdateAPIKeyHash(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, hash string) error
}

type tenantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTenantRepo(db *gorm.DB, baseLog *logger.Logger) TenantRepo {
	return &tenantRepo{
		db:  db,
		log: baseLog.With("repo", "TenantRepo"),
	}
}

func (r *tenantRepo) Create(ctx context.Context, tx *gorm.DB, tenants []*types.Tenant) ([]*types.Tenant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tenants) == 0 {
		return []*types.Tenant{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *tenantRepo) GetByID(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) (*types.Tenant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil {
		return nil, nil
	}
	var tenant types.Tenant
	err := transaction.WithContext(ctx).
		Where("id = ?", tenantID).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *tenantRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Tenant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	var tenant types.Tenant
	err := transaction.WithContext(ctx).
		Where("name = ?", name).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *tenantRepo) UpdateAPIKeyHash(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, hash string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if tenantID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Tenant{}).
		Where("id = ?", tenantID).
		Update("api_key_hash", hash).Error
}
