package prefs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SearchPreference holds a tenant's saved channel weights and visual mode.
// Weights is a JSON object of channel name to weight, validated and
// normalized at resolve time, never at rest.
type SearchPreference struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"tenant_id"`

	Weights      datatypes.JSON `gorm:"column:weights;type:jsonb" json:"weights,omitempty"`
	FusionMethod string         `gorm:"column:fusion_method" json:"fusion_method,omitempty"`
	VisualMode   string         `gorm:"column:visual_mode" json:"visual_mode,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (SearchPreference) TableName() string { return "search_preference" }
