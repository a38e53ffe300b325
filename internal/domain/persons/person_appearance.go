package persons

import (
	"time"

	"github.com/google/uuid"
)

type PersonAppearance struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	PersonID uuid.UUID `gorm:"type:uuid;not null;index" json:"person_id"`
	Person   *Person   `gorm:"constraint:OnDelete:CASCADE;foreignKey:PersonID;references:ID" json:"person,omitempty"`
	SceneID  uuid.UUID `gorm:"type:uuid;not null;index" json:"scene_id"`
	VideoID  uuid.UUID `gorm:"type:uuid;not null;index" json:"video_id"`

	Similarity float64 `gorm:"column:similarity" json:"similarity"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (PersonAppearance) TableName() string { return "person_appearance" }
