package persons

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending = "PENDING"
	StatusReady   = "READY"
)

// Person is the read-side of the person subsystem. The query embedding
// itself lives in the vector store; the row only records whether one exists.
type Person struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`

	DisplayName       string         `gorm:"column:display_name;not null;index" json:"display_name"`
	Aliases           datatypes.JSON `gorm:"column:aliases;type:jsonb" json:"aliases,omitempty"`
	Status            string         `gorm:"column:status;not null;default:PENDING" json:"status"`
	PhotoKey          string         `gorm:"column:photo_key" json:"photo_key,omitempty"`
	PhotoCount        int            `gorm:"column:photo_count" json:"photo_count"`
	HasQueryEmbedding bool           `gorm:"column:has_query_embedding;not null;default:false" json:"has_query_embedding"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Person) TableName() string { return "person" }
