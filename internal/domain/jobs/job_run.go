package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job kinds, one asynq queue per kind.
const (
	KindIngest      = "ingest"
	KindReprocess   = "reprocess"
	KindExport      = "export"
	KindPersonPhoto = "person_photo"
)

const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusSucceeded  = "SUCCEEDED"
	StatusFailed     = "FAILED"
	StatusCanceled   = "CANCELED"
)

type JobRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Kind        string         `gorm:"column:kind;not null;index" json:"kind"`
	Fingerprint string         `gorm:"column:fingerprint;not null;uniqueIndex" json:"fingerprint"`
	VideoID     *uuid.UUID     `gorm:"type:uuid;column:video_id;index" json:"video_id,omitempty"`
	PersonID    *uuid.UUID     `gorm:"type:uuid;column:person_id;index" json:"person_id,omitempty"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Stage       string         `gorm:"column:stage;index" json:"stage"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	QueuedAt    time.Time      `gorm:"column:queued_at;not null;index" json:"queued_at"`
	StartedAt   *time.Time     `gorm:"column:started_at;index" json:"started_at,omitempty"`
	FinishedAt  *time.Time     `gorm:"column:finished_at;index" json:"finished_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at;index" json:"last_error_at,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRun) TableName() string { return "job_run" }

// Terminal reports whether status is a final state that must never be
// overwritten by a late worker update.
func Terminal(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}
