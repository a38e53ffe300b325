package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobEventKind string

const (
	JobEventCreated   JobEventKind = "created"
	JobEventProgress  JobEventKind = "progress"
	JobEventFailed    JobEventKind = "failed"
	JobEventSucceeded JobEventKind = "succeeded"
	JobEventCanceled  JobEventKind = "canceled"
)

// JobRunEvent is an append-only ledger of job status/progress messages.
// This is the canonical timeline behind the SSE feed.
type JobRunEvent struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID    uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`

	JobKind   string         `gorm:"column:job_kind;not null;index" json:"job_kind"`
	Kind      string         `gorm:"column:kind;not null;index" json:"kind"`
	Status    string         `gorm:"column:status;not null;index" json:"status"`
	Stage     string         `gorm:"column:stage;index" json:"stage"`
	Progress  int            `gorm:"column:progress;not null" json:"progress"`
	Message   string         `gorm:"column:message;type:text" json:"message,omitempty"`
	Data      datatypes.JSON `gorm:"type:jsonb;column:data" json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRunEvent) TableName() string { return "job_run_event" }
