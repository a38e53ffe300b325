package videos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusReady      = "READY"
	StatusFailed     = "FAILED"
)

// Processing stages reported while a video moves through the sidecar builder.
const (
	StageQueued       = "queued"
	StageProbing      = "probing"
	StageScenes       = "scene_detection"
	StageTranscribing = "transcribing"
	StageAnalyzing    = "visual_analysis"
	StageEmbedding    = "embedding"
	StageIndexing     = "indexing"
	StageDone         = "done"
)

type Video struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`

	Filename   string  `gorm:"column:filename;not null" json:"filename"`
	Ext        string  `gorm:"column:ext;not null" json:"ext"`
	StorageKey string  `gorm:"column:storage_key;not null;index" json:"storage_key"`
	PosterKey  string  `gorm:"column:poster_key" json:"poster_key"`
	DurationS  float64 `gorm:"column:duration_s" json:"duration_s"`
	Width      int     `gorm:"column:width" json:"width"`
	Height     int     `gorm:"column:height" json:"height"`
	FrameRate  float64 `gorm:"column:frame_rate" json:"frame_rate"`

	Status          string     `gorm:"column:status;not null;default:PENDING;index" json:"status"`
	ProcessingStage string     `gorm:"column:processing_stage" json:"processing_stage,omitempty"`
	Error           string     `gorm:"column:error" json:"error,omitempty"`
	QueuedAt        *time.Time `gorm:"column:queued_at" json:"queued_at,omitempty"`

	Language           string         `gorm:"column:language" json:"language"`
	TranscriptLanguage string         `gorm:"column:transcript_language" json:"transcript_language,omitempty"`
	FullTranscript     string         `gorm:"column:full_transcript;type:text" json:"full_transcript,omitempty"`
	RichSemantics      bool           `gorm:"column:rich_semantics" json:"rich_semantics"`
	SceneCount         int            `gorm:"column:scene_count" json:"scene_count"`
	Metadata           datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Video) TableName() string { return "video" }
