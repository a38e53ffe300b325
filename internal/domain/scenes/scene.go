package scenes

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Embedding channel names as stored in the sidecar.
const (
	ChannelTranscript = "transcript"
	ChannelVisual     = "visual"
	ChannelSummary    = "summary"
	ChannelClipImage  = "clip_image"
)

type Scene struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	VideoID  uuid.UUID `gorm:"type:uuid;not null;index" json:"video_id"`

	SceneIndex int     `gorm:"column:scene_index;not null;index" json:"scene_index"`
	StartS     float64 `gorm:"column:start_s;not null" json:"start_s"`
	EndS       float64 `gorm:"column:end_s;not null" json:"end_s"`

	ThumbnailKey      string         `gorm:"column:thumbnail_key" json:"thumbnail_key"`
	Transcript        string         `gorm:"column:transcript;type:text" json:"transcript"`
	HasSpeech         bool           `gorm:"column:has_speech" json:"has_speech"`
	TranscriptReason  string         `gorm:"column:transcript_reason" json:"transcript_reason,omitempty"`
	VisualSummary     string         `gorm:"column:visual_summary;type:text" json:"visual_summary"`
	VisualDescription string         `gorm:"column:visual_description;type:text" json:"visual_description"`
	MainEntities      datatypes.JSON `gorm:"column:main_entities;type:jsonb" json:"main_entities,omitempty"`
	Actions           datatypes.JSON `gorm:"column:actions;type:jsonb" json:"actions,omitempty"`
	Tags              datatypes.JSON `gorm:"column:tags;type:jsonb" json:"tags,omitempty"`
	CombinedText      string         `gorm:"column:combined_text;type:text" json:"combined_text"`
	Retrievable       bool           `gorm:"column:retrievable;not null;default:false;index" json:"retrievable"`

	EmbeddingVersion string         `gorm:"column:embedding_version;index" json:"embedding_version"`
	Keyframes        datatypes.JSON `gorm:"column:keyframes;type:jsonb" json:"keyframes,omitempty"`
	Channels         datatypes.JSON `gorm:"column:channels;type:jsonb" json:"channels,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Scene) TableName() string { return "scene" }

// ChannelEmbedding records how one embedding channel was produced. A channel
// that failed carries Error and no vector in the store.
type ChannelEmbedding struct {
	Model           string    `json:"model"`
	Dimensions      int       `json:"dimensions"`
	InputTextHash   string    `json:"input_text_hash,omitempty"`
	InputTextLength int       `json:"input_text_length,omitempty"`
	Language        string    `json:"language,omitempty"`
	Channel         string    `json:"channel"`
	GeneratedAt     time.Time `json:"generated_at"`
	LatencyMS       int64     `json:"latency_ms"`
	Error           string    `json:"error,omitempty"`
}

// Keyframe is one sampled frame with its quality measurements.
type Keyframe struct {
	TimeS       float64 `json:"time_s"`
	Brightness  float64 `json:"brightness"`
	Blur        float64 `json:"blur"`
	Score       float64 `json:"score"`
	Informative bool    `json:"informative"`
}
