package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	types "github.com/heimdex/heimdex-backend/internal/domain"
)

// Task type names registered on the asynq mux, one per job kind.
const (
	TaskVideoIngest    = "video:ingest"
	TaskVideoReprocess = "video:reprocess"
	TaskVideoExport    = "video:export"
	TaskPersonPhoto    = "person:photo"
)

// Payload is the queue message. Handlers re-read every row by ID at
// execution time, so a stale payload can never resurrect deleted state.
type Payload struct {
	JobID              uuid.UUID  `json:"job_id"`
	TenantID           uuid.UUID  `json:"tenant_id"`
	VideoID            *uuid.UUID `json:"video_id,omitempty"`
	PersonID           *uuid.UUID `json:"person_id,omitempty"`
	Kind               string     `json:"kind"`
	TranscriptLanguage string     `json:"transcript_language,omitempty"`
}

type Config struct {
	Concurrency int     `yaml:"concurrency"`
	MaxRetries  int     `yaml:"max_retries"`
	MinBackoffS float64 `yaml:"min_backoff_s"`
	MaxBackoffS float64 `yaml:"max_backoff_s"`

	IngestTimeoutMinutes      int `yaml:"ingest_timeout_minutes"`
	ExportTimeoutMinutes      int `yaml:"export_timeout_minutes"`
	PersonPhotoTimeoutMinutes int `yaml:"person_photo_timeout_minutes"`
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MinBackoffS <= 0 {
		c.MinBackoffS = 30
	}
	if c.MaxBackoffS <= 0 {
		c.MaxBackoffS = 600
	}
	if c.IngestTimeoutMinutes <= 0 {
		c.IngestTimeoutMinutes = 120
	}
	if c.ExportTimeoutMinutes <= 0 {
		c.ExportTimeoutMinutes = 15
	}
	if c.PersonPhotoTimeoutMinutes <= 0 {
		c.PersonPhotoTimeoutMinutes = 5
	}
	return c
}

// retryDelay doubles from the minimum per attempt, clamped to the maximum.
func (c Config) retryDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 30 {
		n = 30
	}
	backoff := c.MinBackoffS * float64(int64(1)<<uint(n))
	if backoff > c.MaxBackoffS {
		backoff = c.MaxBackoffS
	}
	return time.Duration(backoff * float64(time.Second))
}

func (c Config) timeoutFor(kind string) time.Duration {
	switch kind {
	case types.JobKindExport:
		return time.Duration(c.ExportTimeoutMinutes) * time.Minute
	case types.JobKindPersonPhoto:
		return time.Duration(c.PersonPhotoTimeoutMinutes) * time.Minute
	default:
		return time.Duration(c.IngestTimeoutMinutes) * time.Minute
	}
}

func taskTypeFor(kind string) (string, error) {
	switch kind {
	case types.JobKindIngest:
		return TaskVideoIngest, nil
	case types.JobKindReprocess:
		return TaskVideoReprocess, nil
	case types.JobKindExport:
		return TaskVideoExport, nil
	case types.JobKindPersonPhoto:
		return TaskPersonPhoto, nil
	default:
		return "", fmt.Errorf("unknown job kind %q", kind)
	}
}

// queueFor names the asynq queue for a kind. One queue per kind so slow
// ingests never starve the short maintenance jobs.
func queueFor(kind string) string { return kind }

func queueWeights() map[string]int {
	return map[string]int{
		types.JobKindIngest:      6,
		types.JobKindReprocess:   4,
		types.JobKindExport:      2,
		types.JobKindPersonPhoto: 1,
	}
}

// mintFingerprint builds a unique per-enqueue identity. It doubles as the
// asynq task id, so the broker refuses a duplicate while the task is still
// pending or active.
func mintFingerprint(kind string, tenantID, subjectID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", kind, tenantID, subjectID, at.UnixNano())
}

// truncateError keeps persisted failure messages bounded.
func truncateError(err error, limit int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= limit {
		return msg
	}
	return msg[:limit]
}
