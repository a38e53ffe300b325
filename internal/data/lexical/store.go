package lexical

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

// SceneDoc is the full-text mirror of a scene, keyed by scene_id. Upserts
// are idempotent on the key; deleting a video purges all of its docs.
type SceneDoc struct {
	SceneID    uuid.UUID `gorm:"type:uuid;primaryKey;column:scene_id"`
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index"`
	VideoID    uuid.UUID `gorm:"type:uuid;not null;index"`
	SceneIndex int       `gorm:"column:scene_index;not null"`
	StartS     float64   `gorm:"column:start_s;not null"`
	EndS       float64   `gorm:"column:end_s;not null"`

	Language          string         `gorm:"column:language"`
	TranscriptSegment string         `gorm:"column:transcript_segment;type:text"`
	VisualSummary     string         `gorm:"column:visual_summary;type:text"`
	VisualDescription string         `gorm:"column:visual_description;type:text"`
	CombinedText      string         `gorm:"column:combined_text;type:text"`
	Tags              datatypes.JSON `gorm:"column:tags;type:jsonb"`
	TagsText          string         `gorm:"column:tags_text;type:text"`
	ThumbnailKey      string         `gorm:"column:thumbnail_key"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (SceneDoc) TableName() string { return "lexical_scene_doc" }

// Hit is one ranked lexical result. Rank is 1-based and dense.
type Hit struct {
	SceneID uuid.UUID
	Score   float64
	Rank    int
}

type Filters struct {
	VideoID *uuid.UUID
}

type LexicalStore interface {
	EnsureIndex(ctx context.Context) error
	UpsertDoc(ctx context.Context, doc *SceneDoc) error
	BulkUpsert(ctx context.Context, docs []*SceneDoc) error
	DeleteByVideo(ctx context.Context, videoID uuid.UUID) error
	Search(ctx context.Context, tenantID uuid.UUID, query, lang string, size int, filters Filters) ([]Hit, error)
}

// Text-search configs per supported language. Korean has no stock stemmer,
// so it gets exact-token matching through the simple config.
var searchConfigs = map[string]string{
	"english": "english",
	"simple":  "simple",
}

func configForLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "ko", "kr", "korean":
		return "simple"
	default:
		return "english"
	}
}

type postgresStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresStore(db *gorm.DB, baseLog *logger.Logger) LexicalStore {
	return &postgresStore{
		db:  db,
		log: baseLog.With("store", "LexicalStore"),
	}
}

// EnsureIndex migrates the doc table and adds one stored, weighted tsvector
// column plus GIN index per configured language. Field boosts follow
// tags > transcript > visual description > combined text through the
// setweight labels A..D. Safe to re-run.
func (s *postgresStore) EnsureIndex(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&SceneDoc{}); err != nil {
		return fmt.Errorf("migrate lexical_scene_doc: %w", err)
	}

	for _, cfg := range []string{"english", "simple"} {
		column := "search_" + cfg
		alter := fmt.Sprintf(`
			ALTER TABLE lexical_scene_doc
			ADD COLUMN IF NOT EXISTS %s tsvector
			GENERATED ALWAYS AS (
				setweight(to_tsvector('%s'::regconfig, coalesce(tags_text, '')), 'A') ||
				setweight(to_tsvector('%s'::regconfig, coalesce(transcript_segment, '')), 'B') ||
				setweight(to_tsvector('%s'::regconfig, coalesce(visual_description, '') || ' ' || coalesce(visual_summary, '')), 'C') ||
				setweight(to_tsvector('%s'::regconfig, coalesce(combined_text, '')), 'D')
			) STORED;
		`, column, cfg, cfg, cfg, cfg)
		if err := s.db.WithContext(ctx).Exec(alter).Error; err != nil {
			return fmt.Errorf("add %s: %w", column, err)
		}

		index := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_lexical_scene_doc_%s
			ON lexical_scene_doc USING GIN (%s);
		`, column, column)
		if err := s.db.WithContext(ctx).Exec(index).Error; err != nil {
			return fmt.Errorf("index %s: %w", column, err)
		}
	}

	if err := s.db.WithContext(ctx).Exec(`
		CREATE INDEX IF NOT EXISTS idx_lexical_scene_doc_tenant_video
		ON lexical_scene_doc (tenant_id, video_id);
	`).Error; err != nil {
		return fmt.Errorf("index tenant_video: %w", err)
	}

	return nil
}

func (s *postgresStore) UpsertDoc(ctx context.Context, doc *SceneDoc) error {
	if doc == nil {
		return nil
	}
	return s.BulkUpsert(ctx, []*SceneDoc{doc})
}

func (s *postgresStore) BulkUpsert(ctx context.Context, docs []*SceneDoc) error {
	if len(docs) == 0 {
		return nil
	}
	now := time.Now()
	for _, d := range docs {
		if d.SceneID == uuid.Nil {
			return fmt.Errorf("lexical doc missing scene_id")
		}
		if d.TenantID == uuid.Nil || d.VideoID == uuid.Nil {
			return fmt.Errorf("lexical doc %s missing tenant_id or video_id", d.SceneID)
		}
		d.UpdatedAt = now
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "scene_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tenant_id", "video_id", "scene_index", "start_s", "end_s",
				"language", "transcript_segment", "visual_summary",
				"visual_description", "combined_text", "tags", "tags_text",
				"thumbnail_key", "updated_at",
			}),
		}).
		Create(&docs).Error
}

func (s *postgresStore) DeleteByVideo(ctx context.Context, videoID uuid.UUID) error {
	if videoID == uuid.Nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Delete(&SceneDoc{}).Error
}

// Search ranks docs with ts_rank over the language's weighted tsvector.
// The weights array maps the D,C,B,A labels, so combined text counts least
// and tags count most. Ties fall back to scene_id so ordering is stable.
func (s *postgresStore) Search(ctx context.Context, tenantID uuid.UUID, query, lang string, size int, filters Filters) ([]Hit, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}
	if size <= 0 || size > 200 {
		size = 50
	}

	cfg := configForLanguage(lang)
	if _, ok := searchConfigs[cfg]; !ok {
		cfg = "english"
	}
	column := "search_" + cfg

	where := "tenant_id = ?"
	args := []any{tenantID}
	if filters.VideoID != nil && *filters.VideoID != uuid.Nil {
		where += " AND video_id = ?"
		args = append(args, *filters.VideoID)
	}

	sql := fmt.Sprintf(`
		SELECT scene_id,
		       ts_rank('{0.2, 0.4, 0.7, 1.0}'::float4[], %s, plainto_tsquery(?::regconfig, ?)) AS score
		FROM lexical_scene_doc
		WHERE %s
			AND %s @@ plainto_tsquery(?::regconfig, ?)
		ORDER BY score DESC, scene_id ASC
		LIMIT %d;
	`, column, where, column, size)

	fullArgs := append([]any{cfg, query}, args...)
	fullArgs = append(fullArgs, cfg, query)

	type row struct {
		SceneID uuid.UUID `gorm:"column:scene_id"`
		Score   float64   `gorm:"column:score"`
	}
	var rows []row
	if err := s.db.WithContext(ctx).Raw(sql, fullArgs...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Hit, 0, len(rows))
	for i, r := range rows {
		out = append(out, Hit{SceneID: r.SceneID, Score: r.Score, Rank: i + 1})
	}
	return out, nil
}

// DocFromScene flattens a scene row into its lexical mirror. The language
// picks the analyzer subfield used at search time.
func DocFromScene(scene *types.Scene, language string) *SceneDoc {
	if scene == nil {
		return nil
	}
	return &SceneDoc{
		SceneID:           scene.ID,
		TenantID:          scene.TenantID,
		VideoID:           scene.VideoID,
		SceneIndex:        scene.SceneIndex,
		StartS:            scene.StartS,
		EndS:              scene.EndS,
		Language:          language,
		TranscriptSegment: scene.Transcript,
		VisualSummary:     scene.VisualSummary,
		VisualDescription: scene.VisualDescription,
		CombinedText:      scene.CombinedText,
		Tags:              scene.Tags,
		TagsText:          flattenTags(scene.Tags),
		ThumbnailKey:      scene.ThumbnailKey,
		CreatedAt:         scene.CreatedAt,
	}
}

func flattenTags(raw datatypes.JSON) string {
	if len(raw) == 0 {
		return ""
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return ""
	}
	return strings.Join(tags, " ")
}
