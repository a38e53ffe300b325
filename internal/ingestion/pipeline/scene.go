package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/heimdex/heimdex-backend/internal/data/lexical"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/ingestion/embedder"
	"github.com/heimdex/heimdex-backend/internal/ingestion/framequality"
	"github.com/heimdex/heimdex-backend/internal/ingestion/scenedetect"
	"github.com/heimdex/heimdex-backend/internal/ingestion/transcript"
	"github.com/heimdex/heimdex-backend/internal/platform/gcs"
	"github.com/heimdex/heimdex-backend/internal/platform/openai"
	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
	"github.com/heimdex/heimdex-backend/internal/platform/whisper"
)

// sceneDraft accumulates one scene's state across the analysis and
// embedding passes before it becomes a row, a vector point and a doc.
type sceneDraft struct {
	interval scenedetect.Interval

	frames     []framequality.Frame
	ranked     []framequality.Frame
	transcript string
	noSpeech   string

	analysis   openai.VisualAnalysis
	analyzed   bool
	visualNote string
	tags       []string
	summary    string

	combined     string
	embed        embedder.Result
	thumbnailKey string
	retrievable  bool

	warnings []string
}

type visualDecision struct {
	analyze bool
	reason  string
}

// decideVisual applies the per-scene visual-analysis policy. Short scenes
// already covered by a rich transcript skip the model call; scenes without
// a meaningful transcript lean on visuals as their only signal.
func decideVisual(cfg VisualSemanticsConfig, analyzerAvailable bool, informativeFrames, transcriptChars int, sceneDurationS float64) visualDecision {
	if !cfg.Enabled || !analyzerAvailable {
		return visualDecision{reason: "visuals_disabled"}
	}
	if informativeFrames == 0 {
		return visualDecision{reason: "no_informative_frames"}
	}
	meaningful := transcriptChars >= cfg.TranscriptThreshold
	if meaningful && sceneDurationS < cfg.MinDurationS {
		return visualDecision{reason: "short_scene_rich_transcript"}
	}
	if !meaningful && cfg.ForceOnNoTranscript {
		return visualDecision{analyze: true, reason: "no_transcript_forced"}
	}
	return visualDecision{analyze: true, reason: "default"}
}

func (s *service) analyzeScene(
	ctx context.Context,
	video *types.Video,
	localPath, workDir string,
	iv scenedetect.Interval,
	segments []whisper.Segment,
	hasTranscript bool,
	noSpeechReason string,
	lang string,
) (*sceneDraft, error) {
	draft := &sceneDraft{interval: iv}

	sceneDir := filepath.Join(workDir, fmt.Sprintf("scene_%03d", iv.Index))
	if err := os.MkdirAll(sceneDir, 0o755); err != nil {
		return nil, fmt.Errorf("scene %d workdir: %w", iv.Index, err)
	}

	frames, err := s.ranker.MeasureFrames(ctx, localPath, iv.StartS, iv.EndS, sceneDir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		draft.warnings = append(draft.warnings, fmt.Sprintf("scene %d: frame extraction failed: %v", iv.Index, err))
	}
	draft.frames = frames
	draft.ranked = framequality.RankedFrames(frames)

	if hasTranscript {
		draft.transcript = transcript.Align(segments, iv.StartS, iv.EndS, s.cfg.TranscriptMinChars, s.cfg.TranscriptPadS, video.DurationS)
		if draft.transcript == "" {
			draft.noSpeech = "no_segment_overlap"
		}
	} else {
		draft.noSpeech = noSpeechReason
	}

	decision := decideVisual(
		s.cfg.VisualSemantics,
		s.analyzer != nil,
		len(draft.ranked),
		utf8.RuneCountInString(draft.transcript),
		iv.EndS-iv.StartS,
	)
	draft.visualNote = decision.reason
	if !decision.analyze {
		return draft, nil
	}

	attempts := 1 + s.cfg.VisualSemantics.MaxFrameRetries
	if attempts > len(draft.ranked) {
		attempts = len(draft.ranked)
	}
	for i := 0; i < attempts; i++ {
		va, err := s.analyzer.Analyze(ctx, draft.ranked[i].Path, draft.transcript, lang)
		if err != nil {
			return nil, err
		}
		if va.Status == openai.AnalysisStatusOK {
			draft.analysis = va
			draft.analyzed = true
			break
		}
		if va.ErrorTag != "" {
			draft.visualNote = va.ErrorTag
		} else {
			draft.visualNote = "no_content"
		}
	}
	if draft.analyzed {
		draft.tags = normalizeTags(append(append([]string{}, draft.analysis.MainEntities...), draft.analysis.Actions...))
	}
	return draft, nil
}

// embedScene builds the combined text, runs every embedding channel, and
// uploads the scene thumbnail. A scene where every channel came back null
// stays stored but is not retrievable.
func (s *service) embedScene(ctx context.Context, video *types.Video, draft *sceneDraft, lang string) error {
	if draft.analyzed {
		draft.summary = visualSummary(draft.analysis.MainEntities, draft.analysis.Actions)
	}
	draft.combined = combinedText(lang, draft.transcript, draft.analysis.Description, video.Filename)

	bestFramePath := ""
	if best, ok := framequality.BestFrame(draft.frames); ok {
		bestFramePath = best.Path
	}

	res, err := s.embed.EmbedScene(ctx, embedder.SceneText{
		Transcript:  draft.transcript,
		Description: draft.analysis.Description,
		Summary:     draft.summary,
		Tags:        draft.tags,
		Language:    lang,
	}, bestFramePath)
	if err != nil {
		return err
	}
	draft.embed = res
	draft.retrievable = len(res.Vectors) > 0
	if !draft.retrievable {
		draft.combined = "no content"
		draft.warnings = append(draft.warnings, fmt.Sprintf("scene %d: no embedding channel produced a vector", draft.interval.Index))
	}

	if bestFramePath != "" {
		key := gcs.SceneThumbnailKey(video.TenantID.String(), video.ID.String(), draft.interval.Index)
		if err := s.uploadThumbnail(ctx, bestFramePath, key); err != nil {
			if ctx.Err() != nil {
				return err
			}
			draft.warnings = append(draft.warnings, fmt.Sprintf("scene %d: thumbnail upload failed: %v", draft.interval.Index, err))
		} else {
			draft.thumbnailKey = key
		}
	}
	return nil
}

func (s *service) uploadThumbnail(ctx context.Context, framePath, key string) error {
	f, err := os.Open(framePath)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.store.Upload(ctx, key, f, gcs.ContentTypeForKey(key))
}

// assembleScenes turns finished drafts into scene rows (all of them),
// vector points and lexical docs (retrievable ones only), ordered by
// scene index.
func (s *service) assembleScenes(video *types.Video, drafts []*sceneDraft, lang string) ([]*types.Scene, []vectorstore.ScenePoint, []*lexical.SceneDoc, bool, error) {
	rows := make([]*types.Scene, 0, len(drafts))
	points := make([]vectorstore.ScenePoint, 0, len(drafts))
	docs := make([]*lexical.SceneDoc, 0, len(drafts))
	richSemantics := false

	for _, draft := range drafts {
		if draft == nil {
			return nil, nil, nil, false, fmt.Errorf("missing scene draft")
		}
		row := &types.Scene{
			ID:                uuid.New(),
			TenantID:          video.TenantID,
			VideoID:           video.ID,
			SceneIndex:        draft.interval.Index,
			StartS:            draft.interval.StartS,
			EndS:              draft.interval.EndS,
			ThumbnailKey:      draft.thumbnailKey,
			Transcript:        draft.transcript,
			HasSpeech:         draft.transcript != "",
			TranscriptReason:  draft.noSpeech,
			VisualDescription: draft.analysis.Description,
			CombinedText:      draft.combined,
			Retrievable:       draft.retrievable,
			EmbeddingVersion:  s.embed.Version(),
		}
		if draft.analyzed {
			row.VisualSummary = draft.summary
			row.MainEntities = marshalJSON(draft.analysis.MainEntities)
			row.Actions = marshalJSON(draft.analysis.Actions)
			row.Tags = marshalJSON(draft.tags)
			richSemantics = true
		}
		row.Keyframes = marshalJSON(keyframeMeta(draft.frames))
		row.Channels = marshalJSON(draft.embed.Metadata)
		rows = append(rows, row)

		if !draft.retrievable {
			continue
		}
		points = append(points, vectorstore.ScenePoint{
			SceneID:    row.ID.String(),
			TenantID:   video.TenantID.String(),
			VideoID:    video.ID.String(),
			SceneIndex: row.SceneIndex,
			StartS:     row.StartS,
			EndS:       row.EndS,
			Vectors:    draft.embed.Vectors,
			Payload: map[string]any{
				"thumbnail_key": row.ThumbnailKey,
				"visual_note":   draft.visualNote,
			},
		})
		docs = append(docs, lexical.DocFromScene(row, lang))
	}
	return rows, points, docs, richSemantics, nil
}

func keyframeMeta(frames []framequality.Frame) []types.Keyframe {
	out := make([]types.Keyframe, 0, len(frames))
	for _, f := range frames {
		out = append(out, types.Keyframe{
			TimeS:       f.TimeS,
			Brightness:  f.Brightness,
			Blur:        f.Blur,
			Score:       f.Score,
			Informative: f.Informative,
		})
	}
	return out
}

func marshalJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
