package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/heimdex/heimdex-backend/internal/data/lexical"
	scenerepo "github.com/heimdex/heimdex-backend/internal/data/repos/scenes"
	videorepo "github.com/heimdex/heimdex-backend/internal/data/repos/videos"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/ingestion/embedder"
	"github.com/heimdex/heimdex-backend/internal/ingestion/framequality"
	"github.com/heimdex/heimdex-backend/internal/ingestion/scenedetect"
	"github.com/heimdex/heimdex-backend/internal/ingestion/transcript"
	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/platform/gcs"
	"github.com/heimdex/heimdex-backend/internal/platform/localmedia"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/openai"
	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
	"github.com/heimdex/heimdex-backend/internal/platform/whisper"
)

const maxErrorChars = 500

type VisualSemanticsConfig struct {
	Enabled             bool    `yaml:"enabled"`
	MinDurationS        float64 `yaml:"min_duration_s"`
	TranscriptThreshold int     `yaml:"transcript_threshold"`
	ForceOnNoTranscript bool    `yaml:"force_on_no_transcript"`
	MaxFrameRetries     int     `yaml:"max_frame_retries"`
}

type Config struct {
	MaxSceneWorkers    int     `yaml:"max_scene_workers"`
	ThumbnailWidth     int     `yaml:"thumbnail_width"`
	TranscriptMinChars int     `yaml:"transcript_min_chars"`
	TranscriptPadS     float64 `yaml:"transcript_pad_s"`
	StaleClaimMinutes  int     `yaml:"stale_claim_minutes"`

	VisualSemantics VisualSemanticsConfig `yaml:"visual_semantics"`
	Gate            transcript.GateConfig `yaml:"transcript_gate"`
}

func (c Config) withDefaults() Config {
	if c.MaxSceneWorkers <= 0 {
		c.MaxSceneWorkers = 4
	}
	if c.ThumbnailWidth <= 0 {
		c.ThumbnailWidth = 640
	}
	if c.TranscriptMinChars <= 0 {
		c.TranscriptMinChars = 20
	}
	if c.TranscriptPadS < 0 {
		c.TranscriptPadS = 0
	}
	if c.TranscriptPadS == 0 {
		c.TranscriptPadS = 1.5
	}
	if c.StaleClaimMinutes <= 0 {
		c.StaleClaimMinutes = 120
	}
	if c.VisualSemantics.MinDurationS <= 0 {
		c.VisualSemantics.MinDurationS = 4.0
	}
	if c.VisualSemantics.TranscriptThreshold <= 0 {
		c.VisualSemantics.TranscriptThreshold = 80
	}
	if c.VisualSemantics.MaxFrameRetries < 0 {
		c.VisualSemantics.MaxFrameRetries = 0
	}
	return c
}

// StageFunc is called after every processing-stage transition. The jobs
// layer publishes these to subscribers; nil is fine.
type StageFunc func(ctx context.Context, tenantID, videoID uuid.UUID, stage string)

// SidecarBuilder turns one uploaded video into its searchable sidecar:
// scene rows, per-channel vectors, and lexical docs.
type SidecarBuilder interface {
	Process(ctx context.Context, tenantID, videoID uuid.UUID) error
}

type service struct {
	db  *gorm.DB
	log *logger.Logger
	cfg Config

	videoRepo videorepo.VideoRepo
	sceneRepo scenerepo.SceneRepo

	store       gcs.ObjectStore
	media       localmedia.Tools
	detector    scenedetect.Detector
	ranker      framequality.Ranker
	analyzer    openai.VisualAnalyzer
	transcriber whisper.Transcriber
	embed       embedder.Embedder
	vectors     vectorstore.VectorStore
	lexical     lexical.LexicalStore

	onStage StageFunc
}

// NewSidecarBuilder wires the ingestion pipeline. analyzer, transcriber and
// onStage may be nil; the matching steps are skipped.
func NewSidecarBuilder(
	db *gorm.DB,
	log *logger.Logger,
	cfg Config,
	videoRepo videorepo.VideoRepo,
	sceneRepo scenerepo.SceneRepo,
	store gcs.ObjectStore,
	media localmedia.Tools,
	detector scenedetect.Detector,
	ranker framequality.Ranker,
	analyzer openai.VisualAnalyzer,
	transcriber whisper.Transcriber,
	embed embedder.Embedder,
	vectors vectorstore.VectorStore,
	lexicalStore lexical.LexicalStore,
	onStage StageFunc,
) SidecarBuilder {
	return &service{
		db:          db,
		log:         log.With("service", "SidecarBuilder"),
		cfg:         cfg.withDefaults(),
		videoRepo:   videoRepo,
		sceneRepo:   sceneRepo,
		store:       store,
		media:       media,
		detector:    detector,
		ranker:      ranker,
		analyzer:    analyzer,
		transcriber: transcriber,
		embed:       embed,
		vectors:     vectors,
		lexical:     lexicalStore,
		onStage:     onStage,
	}
}

func (s *service) Process(ctx context.Context, tenantID, videoID uuid.UUID) error {
	ctx = ctxutil.Default(ctx)

	video, err := s.videoRepo.GetByID(ctx, nil, tenantID, videoID)
	if err != nil {
		return fmt.Errorf("load video: %w", err)
	}
	if video == nil {
		return fmt.Errorf("video %s not found for tenant %s", videoID, tenantID)
	}

	staleAfter := time.Duration(s.cfg.StaleClaimMinutes) * time.Minute
	claimed, err := s.videoRepo.ClaimForProcessing(ctx, nil, tenantID, videoID, staleAfter)
	if err != nil {
		return fmt.Errorf("claim video: %w", err)
	}
	if !claimed {
		s.log.Info("video already claimed, skipping", "video_id", videoID)
		return nil
	}
	s.notifyStage(ctx, video, types.VideoStageQueued)

	if err := s.run(ctx, video); err != nil {
		s.failVideo(context.WithoutCancel(ctx), video, err)
		return err
	}
	return nil
}

func (s *service) run(ctx context.Context, video *types.Video) error {
	started := time.Now()
	var warnings []string

	if s.media != nil {
		if err := s.media.AssertReady(ctx); err != nil {
			return fmt.Errorf("media tools not ready: %w", err)
		}
	}

	// Rerun-safe: drop whatever a previous attempt left behind.
	s.cleanupPartial(ctx, video)

	workDir, cleanupDir, err := s.media.TempDir(ctx, "sidecar_")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer cleanupDir()

	// probing
	s.setStage(ctx, video, types.VideoStageProbing)
	localPath, err := s.downloadSource(ctx, video, workDir)
	if err != nil {
		return fmt.Errorf("download source: %w", err)
	}
	probe, err := s.media.Probe(ctx, localPath)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if probe.DurationS <= 0 {
		return fmt.Errorf("unreadable video: non-positive duration")
	}
	if err := s.videoRepo.UpdateFields(ctx, nil, video.ID, map[string]interface{}{
		"duration_s": probe.DurationS,
		"width":      probe.Width,
		"height":     probe.Height,
		"frame_rate": probe.FrameRate,
	}); err != nil {
		return fmt.Errorf("persist probe result: %w", err)
	}
	video.DurationS = probe.DurationS
	video.Width = probe.Width
	video.Height = probe.Height
	video.FrameRate = probe.FrameRate

	if warn := s.uploadPoster(ctx, video, localPath, workDir); warn != "" {
		warnings = append(warnings, warn)
	}

	// transcription
	var segments []whisper.Segment
	hasTranscript := false
	transcriptReason := ""
	if probe.HasAudio && s.transcriber != nil {
		s.setStage(ctx, video, types.VideoStageTranscribing)
		tr, gate, terr := s.transcribe(ctx, video, localPath, workDir)
		if terr != nil {
			if ctx.Err() != nil {
				return terr
			}
			transcriptReason = "transcription_failed"
			warnings = append(warnings, "transcription failed: "+terr.Error())
		} else {
			transcriptReason = gate.Reason
			if gate.HasSpeech {
				hasTranscript = true
				segments = tr.Segments
				updates := map[string]interface{}{
					"full_transcript": transcriptText(tr),
				}
				if lang := strings.TrimSpace(tr.Language); lang != "" {
					updates["transcript_language"] = lang
					video.TranscriptLanguage = lang
				}
				if err := s.videoRepo.UpdateFields(ctx, nil, video.ID, updates); err != nil {
					return fmt.Errorf("persist transcript: %w", err)
				}
			} else {
				warnings = append(warnings, "transcript rejected: "+gate.Reason)
			}
		}
	} else if !probe.HasAudio {
		transcriptReason = "no_audio_stream"
	} else {
		transcriptReason = "transcription_disabled"
	}

	// scene detection
	s.setStage(ctx, video, types.VideoStageScenes)
	src := scenedetect.Source{
		LocalPath: localPath,
		GCSURI:    s.store.GCSURI(video.StorageKey),
	}
	intervals, strategy, err := s.detector.Detect(ctx, src, video.DurationS)
	if err != nil {
		return fmt.Errorf("scene detection: %w", err)
	}
	if len(intervals) == 0 {
		return fmt.Errorf("scene detection produced no scenes")
	}
	s.log.Info("scenes detected",
		"video_id", video.ID,
		"count", len(intervals),
		"strategy", strategy)

	lang := effectiveLanguage(video)

	// visual analysis + transcript alignment, bounded per-scene
	s.setStage(ctx, video, types.VideoStageAnalyzing)
	drafts := make([]*sceneDraft, len(intervals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxSceneWorkers)
	for i, iv := range intervals {
		i, iv := i, iv
		g.Go(func() error {
			draft, err := s.analyzeScene(gctx, video, localPath, workDir, iv, segments, hasTranscript, transcriptReason, lang)
			if err != nil {
				return err
			}
			drafts[i] = draft
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("scene analysis: %w", err)
	}

	// embedding + thumbnail upload
	s.setStage(ctx, video, types.VideoStageEmbedding)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxSceneWorkers)
	for _, draft := range drafts {
		draft := draft
		g.Go(func() error {
			return s.embedScene(gctx, video, draft, lang)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("scene embedding: %w", err)
	}

	// indexing
	s.setStage(ctx, video, types.VideoStageIndexing)
	rows, points, docs, richSemantics, err := s.assembleScenes(video, drafts, lang)
	if err != nil {
		return fmt.Errorf("assemble scenes: %w", err)
	}
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		_, err := s.sceneRepo.Create(ctx, tx, rows)
		return err
	}); err != nil {
		return fmt.Errorf("persist scenes: %w", err)
	}
	for _, point := range points {
		if err := s.vectors.UpsertScene(ctx, point); err != nil {
			return fmt.Errorf("upsert vectors for scene %s: %w", point.SceneID, err)
		}
	}
	if err := s.lexical.BulkUpsert(ctx, docs); err != nil {
		return fmt.Errorf("upsert lexical docs: %w", err)
	}

	for _, draft := range drafts {
		warnings = append(warnings, draft.warnings...)
	}
	meta := runMetadata(strategy, transcriptReason, warnings, time.Since(started))
	if err := s.videoRepo.UpdateFields(ctx, nil, video.ID, map[string]interface{}{
		"status":           types.VideoStatusReady,
		"processing_stage": types.VideoStageDone,
		"error":            "",
		"scene_count":      len(rows),
		"rich_semantics":   richSemantics,
		"metadata":         meta,
	}); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	s.notifyStage(ctx, video, types.VideoStageDone)

	s.log.Info("video processed",
		"video_id", video.ID,
		"scenes", len(rows),
		"retrievable", len(docs),
		"rich_semantics", richSemantics,
		"took_ms", time.Since(started).Milliseconds())
	return nil
}

func (s *service) downloadSource(ctx context.Context, video *types.Video, workDir string) (string, error) {
	rc, err := s.store.Download(ctx, video.StorageKey)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	ext := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(video.Ext)), ".")
	if ext == "" {
		ext = "mp4"
	}
	path := filepath.Join(workDir, "source."+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, rc); err != nil {
		return "", err
	}
	return path, nil
}

func (s *service) uploadPoster(ctx context.Context, video *types.Video, localPath, workDir string) string {
	posterPath := filepath.Join(workDir, "poster.jpg")
	if _, err := s.media.ExtractFrameAt(ctx, localPath, posterPath, posterTimestamp(video.DurationS), s.cfg.ThumbnailWidth); err != nil {
		return "poster extraction failed: " + err.Error()
	}
	f, err := os.Open(posterPath)
	if err != nil {
		return "poster open failed: " + err.Error()
	}
	defer f.Close()

	key := gcs.PosterKey(video.TenantID.String(), video.ID.String())
	if err := s.store.Upload(ctx, key, f, gcs.ContentTypeForKey(key)); err != nil {
		return "poster upload failed: " + err.Error()
	}
	if err := s.videoRepo.UpdateFields(ctx, nil, video.ID, map[string]interface{}{"poster_key": key}); err != nil {
		return "poster key update failed: " + err.Error()
	}
	video.PosterKey = key
	return ""
}

func (s *service) transcribe(ctx context.Context, video *types.Video, localPath, workDir string) (whisper.Transcription, transcript.GateResult, error) {
	audioPath := filepath.Join(workDir, "audio.wav")
	if _, err := s.media.ExtractAudio(ctx, localPath, audioPath, localmedia.AudioExtractOptions{
		SampleRateHz: 16000,
		Channels:     1,
		Format:       "wav",
	}); err != nil {
		return whisper.Transcription{}, transcript.GateResult{}, fmt.Errorf("extract audio: %w", err)
	}

	tr, err := s.transcriber.Transcribe(ctx, audioPath, video.Language)
	if err != nil {
		return whisper.Transcription{}, transcript.GateResult{}, fmt.Errorf("transcribe: %w", err)
	}
	gate := transcript.EvaluateTranscript(tr, s.cfg.Gate)
	return tr, gate, nil
}

// cleanupPartial removes every sidecar artifact of the video so a rerun
// starts clean. Errors are logged, not returned: cleanup runs on paths
// where a better error is already in flight.
func (s *service) cleanupPartial(ctx context.Context, video *types.Video) {
	if _, err := s.sceneRepo.DeleteByVideo(ctx, nil, video.ID); err != nil {
		s.log.Warn("scene cleanup failed", "video_id", video.ID, "error", err)
	}
	if err := s.vectors.DeleteScenes(ctx, video.TenantID.String(), video.ID.String()); err != nil {
		s.log.Warn("vector cleanup failed", "video_id", video.ID, "error", err)
	}
	if err := s.lexical.DeleteByVideo(ctx, video.ID); err != nil {
		s.log.Warn("lexical cleanup failed", "video_id", video.ID, "error", err)
	}
}

func (s *service) failVideo(ctx context.Context, video *types.Video, cause error) {
	s.cleanupPartial(ctx, video)
	if err := s.videoRepo.UpdateFields(ctx, nil, video.ID, map[string]interface{}{
		"status": types.VideoStatusFailed,
		"error":  truncateError(cause, maxErrorChars),
	}); err != nil {
		s.log.Error("failed to mark video FAILED", "video_id", video.ID, "error", err)
	}
	s.log.Error("video processing failed", "video_id", video.ID, "error", cause)
}

func (s *service) setStage(ctx context.Context, video *types.Video, stage string) {
	if err := s.videoRepo.UpdateFields(ctx, nil, video.ID, map[string]interface{}{
		"processing_stage": stage,
	}); err != nil {
		s.log.Warn("stage update failed", "video_id", video.ID, "stage", stage, "error", err)
	}
	video.ProcessingStage = stage
	s.notifyStage(ctx, video, stage)
}

func (s *service) notifyStage(ctx context.Context, video *types.Video, stage string) {
	if s.onStage != nil {
		s.onStage(ctx, video.TenantID, video.ID, stage)
	}
}

func transcriptText(tr whisper.Transcription) string {
	if t := strings.TrimSpace(tr.Text); t != "" {
		return t
	}
	parts := make([]string, 0, len(tr.Segments))
	for _, seg := range tr.Segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func effectiveLanguage(video *types.Video) string {
	if lang := strings.TrimSpace(video.TranscriptLanguage); lang != "" {
		return lang
	}
	if lang := strings.TrimSpace(video.Language); lang != "" {
		return lang
	}
	return "en"
}

func posterTimestamp(durationS float64) float64 {
	if durationS <= 2 {
		return durationS / 2
	}
	return 1.0
}

func truncateError(err error, max int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	runes := []rune(msg)
	if len(runes) <= max {
		return msg
	}
	return string(runes[:max])
}

func runMetadata(strategy, transcriptReason string, warnings []string, took time.Duration) datatypes.JSON {
	meta := map[string]any{
		"scene_strategy": strategy,
		"processed_ms":   took.Milliseconds(),
	}
	if transcriptReason != "" {
		meta["transcript_reason"] = transcriptReason
	}
	if len(warnings) > 0 {
		meta["warnings"] = warnings
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
