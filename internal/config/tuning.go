// Package config loads the tuning file: every retrieval and ingestion knob
// lives in one reviewable YAML document instead of scattered env vars.
package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/heimdex/heimdex-backend/internal/ingestion/embedder"
	"github.com/heimdex/heimdex-backend/internal/ingestion/framequality"
	"github.com/heimdex/heimdex-backend/internal/ingestion/pipeline"
	"github.com/heimdex/heimdex-backend/internal/ingestion/scenedetect"
	"github.com/heimdex/heimdex-backend/internal/jobs"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/search"
	"github.com/heimdex/heimdex-backend/internal/utils"
)

const (
	// tuningPathEnv points at an alternate tuning file; otherwise the
	// deploy copy under configs/ is used, then the embedded defaults.
	tuningPathEnv    = "SEARCH_TUNING_YAML"
	tuningDeployPath = "configs/search.yaml"
)

//go:embed defaults.yaml
var defaultsFS embed.FS

// Tuning is the immutable knob surface shared by the API and worker
// processes. Zero values defer to each package's own defaults, so a partial
// file (or no file at all) still yields a fully working configuration.
type Tuning struct {
	Version int `yaml:"version"`

	Search       search.Config       `yaml:"search"`
	SceneDetect  scenedetect.Config  `yaml:"scene_detection"`
	FrameQuality framequality.Config `yaml:"frame_quality"`
	Embedding    embedder.Config     `yaml:"embedding"`
	Pipeline     pipeline.Config     `yaml:"pipeline"`
	Jobs         jobs.Config         `yaml:"jobs"`
}

var (
	tuningOnce   sync.Once
	tuningCache  Tuning
	tuningSource string
	tuningErr    error
)

// LoadTuning parses the tuning file once per process and caches it. A
// missing or invalid file logs a warning and falls back to the embedded
// defaults; the embedded copy failing to parse is a programming error.
func LoadTuning(log *logger.Logger) Tuning {
	tuningOnce.Do(func() {
		tuningCache, tuningSource, tuningErr = readTuning()
	})
	if tuningErr != nil {
		if log != nil {
			log.Warn("tuning load failed, using built-in defaults", "error", tuningErr)
		}
		return applyEnvOverrides(Tuning{}, log)
	}
	if log != nil {
		log.Info("tuning loaded", "source", tuningSource, "version", tuningCache.Version)
	}
	return applyEnvOverrides(tuningCache, log)
}

func readTuning() (Tuning, string, error) {
	data, source, err := readTuningBytes()
	if err != nil {
		return Tuning{}, source, err
	}

	var t Tuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tuning{}, source, fmt.Errorf("parse %s: %w", source, err)
	}
	if err := validateTuning(&t); err != nil {
		return Tuning{}, source, fmt.Errorf("validate %s: %w", source, err)
	}
	return t, source, nil
}

func readTuningBytes() ([]byte, string, error) {
	if path := strings.TrimSpace(os.Getenv(tuningPathEnv)); path != "" {
		data, err := os.ReadFile(path)
		return data, path, err
	}
	if data, err := os.ReadFile(tuningDeployPath); err == nil {
		return data, tuningDeployPath, nil
	}
	data, err := defaultsFS.ReadFile("defaults.yaml")
	return data, "embedded defaults", err
}

// applyEnvOverrides layers the deployment-critical values an operator sizes
// per environment over whatever the file said.
func applyEnvOverrides(t Tuning, log *logger.Logger) Tuning {
	t.Search.FusionMethod = utils.GetEnv("SEARCH_FUSION_METHOD", t.Search.FusionMethod, log)
	summary := utils.GetEnvAsBool("SEARCH_SUMMARY_ENABLED", t.Search.SummaryEnabled, log)
	t.Search.SummaryEnabled = summary
	t.Embedding.SummaryEnabled = summary
	t.Pipeline.MaxSceneWorkers = utils.GetEnvAsInt("PIPELINE_MAX_SCENE_WORKERS", t.Pipeline.MaxSceneWorkers, log)
	t.Jobs.Concurrency = utils.GetEnvAsInt("JOB_CONCURRENCY", t.Jobs.Concurrency, log)
	return t
}

func validateTuning(t *Tuning) error {
	if t == nil {
		return errors.New("missing tuning document")
	}
	if t.Version != 0 && t.Version != 1 {
		return fmt.Errorf("unsupported tuning version %d", t.Version)
	}

	switch t.Search.FusionMethod {
	case "", search.FusionRRF, search.FusionMinMaxMean:
	default:
		return fmt.Errorf("unknown fusion_method %q", t.Search.FusionMethod)
	}
	switch t.Search.VisualMode {
	case "", search.VisualModeAuto, search.VisualModeRecall, search.VisualModeRerank, search.VisualModeSkip:
	default:
		return fmt.Errorf("unknown visual_mode %q", t.Search.VisualMode)
	}
	switch t.Search.DisplayScoreMethod {
	case "", search.DisplayMethodExpSquash, search.DisplayMethodPctlCeiling:
	default:
		return fmt.Errorf("unknown display_score_method %q", t.Search.DisplayScoreMethod)
	}
	for name, w := range map[string]float64{
		"weight_transcript":  t.Search.WeightTranscript,
		"weight_visual":      t.Search.WeightVisual,
		"weight_summary":     t.Search.WeightSummary,
		"weight_lexical":     t.Search.WeightLexical,
		"max_visual_weight":  t.Search.MaxVisualWeight,
		"min_lexical_weight": t.Search.MinLexicalWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s %v outside [0, 1]", name, w)
		}
	}
	if lo, hi := t.Search.PercentileClipLo, t.Search.PercentileClipHi; lo > 0 && hi > 0 && lo >= hi {
		return fmt.Errorf("fusion percentile clip window [%v, %v) is empty", lo, hi)
	}

	switch strings.ToLower(strings.TrimSpace(t.SceneDetect.Strategy)) {
	case "", scenedetect.StrategyAdaptive, scenedetect.StrategyContent, scenedetect.StrategyCloud:
	default:
		return fmt.Errorf("unknown scene detection strategy %q", t.SceneDetect.Strategy)
	}

	for name, r := range map[string]float64{
		"min_speech_char_ratio":     t.Pipeline.Gate.MinSpeechCharRatio,
		"max_no_speech_prob":        t.Pipeline.Gate.MaxNoSpeechProb,
		"min_speech_segments_ratio": t.Pipeline.Gate.MinSpeechSegmentsRatio,
	} {
		if r < 0 || r > 1 {
			return fmt.Errorf("%s %v outside [0, 1]", name, r)
		}
	}

	if min, max := t.Jobs.MinBackoffS, t.Jobs.MaxBackoffS; min > 0 && max > 0 && min > max {
		return fmt.Errorf("job backoff window inverted: min %vs > max %vs", min, max)
	}
	return nil
}
