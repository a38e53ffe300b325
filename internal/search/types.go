package search

import (
	"github.com/google/uuid"
)

// Fusion channel keys. User-facing weight names (transcript, visual,
// summary, lexical) map onto the first four; clip and person are internal
// channels that never take a user weight directly.
const (
	ChannelDenseTranscript = "dense_transcript"
	ChannelDenseVisual     = "dense_visual"
	ChannelDenseSummary    = "dense_summary"
	ChannelLexical         = "lexical"
	ChannelClip            = "clip"
	ChannelPerson          = "person"
)

const (
	FusionMinMaxMean = "minmax_mean"
	FusionRRF        = "rrf"
)

const (
	VisualModeRecall = "recall"
	VisualModeRerank = "rerank"
	VisualModeSkip   = "skip"
	VisualModeAuto   = "auto"
)

const (
	IntentLookup   = "lookup"
	IntentSemantic = "semantic"
)

const (
	DisplayMethodExpSquash   = "exp_squash"
	DisplayMethodPctlCeiling = "pctl_ceiling"
)

const (
	MatchQualitySupported = "supported"
	MatchQualityBestGuess = "best_guess"
)

// Request is the search API body. TenantID is never part of it; the service
// takes the tenant from the auth context.
type Request struct {
	Query          string             `json:"query" binding:"required"`
	VideoID        *uuid.UUID         `json:"video_id,omitempty"`
	Limit          int                `json:"limit,omitempty"`
	Threshold      *float64           `json:"threshold,omitempty"`
	FusionMethod   string             `json:"fusion_method,omitempty"`
	VisualMode     string             `json:"visual_mode,omitempty"`
	ChannelWeights map[string]float64 `json:"channel_weights,omitempty"`
	Debug          bool               `json:"debug,omitempty"`
}

type Response struct {
	Query     string   `json:"query"`
	Total     int      `json:"total"`
	LatencyMS int64    `json:"latency_ms"`
	Results   []Result `json:"results"`
}

type Result struct {
	SceneID           uuid.UUID `json:"scene_id"`
	VideoID           uuid.UUID `json:"video_id"`
	SceneIndex        int       `json:"index"`
	StartS            float64   `json:"start_s"`
	EndS              float64   `json:"end_s"`
	Transcript        string    `json:"transcript_segment,omitempty"`
	VisualSummary     string    `json:"visual_summary,omitempty"`
	VisualDescription string    `json:"visual_description,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	ThumbnailURL      string    `json:"thumbnail_url,omitempty"`

	Score        float64  `json:"score"`
	DisplayScore *float64 `json:"display_score,omitempty"`
	MatchQuality string   `json:"match_quality,omitempty"`

	Debug *ResultDebug `json:"debug,omitempty"`
}

type ResultDebug struct {
	PerChannel       map[string]ChannelDebug `json:"per_channel"`
	FusionMethod     string                  `json:"fusion_method"`
	WeightsApplied   map[string]float64      `json:"weights_applied"`
	WeightsSource    string                  `json:"weights_source"`
	ChannelsDisabled []string                `json:"channels_disabled,omitempty"`
	Clamped          bool                    `json:"clamped"`
	Rerank           *RerankDebug            `json:"rerank,omitempty"`
}

type ChannelDebug struct {
	Rank       int     `json:"rank"`
	Raw        float64 `json:"raw"`
	Normalized float64 `json:"normalized"`
	Weight     float64 `json:"weight"`
}

type RerankDebug struct {
	ClipWeightUsed float64 `json:"clip_weight_used"`
	ClipScoreRange float64 `json:"clip_score_range"`
	SkippedReason  string  `json:"skipped_reason,omitempty"`
}

// Candidate is one hit from one channel. Rank is dense and 1-based within
// its list; Score is the channel's raw score (cosine similarity for dense
// channels, ts_rank for lexical).
type Candidate struct {
	SceneID uuid.UUID
	Rank    int
	Score   float64
}

// QueryPlan is the per-request outcome of the planner: person prefix
// resolved, language and intent classified, visual mode finalized.
type QueryPlan struct {
	Query         string
	OriginalQuery string
	Language      string
	Intent        string

	VisualMode       string
	VisualModeSource string // request | saved | auto | default
	WeightAdjustment float64
	RouterConfidence float64

	PersonID   *uuid.UUID
	PersonName string

	VideoID   *uuid.UUID
	Limit     int
	Threshold float64
}

// VisualIntent is the router's read of an auto-mode query.
type VisualIntent struct {
	SuggestedMode    string
	WeightAdjustment float64
	Confidence       float64
}

type Config struct {
	FusionMethod          string  `yaml:"fusion_method"`
	RRFK                  float64 `yaml:"rrf_k"`
	MinMaxEps             float64 `yaml:"fusion_minmax_eps"`
	PercentileClipEnabled bool    `yaml:"fusion_percentile_clip_enabled"`
	PercentileClipLo      float64 `yaml:"fusion_percentile_clip_lo"`
	PercentileClipHi      float64 `yaml:"fusion_percentile_clip_hi"`

	KTranscript int `yaml:"candidate_k_transcript"`
	KVisual     int `yaml:"candidate_k_visual"`
	KSummary    int `yaml:"candidate_k_summary"`
	KLexical    int `yaml:"candidate_k_lexical"`
	KPerson     int `yaml:"candidate_k_person"`

	ThresholdTranscript float64 `yaml:"threshold_transcript"`
	ThresholdVisual     float64 `yaml:"threshold_visual"`
	ThresholdSummary    float64 `yaml:"threshold_summary"`

	WeightTranscript float64 `yaml:"weight_transcript"`
	WeightVisual     float64 `yaml:"weight_visual"`
	WeightSummary    float64 `yaml:"weight_summary"`
	WeightLexical    float64 `yaml:"weight_lexical"`
	MaxVisualWeight  float64 `yaml:"max_visual_weight"`
	MinLexicalWeight float64 `yaml:"min_lexical_weight"`

	SummaryEnabled     bool    `yaml:"summary_enabled"`
	MultiDenseTimeoutS float64 `yaml:"multi_dense_timeout_s"`

	VisualMode          string  `yaml:"visual_mode"`
	RerankPoolSize      int     `yaml:"rerank_candidate_pool_size"`
	RerankClipWeight    float64 `yaml:"rerank_clip_weight"`
	RerankMinScoreRange float64 `yaml:"rerank_min_score_range"`
	RouterBoostWeight   float64 `yaml:"visual_router_boost_weight"`
	RouterReduceWeight  float64 `yaml:"visual_router_reduce_weight"`

	CalibrationEnabled bool    `yaml:"enable_display_score_calibration"`
	DisplayScoreMethod string  `yaml:"display_score_method"`
	DisplayScoreMaxCap float64 `yaml:"display_score_max_cap"`
	DisplayScoreAlpha  float64 `yaml:"display_score_alpha"`
	DisplayScorePctl   float64 `yaml:"display_score_pctl"`

	LookupGatingEnabled     bool    `yaml:"enable_lookup_soft_gating"`
	LookupLexicalMinHits    int     `yaml:"lookup_lexical_min_hits"`
	LookupAbsDisplayEnabled bool    `yaml:"enable_lookup_absolute_display_score"`
	LookupAbsSimFloor       float64 `yaml:"lookup_abs_sim_floor"`
	LookupAbsSimCeil        float64 `yaml:"lookup_abs_sim_ceil"`
	LookupBestGuessMaxCap   float64 `yaml:"lookup_best_guess_max_cap"`
}

func (c Config) withDefaults() Config {
	if c.FusionMethod == "" {
		c.FusionMethod = FusionMinMaxMean
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	if c.MinMaxEps < 1e-9 {
		c.MinMaxEps = 1e-9
	}
	if c.PercentileClipLo <= 0 {
		c.PercentileClipLo = 0.01
	}
	if c.PercentileClipHi <= 0 || c.PercentileClipHi > 1 {
		c.PercentileClipHi = 0.99
	}
	if c.KTranscript <= 0 {
		c.KTranscript = 50
	}
	if c.KVisual <= 0 {
		c.KVisual = 50
	}
	if c.KSummary <= 0 {
		c.KSummary = 50
	}
	if c.KLexical <= 0 {
		c.KLexical = 50
	}
	if c.KPerson <= 0 {
		c.KPerson = 30
	}
	if c.WeightTranscript <= 0 {
		c.WeightTranscript = 0.40
	}
	if c.WeightVisual <= 0 {
		c.WeightVisual = 0.20
	}
	if c.WeightSummary <= 0 {
		c.WeightSummary = 0.10
	}
	if c.WeightLexical <= 0 {
		c.WeightLexical = 0.30
	}
	if c.MaxVisualWeight <= 0 {
		c.MaxVisualWeight = 0.60
	}
	if c.MinLexicalWeight <= 0 {
		c.MinLexicalWeight = 0.05
	}
	if c.MultiDenseTimeoutS <= 0 {
		c.MultiDenseTimeoutS = 3.0
	}
	if c.VisualMode == "" {
		c.VisualMode = VisualModeAuto
	}
	if c.RerankPoolSize <= 0 {
		c.RerankPoolSize = 50
	}
	if c.RerankClipWeight <= 0 {
		c.RerankClipWeight = 0.30
	}
	if c.RerankMinScoreRange <= 0 {
		c.RerankMinScoreRange = 0.05
	}
	if c.RouterBoostWeight <= 0 {
		c.RouterBoostWeight = 0.15
	}
	if c.RouterReduceWeight <= 0 {
		c.RouterReduceWeight = 0.20
	}
	if c.DisplayScoreMethod == "" {
		c.DisplayScoreMethod = DisplayMethodExpSquash
	}
	if c.DisplayScoreMaxCap <= 0 || c.DisplayScoreMaxCap >= 1 {
		c.DisplayScoreMaxCap = 0.95
	}
	if c.DisplayScoreAlpha <= 0 {
		c.DisplayScoreAlpha = 3.0
	}
	if c.DisplayScorePctl <= 0 || c.DisplayScorePctl > 1 {
		c.DisplayScorePctl = 0.90
	}
	if c.LookupLexicalMinHits <= 0 {
		c.LookupLexicalMinHits = 1
	}
	if c.LookupAbsSimFloor <= 0 {
		c.LookupAbsSimFloor = 0.20
	}
	if c.LookupAbsSimCeil <= c.LookupAbsSimFloor {
		c.LookupAbsSimCeil = 0.55
	}
	if c.LookupBestGuessMaxCap <= 0 || c.LookupBestGuessMaxCap >= 1 {
		c.LookupBestGuessMaxCap = 0.65
	}
	return c
}

// fusionWeightKeys are the channels the weight resolver owns.
var fusionWeightKeys = []string{
	ChannelDenseTranscript,
	ChannelDenseVisual,
	ChannelDenseSummary,
	ChannelLexical,
}

// userWeightNames maps the request/prefs channel names onto fusion keys.
var userWeightNames = map[string]string{
	"transcript": ChannelDenseTranscript,
	"visual":     ChannelDenseVisual,
	"summary":    ChannelDenseSummary,
	"lexical":    ChannelLexical,
}
