package scenedetect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/platform/gcpvideo"
	"github.com/heimdex/heimdex-backend/internal/platform/localmedia"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

const (
	StrategyAdaptive = "adaptive"
	StrategyContent  = "content"
	StrategyCloud    = "cloud"
)

type Config struct {
	Strategy           string  `yaml:"strategy"`
	MinSceneLenSeconds float64 `yaml:"scene_min_len_seconds"`

	AdaptiveThresholdFactor float64 `yaml:"adaptive_threshold_factor"`
	AdaptiveWindowSize      int     `yaml:"adaptive_window_size"`
	AdaptiveMinContentVal   float64 `yaml:"adaptive_min_content_val"`

	ContentThreshold float64 `yaml:"content_threshold"`

	SampleFPS        float64 `yaml:"sample_fps"`
	SampleWidth      int     `yaml:"sample_width"`
	MaxSampledFrames int     `yaml:"max_sampled_frames"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Strategy) == "" {
		c.Strategy = StrategyAdaptive
	}
	if c.MinSceneLenSeconds <= 0 {
		c.MinSceneLenSeconds = 2.0
	}
	if c.AdaptiveThresholdFactor <= 0 {
		c.AdaptiveThresholdFactor = 3.0
	}
	if c.AdaptiveWindowSize <= 0 {
		c.AdaptiveWindowSize = 8
	}
	if c.AdaptiveMinContentVal <= 0 {
		c.AdaptiveMinContentVal = 15.0
	}
	if c.ContentThreshold <= 0 {
		c.ContentThreshold = 27.0
	}
	if c.SampleFPS <= 0 {
		c.SampleFPS = 2.0
	}
	if c.SampleWidth <= 0 {
		c.SampleWidth = 320
	}
	if c.MaxSampledFrames <= 0 {
		c.MaxSampledFrames = 2400
	}
	return c
}

// Interval is one detected scene span. Index is dense from 0 and intervals
// cover [0, duration] without gaps.
type Interval struct {
	Index  int
	StartS float64
	EndS   float64
}

// Source locates the video for detection. LocalPath feeds the sampling
// strategies; GCSURI enables the cloud strategy when set.
type Source struct {
	LocalPath string
	GCSURI    string
}

type Detector interface {
	Detect(ctx context.Context, src Source, durationS float64) ([]Interval, string, error)
}

type detector struct {
	log   *logger.Logger
	cfg   Config
	media localmedia.Tools
	shots gcpvideo.ShotDetector
}

// NewDetector builds a scene detector. shots may be nil; the cloud strategy
// then falls back to adaptive.
func NewDetector(log *logger.Logger, cfg Config, media localmedia.Tools, shots gcpvideo.ShotDetector) Detector {
	return &detector{
		log:   log.With("service", "SceneDetector"),
		cfg:   cfg.withDefaults(),
		media: media,
		shots: shots,
	}
}

// Detect runs the configured strategy and normalizes its cuts into dense,
// clamped intervals. It fails only when the video itself is unreadable;
// strategy-level trouble degrades to fewer (or zero) cuts.
func (d *detector) Detect(ctx context.Context, src Source, durationS float64) ([]Interval, string, error) {
	ctx = ctxutil.Default(ctx)
	if durationS <= 0 {
		return nil, "", fmt.Errorf("non-positive duration %f", durationS)
	}

	strategy := strings.ToLower(strings.TrimSpace(d.cfg.Strategy))
	var (
		cuts []float64
		err  error
	)

	if strategy == StrategyCloud {
		cuts, err = d.cloudCuts(ctx, src, durationS)
		if err != nil {
			d.log.Warn("cloud shot detection failed; falling back to adaptive", "error", err.Error())
			strategy = StrategyAdaptive
		}
	}

	switch strategy {
	case StrategyAdaptive, StrategyContent:
		if strings.TrimSpace(src.LocalPath) == "" {
			return nil, "", fmt.Errorf("local video path required for %s strategy", strategy)
		}
		deltas, derr := d.sampleDeltas(ctx, src.LocalPath)
		if derr != nil {
			return nil, "", derr
		}
		if strategy == StrategyContent {
			cuts = contentCuts(deltas, d.cfg.ContentThreshold)
		} else {
			cuts = adaptiveCuts(deltas, d.cfg.AdaptiveWindowSize, d.cfg.AdaptiveThresholdFactor, d.cfg.AdaptiveMinContentVal)
		}
	case StrategyCloud:
		// cuts already populated
	default:
		return nil, "", fmt.Errorf("unknown scene detection strategy %q", d.cfg.Strategy)
	}

	intervals := normalizeIntervals(cuts, durationS, d.cfg.MinSceneLenSeconds)
	d.log.Info("scene detection complete",
		"strategy", strategy,
		"raw_cuts", len(cuts),
		"scenes", len(intervals),
		"duration_s", durationS,
	)
	return intervals, strategy, nil
}

func (d *detector) cloudCuts(ctx context.Context, src Source, durationS float64) ([]float64, error) {
	if d.shots == nil {
		return nil, fmt.Errorf("cloud strategy configured but no shot detector wired")
	}
	if strings.TrimSpace(src.GCSURI) == "" {
		return nil, fmt.Errorf("cloud strategy requires a gcs uri")
	}
	shots, err := d.shots.DetectShots(ctx, src.GCSURI)
	if err != nil {
		return nil, err
	}
	cuts := make([]float64, 0, len(shots))
	for _, sh := range shots {
		if sh.StartS > 0 && sh.StartS < durationS {
			cuts = append(cuts, sh.StartS)
		}
	}
	return cuts, nil
}

func (d *detector) sampleDeltas(ctx context.Context, videoPath string) ([]contentDelta, error) {
	dir, cleanup, err := d.media.TempDir(ctx, "scenedetect")
	if err != nil {
		return nil, fmt.Errorf("scene detection temp dir: %w", err)
	}
	defer cleanup()

	frames, err := d.media.SampleFrames(ctx, videoPath, dir, localmedia.FrameSampleOptions{
		FPS:       d.cfg.SampleFPS,
		Width:     d.cfg.SampleWidth,
		MaxFrames: d.cfg.MaxSampledFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("sample frames: %w", err)
	}

	deltas := make([]contentDelta, 0, len(frames))
	var prev []float64
	for _, f := range frames {
		gray, err := loadDeltaFrame(f.Path)
		if err != nil {
			d.log.Warn("skipping undecodable frame", "path", f.Path, "error", err.Error())
			continue
		}
		if prev != nil {
			deltas = append(deltas, contentDelta{TimeS: f.TimestampS, Value: frameDelta(prev, gray)})
		}
		prev = gray
	}
	return deltas, nil
}

// adaptiveCuts flags a cut when a delta clears both the rolling mean scaled
// by the threshold factor and the absolute content floor. The window holds
// the deltas before the current one, so a hard cut raises the bar for the
// frames right after it.
func adaptiveCuts(deltas []contentDelta, windowSize int, thresholdFactor, minContentVal float64) []float64 {
	if windowSize <= 0 {
		windowSize = 1
	}
	cuts := []float64{}
	window := make([]float64, 0, windowSize)
	for _, d := range deltas {
		mean := 0.0
		if len(window) > 0 {
			var sum float64
			for _, v := range window {
				sum += v
			}
			mean = sum / float64(len(window))
		}
		if d.Value >= mean*thresholdFactor && d.Value >= minContentVal {
			cuts = append(cuts, d.TimeS)
		}
		window = append(window, d.Value)
		if len(window) > windowSize {
			window = window[1:]
		}
	}
	return cuts
}

func contentCuts(deltas []contentDelta, threshold float64) []float64 {
	cuts := []float64{}
	for _, d := range deltas {
		if d.Value >= threshold {
			cuts = append(cuts, d.TimeS)
		}
	}
	return cuts
}

// normalizeIntervals turns raw cut timestamps into the final scene list:
// cuts outside (0,duration) are dropped, short segments merge into their
// predecessor (a short head merges forward instead), indexes are dense from 0
// and the intervals tile [0, duration] exactly. Zero usable cuts yield the
// whole video as a single scene.
func normalizeIntervals(cuts []float64, durationS, minSceneLen float64) []Interval {
	points := make([]float64, 0, len(cuts))
	for _, c := range cuts {
		if c > 0 && c < durationS {
			points = append(points, c)
		}
	}
	sort.Float64s(points)

	bounds := []float64{0}
	for _, p := range points {
		if p-bounds[len(bounds)-1] > 1e-6 {
			bounds = append(bounds, p)
		}
	}
	bounds = append(bounds, durationS)

	intervals := make([]Interval, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		intervals = append(intervals, Interval{StartS: bounds[i], EndS: bounds[i+1]})
	}

	if minSceneLen > 0 {
		merged := make([]Interval, 0, len(intervals))
		for _, iv := range intervals {
			if len(merged) > 0 && iv.EndS-iv.StartS < minSceneLen {
				merged[len(merged)-1].EndS = iv.EndS
				continue
			}
			merged = append(merged, iv)
		}
		if len(merged) > 1 && merged[0].EndS-merged[0].StartS < minSceneLen {
			merged[1].StartS = merged[0].StartS
			merged = merged[1:]
		}
		intervals = merged
	}

	for i := range intervals {
		intervals[i].Index = i
	}
	return intervals
}
