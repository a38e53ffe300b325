package framequality

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/platform/localmedia"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

type Config struct {
	MaxKeyframesPerScene int     `yaml:"max_keyframes_per_scene"`
	BrightnessThreshold  float64 `yaml:"visual_brightness_threshold"`
	BlurThreshold        float64 `yaml:"visual_blur_threshold"`
	FrameWidth           int     `yaml:"frame_width"`
}

func (c Config) withDefaults() Config {
	if c.MaxKeyframesPerScene <= 0 {
		c.MaxKeyframesPerScene = 5
	}
	if c.BrightnessThreshold <= 0 {
		c.BrightnessThreshold = 30.0
	}
	if c.BlurThreshold <= 0 {
		c.BlurThreshold = 100.0
	}
	if c.FrameWidth <= 0 {
		c.FrameWidth = 512
	}
	return c
}

// Frame is one extracted keyframe with its quality measurements. Frames
// come back in chronological order; use RankedFrames/BestFrame for quality
// order.
type Frame struct {
	Path        string
	TimeS       float64
	Brightness  float64
	Blur        float64
	Score       float64
	Informative bool
}

// Ranker extracts and measures candidate keyframes for a scene.
type Ranker interface {
	MeasureFrames(ctx context.Context, videoPath string, startS, endS float64, workDir string) ([]Frame, error)
}

type ranker struct {
	log   *logger.Logger
	cfg   Config
	media localmedia.Tools
}

func NewRanker(log *logger.Logger, cfg Config, media localmedia.Tools) Ranker {
	return &ranker{
		log:   log.With("service", "FrameQuality"),
		cfg:   cfg.withDefaults(),
		media: media,
	}
}

// frameCount caps the sampling budget at one frame per two seconds of scene,
// never more than the configured maximum and never less than one.
func frameCount(durationS float64, maxPerScene int) int {
	k := int(math.Ceil(durationS / 2.0))
	if k > maxPerScene {
		k = maxPerScene
	}
	if k < 1 {
		k = 1
	}
	return k
}

func (r *ranker) MeasureFrames(ctx context.Context, videoPath string, startS, endS float64, workDir string) ([]Frame, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(videoPath) == "" {
		return nil, fmt.Errorf("video path required")
	}
	if endS <= startS {
		return nil, fmt.Errorf("invalid scene bounds [%f, %f]", startS, endS)
	}

	duration := endS - startS
	k := frameCount(duration, r.cfg.MaxKeyframesPerScene)

	frames := make([]Frame, 0, k)
	for i := 0; i < k; i++ {
		// Midpoint sampling keeps frames away from cut boundaries, which
		// tend to hold transition blur.
		t := startS + duration*(float64(i)+0.5)/float64(k)
		outPath := filepath.Join(workDir, fmt.Sprintf("kf_%02d.jpg", i))

		path, err := r.media.ExtractFrameAt(ctx, videoPath, outPath, t, r.cfg.FrameWidth)
		if err != nil {
			if ctx.Err() != nil {
				return frames, ctx.Err()
			}
			r.log.Warn("keyframe extraction failed", "time_s", t, "error", err.Error())
			continue
		}

		brightness, blur, err := measureFile(path)
		if err != nil {
			r.log.Warn("keyframe measurement failed", "path", path, "error", err.Error())
			continue
		}

		informative := brightness >= r.cfg.BrightnessThreshold && blur >= r.cfg.BlurThreshold
		frames = append(frames, Frame{
			Path:        path,
			TimeS:       t,
			Brightness:  brightness,
			Blur:        blur,
			Score:       qualityScore(brightness, blur),
			Informative: informative,
		})
	}
	return frames, nil
}

// RankedFrames returns the informative frames best first. All frames
// uninformative means an empty result; callers skip visual analysis then.
func RankedFrames(frames []Frame) []Frame {
	ranked := make([]Frame, 0, len(frames))
	for _, f := range frames {
		if f.Informative {
			ranked = append(ranked, f)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].TimeS < ranked[j].TimeS
	})
	return ranked
}

func BestFrame(frames []Frame) (Frame, bool) {
	ranked := RankedFrames(frames)
	if len(ranked) == 0 {
		return Frame{}, false
	}
	return ranked[0], true
}
