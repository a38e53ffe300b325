package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/pkg/httpx"
	"github.com/heimdex/heimdex-backend/internal/pkg/vectors"
	"github.com/heimdex/heimdex-backend/internal/platform/clip"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/openai"
)

type Config struct {
	TranscriptMaxLength int  `yaml:"transcript_max_length"`
	VisualMaxLength     int  `yaml:"visual_max_length"`
	SummaryMaxLength    int  `yaml:"summary_max_length"`
	VisualIncludeTags   bool `yaml:"visual_include_tags"`
	SummaryEnabled      bool `yaml:"summary_enabled"`

	MaxRetries  int     `yaml:"max_retries"`
	RetryDelayS float64 `yaml:"retry_delay_s"`
	Version     string  `yaml:"version"`
}

func (c Config) withDefaults() Config {
	if c.TranscriptMaxLength <= 0 {
		c.TranscriptMaxLength = 2000
	}
	if c.VisualMaxLength <= 0 {
		c.VisualMaxLength = 1200
	}
	if c.SummaryMaxLength <= 0 {
		c.SummaryMaxLength = 400
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelayS <= 0 {
		c.RetryDelayS = 1.0
	}
	if strings.TrimSpace(c.Version) == "" {
		c.Version = "v1"
	}
	return c
}

// SceneText carries the per-scene text inputs for the text channels.
type SceneText struct {
	Transcript  string
	Description string
	Summary     string
	Tags        []string
	Language    string
}

// Result holds the vectors that embedded successfully plus metadata for
// every attempted channel. A channel present in Metadata but absent from
// Vectors failed or had no input; the metadata Error field says which.
type Result struct {
	Vectors  map[string][]float32
	Metadata map[string]types.ChannelEmbedding
}

type Embedder interface {
	// EmbedScene embeds every enabled channel for one scene. Channel
	// failures are recorded in the result, not returned; the error is
	// non-nil only for cancellation.
	EmbedScene(ctx context.Context, text SceneText, bestFramePath string) (Result, error)
	Version() string
}

type embedder struct {
	log    *logger.Logger
	cfg    Config
	texts  openai.Client
	images clip.ImageEmbedder
	sem    *semaphore.Weighted
}

// NewEmbedder wires the channel embedder. images may be nil (clip_image
// channel disabled); sem bounds concurrent external calls and may be nil.
func NewEmbedder(log *logger.Logger, cfg Config, texts openai.Client, images clip.ImageEmbedder, sem *semaphore.Weighted) (Embedder, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if texts == nil {
		return nil, fmt.Errorf("text embedding client required")
	}
	return &embedder{
		log:    log.With("service", "ChannelEmbedder"),
		cfg:    cfg.withDefaults(),
		texts:  texts,
		images: images,
		sem:    sem,
	}, nil
}

func (e *embedder) Version() string { return e.cfg.Version }

func (e *embedder) EmbedScene(ctx context.Context, text SceneText, bestFramePath string) (Result, error) {
	res := Result{
		Vectors:  map[string][]float32{},
		Metadata: map[string]types.ChannelEmbedding{},
	}

	type textChannel struct {
		name  string
		input string
	}
	channels := []textChannel{
		{types.ChannelTranscript, SmartTruncate(text.Transcript, e.cfg.TranscriptMaxLength)},
		{types.ChannelVisual, e.visualInput(text)},
	}
	if e.cfg.SummaryEnabled {
		channels = append(channels, textChannel{types.ChannelSummary, SmartTruncate(text.Summary, e.cfg.SummaryMaxLength)})
	}

	for _, ch := range channels {
		if strings.TrimSpace(ch.input) == "" {
			res.Metadata[ch.name] = types.ChannelEmbedding{
				Channel:     ch.name,
				Model:       e.texts.EmbedModel(),
				Language:    text.Language,
				GeneratedAt: time.Now(),
				Error:       "empty_input",
			}
			continue
		}
		vec, meta, err := e.embedText(ctx, ch.name, ch.input, text.Language)
		res.Metadata[ch.name] = meta
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			continue
		}
		res.Vectors[ch.name] = vec
	}

	if e.images != nil {
		if strings.TrimSpace(bestFramePath) == "" {
			res.Metadata[types.ChannelClipImage] = types.ChannelEmbedding{
				Channel:     types.ChannelClipImage,
				Model:       e.images.Model(),
				GeneratedAt: time.Now(),
				Error:       "empty_input",
			}
		} else {
			vec, meta, err := e.embedImage(ctx, bestFramePath)
			res.Metadata[types.ChannelClipImage] = meta
			if err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
			} else {
				res.Vectors[types.ChannelClipImage] = vec
			}
		}
	}

	return res, nil
}

func (e *embedder) visualInput(text SceneText) string {
	desc := strings.TrimSpace(text.Description)
	if e.cfg.VisualIncludeTags && len(text.Tags) > 0 {
		tagLine := strings.Join(text.Tags, ", ")
		if desc == "" {
			desc = tagLine
		} else {
			desc = desc + "\n" + tagLine
		}
	}
	return SmartTruncate(desc, e.cfg.VisualMaxLength)
}

func (e *embedder) embedText(ctx context.Context, channel, input, lang string) ([]float32, types.ChannelEmbedding, error) {
	meta := types.ChannelEmbedding{
		Channel:         channel,
		Model:           e.texts.EmbedModel(),
		InputTextHash:   hashPrefix([]byte(input)),
		InputTextLength: utf8.RuneCountInString(input),
		Language:        lang,
	}

	vec, latency, err := e.withRetries(ctx, func() ([]float32, error) {
		out, err := e.texts.Embed(ctx, []string{input})
		if err != nil {
			return nil, err
		}
		if len(out) != 1 {
			return nil, fmt.Errorf("embedding service returned %d vectors for one input", len(out))
		}
		return out[0], nil
	})
	meta.LatencyMS = latency
	meta.GeneratedAt = time.Now()
	if err != nil {
		meta.Error = reasonFromError(err)
		return nil, meta, err
	}

	norm := vectors.L2Normalize(vec)
	if !vectors.IsFinite(norm) || len(norm) == 0 {
		e.log.Warn("embedding failed contract check", "channel", channel, "dims", len(vec))
		meta.Error = "non_finite_vector"
		return nil, meta, fmt.Errorf("non-finite %s embedding", channel)
	}
	meta.Dimensions = len(norm)
	return norm, meta, nil
}

func (e *embedder) embedImage(ctx context.Context, framePath string) ([]float32, types.ChannelEmbedding, error) {
	meta := types.ChannelEmbedding{
		Channel: types.ChannelClipImage,
		Model:   e.images.Model(),
	}
	if raw, err := os.ReadFile(framePath); err == nil {
		meta.InputTextHash = hashPrefix(raw)
		meta.InputTextLength = len(raw)
	}

	vec, latency, err := e.withRetries(ctx, func() ([]float32, error) {
		return e.images.EmbedImage(ctx, framePath)
	})
	meta.LatencyMS = latency
	meta.GeneratedAt = time.Now()
	if err != nil {
		meta.Error = reasonFromError(err)
		return nil, meta, err
	}

	norm := vectors.L2Normalize(vec)
	if !vectors.IsFinite(norm) || len(norm) == 0 {
		e.log.Warn("clip embedding failed contract check", "dims", len(vec))
		meta.Error = "non_finite_vector"
		return nil, meta, fmt.Errorf("non-finite clip_image embedding")
	}
	meta.Dimensions = len(norm)
	return norm, meta, nil
}

// withRetries runs the call under the shared API slot with bounded
// exponential backoff. Only transient errors retry.
func (e *embedder) withRetries(ctx context.Context, call func() ([]float32, error)) ([]float32, int64, error) {
	base := time.Duration(e.cfg.RetryDelayS * float64(time.Second))
	var (
		lastErr error
		latency int64
	)
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := httpx.JitterSleep(ctx, httpx.BackoffDelay(attempt-1, base, 30*time.Second)); err != nil {
				return nil, latency, err
			}
		}

		started := time.Now()
		vec, err := func() ([]float32, error) {
			if e.sem != nil {
				if aerr := e.sem.Acquire(ctx, 1); aerr != nil {
					return nil, aerr
				}
				defer e.sem.Release(1)
			}
			return call()
		}()
		latency = time.Since(started).Milliseconds()

		if err == nil {
			return vec, latency, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if !httpx.IsRetryableError(err) {
			break
		}
	}
	return nil, latency, lastErr
}

func hashPrefix(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])[:16]
}

func reasonFromError(err error) string {
	if err == nil {
		return ""
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return "canceled"
	}
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
