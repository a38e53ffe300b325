package app

import (
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/heimdex/heimdex-backend/internal/platform/clip"
	"github.com/heimdex/heimdex-backend/internal/platform/gcpvideo"
	"github.com/heimdex/heimdex-backend/internal/platform/gcs"
	"github.com/heimdex/heimdex-backend/internal/platform/localmedia"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/openai"
	"github.com/heimdex/heimdex-backend/internal/platform/qdrant"
	"github.com/heimdex/heimdex-backend/internal/platform/redisbus"
	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
	"github.com/heimdex/heimdex-backend/internal/platform/whisper"
)

// Clients bundles every external adapter a process can hold. Optional
// members are nil when their config is absent; consumers degrade the
// matching feature instead of failing.
type Clients struct {
	Store   gcs.ObjectStore
	Vectors vectorstore.VectorStore
	Texts   openai.Client
	Visual  openai.VisualAnalyzer
	Clip    clip.ImageEmbedder
	Speech  whisper.Transcriber
	Shots   gcpvideo.ShotDetector
	Media   localmedia.Tools
	Bus     redisbus.Bus

	AsynqClient    *asynq.Client
	AsynqInspector *asynq.Inspector
}

// NewClients constructs the adapter set from env. The object store, vector
// store and text embedder are load-bearing for both processes and fail
// construction; visual analysis, CLIP, transcription, cloud shot detection
// and the event bus degrade to nil with a warning.
func NewClients(log *logger.Logger, cfg Config) (*Clients, error) {
	c := &Clients{}

	store, err := gcs.NewObjectStore(log)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	c.Store = store

	qcfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("vector store config: %w", err)
	}
	vectors, err := qdrant.NewVectorStore(log, qcfg)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	c.Vectors = instrumentVectorStore("qdrant", vectors)

	texts, err := openai.NewClient(log)
	if err != nil {
		return nil, fmt.Errorf("text embedder: %w", err)
	}
	c.Texts = texts

	if visual, err := openai.NewVisualAnalyzer(log, texts); err != nil {
		log.Warn("visual analyzer unavailable, scenes keep empty visual fields", "error", err)
	} else {
		c.Visual = visual
	}
	if clipClient, err := clip.NewClient(log); err != nil {
		log.Warn("clip service unavailable, clip_image channel disabled", "error", err)
	} else {
		c.Clip = clipClient
	}
	if speech, err := whisper.NewClient(log); err != nil {
		log.Warn("transcriber unavailable, videos index without transcripts", "error", err)
	} else {
		c.Speech = speech
	}
	if shots, err := gcpvideo.NewShotDetector(log); err != nil {
		log.Warn("cloud shot detection unavailable, using local strategies", "error", err)
	} else {
		c.Shots = shots
	}
	c.Media = localmedia.New(log)

	if bus, err := redisbus.NewBus(log); err != nil {
		log.Warn("job event bus unavailable, progress events disabled", "error", err)
	} else {
		c.Bus = bus
	}

	if cfg.RedisAddr != "" {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		c.AsynqClient = asynq.NewClient(redisOpt)
		c.AsynqInspector = asynq.NewInspector(redisOpt)
	} else {
		log.Warn("REDIS_ADDR unset, job enqueueing disabled")
	}

	return c, nil
}

// Close releases the broker connections; adapter HTTP clients need no
// explicit shutdown.
func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.AsynqClient != nil {
		_ = c.AsynqClient.Close()
	}
	if c.AsynqInspector != nil {
		_ = c.AsynqInspector.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Shots != nil {
		_ = c.Shots.Close()
	}
}
