package app

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/heimdex/heimdex-backend/internal/config"
	"github.com/heimdex/heimdex-backend/internal/data/db"
	"github.com/heimdex/heimdex-backend/internal/ingestion/embedder"
	"github.com/heimdex/heimdex-backend/internal/ingestion/framequality"
	"github.com/heimdex/heimdex-backend/internal/ingestion/pipeline"
	"github.com/heimdex/heimdex-backend/internal/ingestion/scenedetect"
	"github.com/heimdex/heimdex-backend/internal/jobs"
	"github.com/heimdex/heimdex-backend/internal/observability"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/utils"
)

// WorkerApp is the ingestion process: it consumes the job queues and runs
// the sidecar pipeline. It shares the bootstrap (config, tuning, Postgres,
// adapters) with the API process but serves no HTTP beyond metrics export
// done by the API side.
type WorkerApp struct {
	Log     *logger.Logger
	DB      *gorm.DB
	Cfg     Config
	Tuning  config.Tuning
	Clients *Clients
	Repos   Repos
	Worker  *jobs.Worker
	Metrics *observability.Metrics

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
}

func NewWorkerApp(ctx context.Context) (*WorkerApp, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	if cfg.RedisAddr == "" {
		log.Sync()
		return nil, fmt.Errorf("worker requires REDIS_ADDR")
	}

	tuning := config.LoadTuning(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	metrics := observability.Init(log)
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "heimdex-worker",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})

	clients, err := NewClients(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, tuning, reposet, clients)
	if err != nil {
		log.Sync()
		return nil, err
	}
	if err := serviceset.Lexical.EnsureIndex(ctx); err != nil {
		log.Sync()
		return nil, fmt.Errorf("ensure lexical index: %w", err)
	}

	// One shared permit pool bounds every embedding/completion call in the
	// process, across concurrent jobs.
	maxAPI := utils.GetEnvAsInt("MAX_API_CONCURRENCY", 8, log)
	sem := semaphore.NewWeighted(int64(maxAPI))

	embed, err := embedder.NewEmbedder(log, tuning.Embedding, clients.Texts, clients.Clip, sem)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	detector := scenedetect.NewDetector(log, tuning.SceneDetect, clients.Media, clients.Shots)
	ranker := framequality.NewRanker(log, tuning.FrameQuality, clients.Media)

	builder := pipeline.NewSidecarBuilder(
		theDB,
		log,
		tuning.Pipeline,
		reposet.Video,
		reposet.Scene,
		clients.Store,
		clients.Media,
		detector,
		ranker,
		clients.Visual,
		clients.Speech,
		embed,
		clients.Vectors,
		serviceset.Lexical,
		serviceset.Notifier.StageHook(),
	)

	worker, err := jobs.NewWorker(log, tuning.Jobs, asynq.RedisClientOpt{Addr: cfg.RedisAddr}, jobs.Deps{
		DB:      theDB,
		Jobs:    reposet.JobRun,
		Videos:  reposet.Video,
		Persons: reposet.Person,
		Scenes:  reposet.Scene,
		Builder: builder,
		Store:   clients.Store,
		Clip:    clients.Clip,
		Vectors: clients.Vectors,
		Notify:  serviceset.Notifier,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init worker: %w", err)
	}

	return &WorkerApp{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Tuning:       tuning,
		Clients:      clients,
		Repos:        reposet,
		Worker:       worker,
		Metrics:      metrics,
		pg:           pg,
		otelShutdown: otelShutdown,
	}, nil
}

// Run serves queue tasks until ctx is cancelled.
func (a *WorkerApp) Run(ctx context.Context) error {
	if a == nil || a.Worker == nil {
		return fmt.Errorf("worker not initialized")
	}
	if a.Metrics != nil {
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.Metrics.StartJobQueueCollector(ctx, a.Log, a.DB)
		if a.Cfg.RedisAddr != "" {
			a.Metrics.StartRedisCollector(ctx, a.Log, a.Cfg.RedisAddr)
		}
	}
	return a.Worker.Run(ctx)
}

func (a *WorkerApp) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
