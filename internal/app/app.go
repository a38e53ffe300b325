package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/heimdex/heimdex-backend/internal/config"
	"github.com/heimdex/heimdex-backend/internal/data/db"
	httpserver "github.com/heimdex/heimdex-backend/internal/http"
	httpH "github.com/heimdex/heimdex-backend/internal/http/handlers"
	httpMW "github.com/heimdex/heimdex-backend/internal/http/middleware"
	"github.com/heimdex/heimdex-backend/internal/observability"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/realtime"
)

// App is the API process: HTTP surface, realtime fan-out, and the enqueue
// side of the job system. Ingestion itself runs in the worker binary.
type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Tuning   config.Tuning
	Clients  *Clients
	Repos    Repos
	Services Services
	Hub      *realtime.Hub
	Server   *httpserver.Server
	Metrics  *observability.Metrics

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
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
	gin.SetMode(cfg.GinMode)

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
	if err := db.EnsureSearchIndexes(theDB); err != nil {
		log.Sync()
		return nil, fmt.Errorf("ensure search indexes: %w", err)
	}

	metrics := observability.Init(log)
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "heimdex-api",
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

	hub := realtime.NewHub(log)

	server := httpserver.NewServer(httpserver.RouterConfig{
		Log:     log,
		Metrics: metrics,

		AuthHandler:    httpH.NewAuthHandler(serviceset.Auth),
		AuthMiddleware: httpMW.NewAuthMiddleware(log, serviceset.Auth),

		VideoHandler:      httpH.NewVideoHandler(serviceset.Video, serviceset.Enqueuer, clients.Store),
		SearchHandler:     httpH.NewSearchHandler(serviceset.Search),
		PreferenceHandler: httpH.NewPreferenceHandler(serviceset.Preference),
		JobHandler:        httpH.NewJobHandler(serviceset.Job),
		PersonHandler:     httpH.NewPersonHandler(serviceset.Person),
		EventsHandler:     httpH.NewEventsHandler(hub),

		HealthHandler: httpH.NewHealthHandler(wireHealthChecks(pg, clients)),
	})

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Tuning:       tuning,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Hub:          hub,
		Server:       server,
		Metrics:      metrics,
		pg:           pg,
		otelShutdown: otelShutdown,
	}, nil
}

func wireHealthChecks(pg *db.PostgresService, clients *Clients) map[string]httpH.HealthCheck {
	checks := map[string]httpH.HealthCheck{
		"postgres": func(ctx context.Context) error {
			return pg.Ping()
		},
	}
	if clients.AsynqInspector != nil {
		checks["redis"] = func(ctx context.Context) error {
			_, err := clients.AsynqInspector.Queues()
			return err
		}
	}
	return checks
}

// Start launches the background plumbing: Redis job event fan-out into the
// SSE hub and the metrics collectors. Safe to call once.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Clients.Bus != nil {
		if err := a.Clients.Bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
			a.Log.Warn("job event forwarder failed to start", "error", err)
		}
	}

	if a.Metrics != nil {
		a.Metrics.StartSLOEvaluator(ctx, a.Log)
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.Metrics.StartJobQueueCollector(ctx, a.Log, a.DB)
		if a.Cfg.RedisAddr != "" {
			a.Metrics.StartRedisCollector(ctx, a.Log, a.Cfg.RedisAddr)
		}
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(":" + a.Cfg.Port)
}

// Shutdown drains the HTTP server, then stops background loops and closes
// the broker and database connections.
func (a *App) Shutdown(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("http shutdown", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
