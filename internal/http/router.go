package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/heimdex/heimdex-backend/internal/http/handlers"
	httpMW "github.com/heimdex/heimdex-backend/internal/http/middleware"
	"github.com/heimdex/heimdex-backend/internal/observability"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	AuthHandler    *httpH.AuthHandler
	AuthMiddleware *httpMW.AuthMiddleware

	VideoHandler      *httpH.VideoHandler
	SearchHandler     *httpH.SearchHandler
	PreferenceHandler *httpH.PreferenceHandler
	JobHandler        *httpH.JobHandler
	PersonHandler     *httpH.PersonHandler
	EventsHandler     *httpH.EventsHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())
	r.Use(otelgin.Middleware("heimdex-backend"))
	if cfg.Metrics != nil {
		r.Use(httpMW.Metrics(cfg.Metrics))
	}

	// Ops (public)
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	// Auth (public)
	if cfg.AuthHandler != nil {
		r.POST("/auth/token", cfg.AuthHandler.IssueToken)
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}
	{
		// Search
		if cfg.SearchHandler != nil {
			api.POST("/search", cfg.SearchHandler.Search)
		}
		if cfg.PreferenceHandler != nil {
			api.GET("/search/preferences", cfg.PreferenceHandler.Get)
			api.PUT("/search/preferences", cfg.PreferenceHandler.Update)
		}

		// Videos
		if cfg.VideoHandler != nil {
			api.POST("/videos", cfg.VideoHandler.Upload)
			api.GET("/videos", cfg.VideoHandler.List)
			api.GET("/videos/:id", cfg.VideoHandler.Get)
			api.DELETE("/videos/:id", cfg.VideoHandler.Delete)
			api.POST("/videos/:id/reprocess", cfg.VideoHandler.Reprocess)
			api.POST("/videos/:id/export", cfg.VideoHandler.Export)
		}

		// Jobs
		if cfg.JobHandler != nil {
			api.GET("/jobs/:id", cfg.JobHandler.Get)
			api.POST("/jobs/:id/cancel", cfg.JobHandler.Cancel)
		}

		// Persons (read-side)
		if cfg.PersonHandler != nil {
			api.GET("/persons", cfg.PersonHandler.List)
			api.GET("/persons/:id", cfg.PersonHandler.Get)
			api.POST("/persons/:id/embedding/refresh", cfg.PersonHandler.RefreshEmbedding)
		}

		// Job progress (SSE)
		if cfg.EventsHandler != nil {
			api.GET("/events/jobs", cfg.EventsHandler.Stream)
		}
	}

	return r
}
