package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/heimdex/heimdex-backend/internal/config"
	"github.com/heimdex/heimdex-backend/internal/data/lexical"
	"github.com/heimdex/heimdex-backend/internal/jobs"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/search"
	"github.com/heimdex/heimdex-backend/internal/services"
)

type Services struct {
	Auth       services.AuthService
	Video      services.VideoService
	Preference services.PreferenceService
	Job        services.JobService
	Person     services.PersonService

	Search search.Service

	Notifier *jobs.Notifier
	Enqueuer jobs.Enqueuer

	Lexical lexical.LexicalStore
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, tuning config.Tuning, repos Repos, clients *Clients) (Services, error) {
	log.Info("Wiring services...")

	lexicalStore := lexical.NewPostgresStore(db, log)

	notifier := jobs.NewNotifier(log, db, repos.JobRun, repos.JobRunEvent, clients.Bus)

	if clients.AsynqClient == nil {
		return Services{}, fmt.Errorf("job enqueueing requires REDIS_ADDR")
	}
	enqueuer, err := jobs.NewEnqueuer(
		log,
		tuning.Jobs,
		clients.AsynqClient,
		clients.AsynqInspector,
		repos.Video,
		repos.Person,
		repos.JobRun,
		notifier,
	)
	if err != nil {
		return Services{}, fmt.Errorf("init enqueuer: %w", err)
	}

	planner := search.NewPlanner(log, tuning.Search, repos.Person)
	fetcher := search.NewFetcher(log, tuning.Search, clients.Vectors, lexicalStore, clients.Texts, clients.Clip)
	reranker := search.NewReranker(log, tuning.Search, clients.Vectors, clients.Clip)
	searchService := search.NewService(log, tuning.Search, planner, fetcher, reranker, repos.Scene, repos.SearchPreference, clients.Store)

	authService := services.NewAuthService(log, repos.Tenant, cfg.JWTSecretKey, cfg.AccessTokenTTL)
	videoService := services.NewVideoService(log, db, repos.Video, repos.Scene, repos.JobRun, clients.Store, clients.Vectors, lexicalStore, enqueuer)
	preferenceService := services.NewPreferenceService(log, repos.SearchPreference)
	jobService := services.NewJobService(log, repos.JobRun, repos.JobRunEvent, enqueuer)
	personService := services.NewPersonService(log, repos.Person, enqueuer)

	return Services{
		Auth:       authService,
		Video:      videoService,
		Preference: preferenceService,
		Job:        jobService,
		Person:     personService,
		Search:     searchService,
		Notifier:   notifier,
		Enqueuer:   enqueuer,
		Lexical:    lexicalStore,
	}, nil
}
