package app

import (
	"gorm.io/gorm"

	"github.com/heimdex/heimdex-backend/internal/data/repos"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

type Repos struct {
	Tenant           repos.TenantRepo
	Video            repos.VideoRepo
	Scene            repos.SceneRepo
	Person           repos.PersonRepo
	PersonAppearance repos.PersonAppearanceRepo
	SearchPreference repos.SearchPreferenceRepo
	JobRun           repos.JobRunRepo
	JobRunEvent      repos.JobRunEventRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Tenant:           repos.NewTenantRepo(db, log),
		Video:            repos.NewVideoRepo(db, log),
		Scene:            repos.NewSceneRepo(db, log),
		Person:           repos.NewPersonRepo(db, log),
		PersonAppearance: repos.NewPersonAppearanceRepo(db, log),
		SearchPreference: repos.NewSearchPreferenceRepo(db, log),
		JobRun:           repos.NewJobRunRepo(db, log),
		JobRunEvent:      repos.NewJobRunEventRepo(db, log),
	}
}
