package repos

import (
	"github.com/heimdex/heimdex-backend/internal/data/repos/jobs"
	"github.com/heimdex/heimdex-backend/internal/data/repos/persons"
	"github.com/heimdex/heimdex-backend/internal/data/repos/prefs"
	"github.com/heimdex/heimdex-backend/internal/data/repos/scenes"
	"github.com/heimdex/heimdex-backend/internal/data/repos/tenants"
	"github.com/heimdex/heimdex-backend/internal/data/repos/videos"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"gorm.io/gorm"
)

type TenantRepo = tenants.TenantRepo

type VideoRepo = videos.VideoRepo
type SceneRepo = scenes.SceneRepo

type PersonRepo = persons.PersonRepo
type PersonAppearanceRepo = persons.PersonAppearanceRepo

type SearchPreferenceRepo = prefs.SearchPreferenceRepo

type JobRunRepo = jobs.JobRunRepo
type JobRunEventRepo = jobs.JobRunEventRepo

func NewTenantRepo(db *gorm.DB, baseLog *logger.Logger) TenantRepo {
	return tenants.NewTenantRepo(db, baseLog)
}

func NewVideoRepo(db *gorm.DB, baseLog *logger.Logger) VideoRepo {
	return videos.NewVideoRepo(db, baseLog)
}

func NewSceneRepo(db *gorm.DB, baseLog *logger.Logger) SceneRepo {
	return scenes.NewSceneRepo(db, baseLog)
}

func NewPersonRepo(db *gorm.DB, baseLog *logger.Logger) PersonRepo {
	return persons.NewPersonRepo(db, baseLog)
}

func NewPersonAppearanceRepo(db *gorm.DB, baseLog *logger.Logger) PersonAppearanceRepo {
	return persons.NewPersonAppearanceRepo(db, baseLog)
}

func NewSearchPreferenceRepo(db *gorm.DB, baseLog *logger.Logger) SearchPreferenceRepo {
	return prefs.NewSearchPreferenceRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}

func NewJobRunEventRepo(db *gorm.DB, baseLog *logger.Logger) JobRunEventRepo {
	return jobs.NewJobRunEventRepo(db, baseLog)
}
