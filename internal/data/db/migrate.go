package db

import (
	"fmt"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// =========================
		// Tenancy + auth
		// =========================
		&types.Tenant{},

		// =========================
		// Video library + sidecar
		// =========================
		&types.Video{},
		&types.Scene{},

		// =========================
		// Persons (read-side)
		// =========================
		&types.Person{},
		&types.PersonAppearance{},

		// =========================
		// Search preferences
		// =========================
		&types.SearchPreference{},

		// =========================
		// Jobs / worker
		// =========================
		&types.JobRun{},
		&types.JobRunEvent{},
	)
}

// EnsureSearchIndexes adds the composite indexes the hot query paths lean on.
// AutoMigrate covers the single-column tags; everything multi-column or
// partial lives here. Postgres-only.
func EnsureSearchIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_video_tenant_status_created
		ON video (tenant_id, status, created_at DESC)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_video_tenant_status_created: %w", err)
	}

	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_scene_video_index
		ON scene (video_id, scene_index)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_scene_video_index: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_scene_tenant_retrievable
		ON scene (tenant_id, retrievable)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_scene_tenant_retrievable: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_person_tenant_status_name
		ON person (tenant_id, status, lower(display_name))
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_person_tenant_status_name: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_tenant_created
		ON job_run (tenant_id, created_at DESC)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_tenant_created: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_video_kind_status
		ON job_run (video_id, kind, status)
		WHERE deleted_at IS NULL AND video_id IS NOT NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_video_kind_status: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_run_event_job_created
		ON job_run_event (job_id, created_at ASC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_run_event_job_created: %w", err)
	}

	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureSearchIndexes(s.db); err != nil {
		s.log.Error("Search index migration failed", "error", err)
		return err
	}
	return nil
}
