package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func SeedTenant(tb testing.TB, ctx context.Context, tx *gorm.DB, name string) *types.Tenant {
	tb.Helper()
	t := &types.Tenant{
		ID:         uuid.New(),
		Name:       name,
		APIKeyHash: "hash",
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed tenant: %v", err)
	}
	return t
}

func SeedVideo(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, status string) *types.Video {
	tb.Helper()
	id := uuid.New()
	v := &types.Video{
		ID:         id,
		TenantID:   tenantID,
		Filename:   "clip.mp4",
		Ext:        "mp4",
		StorageKey: fmt.Sprintf("%s/%s.mp4", tenantID, id),
		DurationS:  42.5,
		Status:     status,
		Language:   "en",
		Metadata:   datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(v).Error; err != nil {
		tb.Fatalf("seed video: %v", err)
	}
	return v
}

func SeedScene(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID, videoID uuid.UUID, index int, startS, endS float64) *types.Scene {
	tb.Helper()
	s := &types.Scene{
		ID:           uuid.New(),
		TenantID:     tenantID,
		VideoID:      videoID,
		SceneIndex:   index,
		StartS:       startS,
		EndS:         endS,
		Transcript:   "transcript",
		CombinedText: "combined",
		Retrievable:  true,
		Keyframes:    datatypes.JSON([]byte("[]")),
		Channels:     datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed scene: %v", err)
	}
	return s
}

func SeedPerson(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, name, status string) *types.Person {
	tb.Helper()
	p := &types.Person{
		ID:          uuid.New(),
		TenantID:    tenantID,
		DisplayName: name,
		Status:      status,
		Aliases:     datatypes.JSON([]byte("[]")),
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed person: %v", err)
	}
	return p
}

func SeedJobRun(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, videoID *uuid.UUID, kind, status string) *types.JobRun {
	tb.Helper()
	id := uuid.New()
	j := &types.JobRun{
		ID:          id,
		TenantID:    tenantID,
		Kind:        kind,
		Fingerprint: fmt.Sprintf("%s:%s", kind, id),
		VideoID:     videoID,
		Status:      status,
		Stage:       "queued",
		QueuedAt:    time.Now().UTC(),
		Payload:     datatypes.JSON([]byte("{}")),
		Result:      datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job run: %v", err)
	}
	return j
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
