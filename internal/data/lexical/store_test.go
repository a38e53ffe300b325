package lexical

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/heimdex/heimdex-backend/internal/data/repos/testutil"
	types "github.com/heimdex/heimdex-backend/internal/domain"
)

func newDoc(tb testing.TB, tenantID, videoID uuid.UUID, index int) *SceneDoc {
	tb.Helper()
	return &SceneDoc{
		SceneID:    uuid.New(),
		TenantID:   tenantID,
		VideoID:    videoID,
		SceneIndex: index,
		StartS:     float64(index) * 5,
		EndS:       float64(index)*5 + 5,
		Language:   "en",
	}
}

func TestLexicalStoreSearchRanking(t *testing.T) {
	db := testutil.PostgresDB(t)
	store := NewPostgresStore(db, testutil.Logger(t))
	ctx := context.Background()

	if err := store.EnsureIndex(ctx); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if err := store.EnsureIndex(ctx); err != nil {
		t.Fatalf("EnsureIndex rerun: %v", err)
	}

	tenantID := uuid.New()
	otherTenant := uuid.New()
	videoA := uuid.New()
	videoB := uuid.New()
	t.Cleanup(func() {
		db.Where("tenant_id IN ?", []uuid.UUID{tenantID, otherTenant}).Delete(&SceneDoc{})
	})

	tagged := newDoc(t, tenantID, videoA, 0)
	tagged.Tags = datatypes.JSON([]byte(`["sunset","beach"]`))
	tagged.TagsText = "sunset beach"
	tagged.CombinedText = "opening shot of the coastline"

	spoken := newDoc(t, tenantID, videoA, 1)
	spoken.TranscriptSegment = "they walked along the beach at dusk"

	combined := newDoc(t, tenantID, videoB, 0)
	combined.CombinedText = "Scene 3. A beach umbrella leaning in the sand."

	foreign := newDoc(t, otherTenant, uuid.New(), 0)
	foreign.TagsText = "beach"

	if err := store.BulkUpsert(ctx, []*SceneDoc{tagged, spoken, combined, foreign}); err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}

	hits, err := store.Search(ctx, tenantID, "beach", "en", 10, Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	// Field boosts: tags outrank transcript outrank combined text.
	if hits[0].SceneID != tagged.SceneID {
		t.Errorf("expected tagged doc first, got %s", hits[0].SceneID)
	}
	if hits[1].SceneID != spoken.SceneID {
		t.Errorf("expected transcript doc second, got %s", hits[1].SceneID)
	}
	if hits[2].SceneID != combined.SceneID {
		t.Errorf("expected combined-text doc last, got %s", hits[2].SceneID)
	}
	for i, h := range hits {
		if h.Rank != i+1 {
			t.Errorf("hit %d: expected rank %d, got %d", i, i+1, h.Rank)
		}
		if i > 0 && h.Score > hits[i-1].Score {
			t.Errorf("hit %d: score %f above previous %f", i, h.Score, hits[i-1].Score)
		}
	}
	for _, h := range hits {
		if h.SceneID == foreign.SceneID {
			t.Fatal("search leaked another tenant's doc")
		}
	}

	scoped, err := store.Search(ctx, tenantID, "beach", "en", 10, Filters{VideoID: &videoA})
	if err != nil {
		t.Fatalf("Search with video filter: %v", err)
	}
	if len(scoped) != 2 {
		t.Fatalf("expected 2 hits for video filter, got %d", len(scoped))
	}
	for _, h := range scoped {
		if h.SceneID == combined.SceneID {
			t.Error("video filter leaked a doc from another video")
		}
	}

	empty, err := store.Search(ctx, tenantID, "   ", "en", 10, Filters{})
	if err != nil {
		t.Fatalf("Search with blank query: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no hits for blank query, got %d", len(empty))
	}

	miss, err := store.Search(ctx, tenantID, "zeppelin", "en", 10, Filters{})
	if err != nil {
		t.Fatalf("Search with no matches: %v", err)
	}
	if len(miss) != 0 {
		t.Errorf("expected no hits, got %d", len(miss))
	}
}

func TestLexicalStoreKoreanConfig(t *testing.T) {
	db := testutil.PostgresDB(t)
	store := NewPostgresStore(db, testutil.Logger(t))
	ctx := context.Background()

	if err := store.EnsureIndex(ctx); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}

	tenantID := uuid.New()
	t.Cleanup(func() {
		db.Where("tenant_id = ?", tenantID).Delete(&SceneDoc{})
	})

	doc := newDoc(t, tenantID, uuid.New(), 0)
	doc.Language = "ko"
	doc.TranscriptSegment = "결혼식 축배 장면"
	if err := store.UpsertDoc(ctx, doc); err != nil {
		t.Fatalf("UpsertDoc: %v", err)
	}

	hits, err := store.Search(ctx, tenantID, "축배", "ko", 10, Filters{})
	if err != nil {
		t.Fatalf("Search ko: %v", err)
	}
	if len(hits) != 1 || hits[0].SceneID != doc.SceneID {
		t.Fatalf("expected the Korean doc, got %d hits", len(hits))
	}
}

func TestLexicalStoreUpsertAndDelete(t *testing.T) {
	db := testutil.PostgresDB(t)
	store := NewPostgresStore(db, testutil.Logger(t))
	ctx := context.Background()

	if err := store.EnsureIndex(ctx); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}

	tenantID := uuid.New()
	videoID := uuid.New()
	t.Cleanup(func() {
		db.Where("tenant_id = ?", tenantID).Delete(&SceneDoc{})
	})

	doc := newDoc(t, tenantID, videoID, 0)
	doc.TranscriptSegment = "a red bicycle crosses the bridge"
	if err := store.UpsertDoc(ctx, doc); err != nil {
		t.Fatalf("UpsertDoc: %v", err)
	}

	doc.TranscriptSegment = "a green truck idles at the light"
	if err := store.UpsertDoc(ctx, doc); err != nil {
		t.Fatalf("UpsertDoc rewrite: %v", err)
	}

	var count int64
	if err := db.Model(&SceneDoc{}).Where("scene_id = ?", doc.SceneID).Count(&count).Error; err != nil {
		t.Fatalf("count docs: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 doc after re-upsert, got %d", count)
	}

	stale, err := store.Search(ctx, tenantID, "bicycle", "en", 10, Filters{})
	if err != nil {
		t.Fatalf("Search stale term: %v", err)
	}
	if len(stale) != 0 {
		t.Error("re-upsert left the old text searchable")
	}
	fresh, err := store.Search(ctx, tenantID, "truck", "en", 10, Filters{})
	if err != nil {
		t.Fatalf("Search fresh term: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("expected 1 hit for rewritten text, got %d", len(fresh))
	}

	if err := store.UpsertDoc(ctx, nil); err != nil {
		t.Errorf("UpsertDoc(nil): %v", err)
	}
	if err := store.BulkUpsert(ctx, nil); err != nil {
		t.Errorf("BulkUpsert(nil): %v", err)
	}
	if err := store.BulkUpsert(ctx, []*SceneDoc{{TenantID: tenantID, VideoID: videoID}}); err == nil {
		t.Error("expected error for doc without scene_id")
	}

	if err := store.DeleteByVideo(ctx, videoID); err != nil {
		t.Fatalf("DeleteByVideo: %v", err)
	}
	if err := db.Model(&SceneDoc{}).Where("video_id = ?", videoID).Count(&count).Error; err != nil {
		t.Fatalf("count after delete: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 docs after DeleteByVideo, got %d", count)
	}
}

func TestDocFromScene(t *testing.T) {
	scene := &types.Scene{
		ID:                uuid.New(),
		TenantID:          uuid.New(),
		VideoID:           uuid.New(),
		SceneIndex:        2,
		StartS:            10.5,
		EndS:              17.25,
		Transcript:        "hello there",
		VisualSummary:     "two people talking",
		VisualDescription: "a kitchen with warm light",
		CombinedText:      "Scene 3. two people talking",
		Tags:              datatypes.JSON([]byte(`["kitchen","dialogue"]`)),
		ThumbnailKey:      "tenant/video/thumbnails/scene_2.jpg",
	}

	doc := DocFromScene(scene, "en")
	if doc.SceneID != scene.ID || doc.TenantID != scene.TenantID || doc.VideoID != scene.VideoID {
		t.Fatal("ids not carried over")
	}
	if doc.SceneIndex != 2 || doc.StartS != 10.5 || doc.EndS != 17.25 {
		t.Error("scene bounds not carried over")
	}
	if doc.TranscriptSegment != scene.Transcript {
		t.Errorf("transcript: got %q", doc.TranscriptSegment)
	}
	if doc.TagsText != "kitchen dialogue" {
		t.Errorf("tags_text: got %q", doc.TagsText)
	}
	if doc.Language != "en" {
		t.Errorf("language: got %q", doc.Language)
	}

	if DocFromScene(nil, "en") != nil {
		t.Error("expected nil doc for nil scene")
	}

	bad := *scene
	bad.Tags = datatypes.JSON([]byte(`{"not":"a list"}`))
	if got := DocFromScene(&bad, "en").TagsText; got != "" {
		t.Errorf("expected empty tags_text for malformed tags, got %q", got)
	}
}
