package app

import (
	"context"
	"errors"
	"testing"

	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
)

func TestInstrumentVectorStorePassThrough(t *testing.T) {
	inner := &fakeInstrumentedInner{}
	vs := instrumentVectorStore("qdrant", inner)
	if vs == nil {
		t.Fatalf("instrumentVectorStore: expected non-nil wrapper")
	}

	ctx := context.Background()
	if err := vs.UpsertScene(ctx, vectorstore.ScenePoint{SceneID: "s1"}); err != nil {
		t.Fatalf("UpsertScene: %v", err)
	}
	if _, err := vs.Nearest(ctx, "transcript", []float32{1, 2, 3}, "t1", 5, 0.2, ""); err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if _, err := vs.BatchScore(ctx, "clip_image", []float32{1, 2, 3}, []string{"s1"}, "t1"); err != nil {
		t.Fatalf("BatchScore: %v", err)
	}
	if err := vs.DeleteScenes(ctx, "t1", "v1"); err != nil {
		t.Fatalf("DeleteScenes: %v", err)
	}

	if inner.upsertCalls != 1 || inner.nearestCalls != 1 || inner.batchScoreCalls != 1 || inner.deleteCalls != 1 {
		t.Fatalf(
			"unexpected call counts: upsert=%d nearest=%d batch_score=%d delete=%d",
			inner.upsertCalls,
			inner.nearestCalls,
			inner.batchScoreCalls,
			inner.deleteCalls,
		)
	}
}

func TestInstrumentVectorStoreErrorPassThrough(t *testing.T) {
	want := errors.New("delete failed")
	inner := &fakeInstrumentedInner{deleteErr: want}
	vs := instrumentVectorStore("qdrant", inner)

	err := vs.DeleteScenes(context.Background(), "t1", "v1")
	if !errors.Is(err, want) {
		t.Fatalf("DeleteScenes: expected error %v, got=%v", want, err)
	}
}

func TestInstrumentVectorStoreNilInner(t *testing.T) {
	if vs := instrumentVectorStore("qdrant", nil); vs != nil {
		t.Fatalf("expected nil wrapper for nil inner store")
	}
}

type fakeInstrumentedInner struct {
	upsertCalls     int
	nearestCalls    int
	batchScoreCalls int
	deleteCalls     int

	deleteErr error
}

func (f *fakeInstrumentedInner) UpsertScene(_ context.Context, _ vectorstore.ScenePoint) error {
	f.upsertCalls++
	return nil
}

func (f *fakeInstrumentedInner) Nearest(_ context.Context, _ string, _ []float32, _ string, _ int, _ float64, _ string) ([]vectorstore.Match, error) {
	f.nearestCalls++
	return []vectorstore.Match{{SceneID: "s1", Rank: 1, Similarity: 0.9}}, nil
}

func (f *fakeInstrumentedInner) BatchScore(_ context.Context, _ string, _ []float32, _ []string, _ string) (map[string]float64, error) {
	f.batchScoreCalls++
	return map[string]float64{"s1": 0.9}, nil
}

func (f *fakeInstrumentedInner) DeleteScenes(_ context.Context, _, _ string) error {
	f.deleteCalls++
	return f.deleteErr
}

func (f *fakeInstrumentedInner) UpdatePersonQueryEmbedding(_ context.Context, _, _ string, _ []float32) error {
	return nil
}

func (f *fakeInstrumentedInner) GetPersonQueryEmbedding(_ context.Context, _, _ string) ([]float32, error) {
	return nil, nil
}

func (f *fakeInstrumentedInner) DeletePerson(_ context.Context, _, _ string) error {
	return nil
}
