package app

import (
	"context"
	"time"

	"github.com/heimdex/heimdex-backend/internal/observability"
	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
)

// instrumentedVectorStore records per-operation latency and status for
// every vector store call. When metrics are disabled it is a transparent
// pass-through.
type instrumentedVectorStore struct {
	provider string
	inner    vectorstore.VectorStore
	metrics  *observability.Metrics
}

func instrumentVectorStore(provider string, inner vectorstore.VectorStore) vectorstore.VectorStore {
	if inner == nil {
		return nil
	}
	return &instrumentedVectorStore{
		provider: provider,
		inner:    inner,
		metrics:  observability.Current(),
	}
}

func (s *instrumentedVectorStore) UpsertScene(ctx context.Context, point vectorstore.ScenePoint) error {
	start := time.Now()
	err := s.inner.UpsertScene(ctx, point)
	s.observe("upsert_scene", err, time.Since(start))
	return err
}

func (s *instrumentedVectorStore) Nearest(ctx context.Context, channel string, query []float32, tenantID string, topK int, threshold float64, videoID string) ([]vectorstore.Match, error) {
	start := time.Now()
	out, err := s.inner.Nearest(ctx, channel, query, tenantID, topK, threshold, videoID)
	s.observe("nearest", err, time.Since(start))
	return out, err
}

func (s *instrumentedVectorStore) BatchScore(ctx context.Context, channel string, query []float32, sceneIDs []string, tenantID string) (map[string]float64, error) {
	start := time.Now()
	out, err := s.inner.BatchScore(ctx, channel, query, sceneIDs, tenantID)
	s.observe("batch_score", err, time.Since(start))
	return out, err
}

func (s *instrumentedVectorStore) DeleteScenes(ctx context.Context, tenantID, videoID string) error {
	start := time.Now()
	err := s.inner.DeleteScenes(ctx, tenantID, videoID)
	s.observe("delete_scenes", err, time.Since(start))
	return err
}

func (s *instrumentedVectorStore) UpdatePersonQueryEmbedding(ctx context.Context, tenantID, personID string, vec []float32) error {
	start := time.Now()
	err := s.inner.UpdatePersonQueryEmbedding(ctx, tenantID, personID, vec)
	s.observe("update_person_embedding", err, time.Since(start))
	return err
}

func (s *instrumentedVectorStore) GetPersonQueryEmbedding(ctx context.Context, tenantID, personID string) ([]float32, error) {
	start := time.Now()
	out, err := s.inner.GetPersonQueryEmbedding(ctx, tenantID, personID)
	s.observe("get_person_embedding", err, time.Since(start))
	return out, err
}

func (s *instrumentedVectorStore) DeletePerson(ctx context.Context, tenantID, personID string) error {
	start := time.Now()
	err := s.inner.DeletePerson(ctx, tenantID, personID)
	s.observe("delete_person", err, time.Since(start))
	return err
}

func (s *instrumentedVectorStore) observe(operation string, err error, dur time.Duration) {
	if s == nil || s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveVectorStoreOp(s.provider, operation, status, dur)
}
