package search

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-backend/internal/data/lexical"
	"github.com/heimdex/heimdex-backend/internal/platform/gcs"
	"github.com/heimdex/heimdex-backend/internal/platform/openai"
	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
)

// nearestCall records one vector store query for later assertions.
type nearestCall struct {
	Channel   string
	TenantID  string
	TopK      int
	Threshold float64
	VideoID   string
}

type fakeVectorStore struct {
	mu         sync.Mutex
	nearest    map[string][]vectorstore.Match
	nearestErr map[string]error
	batch      map[string]float64
	batchErr   error
	personVec  []float32
	personErr  error

	nearestCalls []nearestCall
	batchTenants []string
	batchIDs     [][]string
}

func (f *fakeVectorStore) UpsertScene(ctx context.Context, point vectorstore.ScenePoint) error {
	return nil
}

func (f *fakeVectorStore) Nearest(ctx context.Context, channel string, query []float32, tenantID string, topK int, threshold float64, videoID string) ([]vectorstore.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nearestCalls = append(f.nearestCalls, nearestCall{
		Channel:   channel,
		TenantID:  tenantID,
		TopK:      topK,
		Threshold: threshold,
		VideoID:   videoID,
	})
	if err := f.nearestErr[channel]; err != nil {
		return nil, err
	}
	return f.nearest[channel], nil
}

func (f *fakeVectorStore) BatchScore(ctx context.Context, channel string, query []float32, sceneIDs []string, tenantID string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchTenants = append(f.batchTenants, tenantID)
	f.batchIDs = append(f.batchIDs, append([]string(nil), sceneIDs...))
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make(map[string]float64, len(sceneIDs))
	for _, id := range sceneIDs {
		if s, ok := f.batch[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeVectorStore) DeleteScenes(ctx context.Context, tenantID, videoID string) error {
	return nil
}

func (f *fakeVectorStore) UpdatePersonQueryEmbedding(ctx context.Context, tenantID, personID string, vec []float32) error {
	return nil
}

func (f *fakeVectorStore) GetPersonQueryEmbedding(ctx context.Context, tenantID, personID string) ([]float32, error) {
	if f.personErr != nil {
		return nil, f.personErr
	}
	return f.personVec, nil
}

func (f *fakeVectorStore) DeletePerson(ctx context.Context, tenantID, personID string) error {
	return nil
}

// calls filters the recorded queries down to one channel.
func (f *fakeVectorStore) calls(channel string) []nearestCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []nearestCall
	for _, c := range f.nearestCalls {
		if c.Channel == channel {
			out = append(out, c)
		}
	}
	return out
}

type fakeLexicalStore struct {
	mu   sync.Mutex
	hits []lexical.Hit
	err  error

	calls      int
	gotTenant  uuid.UUID
	gotQuery   string
	gotLang    string
	gotSize    int
	gotFilters lexical.Filters
}

func (f *fakeLexicalStore) EnsureIndex(ctx context.Context) error { return nil }

func (f *fakeLexicalStore) UpsertDoc(ctx context.Context, doc *lexical.SceneDoc) error { return nil }

func (f *fakeLexicalStore) BulkUpsert(ctx context.Context, docs []*lexical.SceneDoc) error {
	return nil
}

func (f *fakeLexicalStore) DeleteByVideo(ctx context.Context, videoID uuid.UUID) error { return nil }

func (f *fakeLexicalStore) Search(ctx context.Context, tenantID uuid.UUID, query, lang string, size int, filters lexical.Filters) ([]lexical.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotTenant, f.gotQuery, f.gotLang, f.gotSize, f.gotFilters = tenantID, query, lang, size, filters
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakeTextClient struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	calls int
}

func (f *fakeTextClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		v := f.vec
		if v == nil {
			v = []float32{3, 4}
		}
		out[i] = append([]float32(nil), v...)
	}
	return out, nil
}

func (f *fakeTextClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTextClient) GenerateJSONWithImages(ctx context.Context, system, user string, images []openai.ImageInput, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTextClient) EmbedModel() string { return "text-embedding-test" }

type fakeClipEncoder struct {
	mu        sync.Mutex
	vec       []float32
	err       error
	textCalls int
}

func (f *fakeClipEncoder) EmbedImage(ctx context.Context, imagePath string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClipEncoder) EmbedTextForImageSpace(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.textCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.vec != nil {
		return append([]float32(nil), f.vec...), nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeClipEncoder) Model() string { return "clip-test" }
func (f *fakeClipEncoder) Dim() int      { return 3 }

type fakeSignedStore struct{}

func (f *fakeSignedStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	return errors.New("not implemented")
}

func (f *fakeSignedStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSignedStore) OpenRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSignedStore) GetObjectAttrs(ctx context.Context, key string) (*gcs.ObjectAttrs, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSignedStore) Delete(ctx context.Context, key string) error          { return nil }
func (f *fakeSignedStore) DeletePrefix(ctx context.Context, prefix string) error { return nil }

func (f *fakeSignedStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (f *fakeSignedStore) SignedDownloadURL(key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (f *fakeSignedStore) SignedUploadURL(key, contentType string, ttl time.Duration) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeSignedStore) PublicURL(key string) string { return "https://pub.example/" + key }
func (f *fakeSignedStore) GCSURI(key string) string    { return "gs://test-bucket/" + key }
