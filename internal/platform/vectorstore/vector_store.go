package vectorstore

import "context"

// ScenePoint is one scene's channel embeddings plus the payload the search
// path filters on. Vectors holds only the channels that produced an
// embedding; absent channels simply never match.
type ScenePoint struct {
	SceneID    string
	TenantID   string
	VideoID    string
	SceneIndex int
	StartS     float64
	EndS       float64
	Vectors    map[string][]float32
	Payload    map[string]any
}

// Match is one nearest-neighbor hit. Rank is dense, 1-based, assigned in
// descending similarity order.
type Match struct {
	SceneID    string
	Rank       int
	Similarity float64
}

type VectorStore interface {
	UpsertScene(ctx context.Context, point ScenePoint) error
	Nearest(ctx context.Context, channel string, query []float32, tenantID string, topK int, threshold float64, videoID string) ([]Match, error)
	BatchScore(ctx context.Context, channel string, query []float32, sceneIDs []string, tenantID string) (map[string]float64, error)
	DeleteScenes(ctx context.Context, tenantID, videoID string) error
	UpdatePersonQueryEmbedding(ctx context.Context, tenantID, personID string, vec []float32) error
	GetPersonQueryEmbedding(ctx context.Context, tenantID, personID string) ([]float32, error)
	DeletePerson(ctx context.Context, tenantID, personID string) error
}
