package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-backend/internal/pkg/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
)

const (
	payloadTenantKey     = "_hx_tenant_id"
	payloadKindKey       = "_hx_kind"
	payloadSceneIDKey    = "_hx_scene_id"
	payloadVideoIDKey    = "_hx_video_id"
	payloadPersonIDKey   = "_hx_person_id"
	payloadSceneIndexKey = "_hx_scene_index"
	payloadStartKey      = "_hx_start_s"
	payloadEndKey        = "_hx_end_s"

	pointKindScene  = "scene"
	pointKindPerson = "person"

	channelClipImage = "clip_image"

	maxErrorBodyBytes = 1024
)

var pointIDNamespaceUUID = uuid.MustParse("7b1c2a9e-5d04-4c1b-9a37-2de1c0a14c55")

// textChannels are the named vectors sharing the text-embedding dimension.
var textChannels = []string{"transcript", "visual", "summary"}

type vectorStore struct {
	log       *logger.Logger
	cfg       Config
	baseURL   string
	distances map[string]string
	http      *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type qdrantRetrieveResultItem struct {
	ID      json.RawMessage `json:"id"`
	Payload map[string]any  `json:"payload"`
	Vector  json.RawMessage `json:"vector"`
}

func NewVectorStore(log *logger.Logger, cfg Config) (vectorstore.VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	s := &vectorStore{
		log:       log.With("service", "QdrantVectorStore"),
		cfg:       cfg,
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		distances: map[string]string{},
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, err
	}

	s.log.Info(
		"qdrant vector store ready",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"text_dim", cfg.TextDim,
		"image_dim", cfg.ImageDim,
	)
	return s, nil
}

func (s *vectorStore) UpsertScene(ctx context.Context, point vectorstore.ScenePoint) error {
	if s == nil {
		return nil
	}
	const op = "upsert_scene"

	sceneID := strings.TrimSpace(point.SceneID)
	if sceneID == "" {
		return opErr(op, OperationErrorValidation, "scene id is required", nil)
	}
	tenantID := strings.TrimSpace(point.TenantID)
	if tenantID == "" {
		return opErr(op, OperationErrorValidation, "tenant id is required", nil)
	}
	if len(point.Vectors) == 0 {
		return opErr(op, OperationErrorValidation, fmt.Sprintf("scene %q has no channel vectors", sceneID), nil)
	}

	vectors := make(map[string][]float32, len(point.Vectors))
	for channel, values := range point.Vectors {
		dim, ok := s.channelDim(channel)
		if !ok {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("unknown channel %q", channel), nil)
		}
		if len(values) != dim {
			return opErr(
				op,
				OperationErrorValidation,
				fmt.Sprintf(
					"scene %q channel %q dimension mismatch: expected=%d got=%d",
					sceneID,
					channel,
					dim,
					len(values),
				),
				nil,
			)
		}
		vectors[channel] = values
	}

	payload := clonePayload(point.Payload)
	payload[payloadTenantKey] = tenantID
	payload[payloadKindKey] = pointKindScene
	payload[payloadSceneIDKey] = sceneID
	payload[payloadVideoIDKey] = strings.TrimSpace(point.VideoID)
	payload[payloadSceneIndexKey] = point.SceneIndex
	payload[payloadStartKey] = point.StartS
	payload[payloadEndKey] = point.EndS

	req := map[string]any{
		"points": []map[string]any{{
			"id":      s.scenePointID(tenantID, sceneID),
			"vector":  vectors,
			"payload": payload,
		}},
	}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
}

func (s *vectorStore) Nearest(ctx context.Context, channel string, query []float32, tenantID string, topK int, threshold float64, videoID string) ([]vectorstore.Match, error) {
	if s == nil {
		return nil, fmt.Errorf("vector store unavailable")
	}
	const op = "nearest"

	if err := s.validateQuery(op, channel, query, tenantID); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	must := []any{
		matchCondition(payloadTenantKey, strings.TrimSpace(tenantID)),
		matchCondition(payloadKindKey, pointKindScene),
	}
	if v := strings.TrimSpace(videoID); v != "" {
		must = append(must, matchCondition(payloadVideoIDKey, v))
	}

	req := map[string]any{
		"vector": map[string]any{
			"name":   channel,
			"vector": query,
		},
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
		"filter":       map[string]any{"must": must},
	}
	if threshold > 0 {
		req["score_threshold"] = threshold
	}

	var rawResults []qdrantSearchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &rawResults); err != nil {
		return nil, err
	}

	out := make([]vectorstore.Match, 0, len(rawResults))
	for _, item := range rawResults {
		sceneID := payloadString(item.Payload, payloadSceneIDKey)
		if sceneID == "" {
			continue
		}
		out = append(out, vectorstore.Match{
			SceneID:    sceneID,
			Similarity: s.normalizeScore(channel, item.Score),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity == out[j].Similarity {
			return out[i].SceneID < out[j].SceneID
		}
		return out[i].Similarity > out[j].Similarity
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func (s *vectorStore) BatchScore(ctx context.Context, channel string, query []float32, sceneIDs []string, tenantID string) (map[string]float64, error) {
	if s == nil {
		return nil, fmt.Errorf("vector store unavailable")
	}
	const op = "batch_score"

	if err := s.validateQuery(op, channel, query, tenantID); err != nil {
		return nil, err
	}
	if len(sceneIDs) == 0 {
		return map[string]float64{}, nil
	}

	tenant := strings.TrimSpace(tenantID)
	pointIDs := make([]string, 0, len(sceneIDs))
	seen := make(map[string]struct{}, len(sceneIDs))
	for _, id := range sceneIDs {
		sceneID := strings.TrimSpace(id)
		if sceneID == "" {
			continue
		}
		pointID := s.scenePointID(tenant, sceneID)
		if _, exists := seen[pointID]; exists {
			continue
		}
		seen[pointID] = struct{}{}
		pointIDs = append(pointIDs, pointID)
	}
	if len(pointIDs) == 0 {
		return map[string]float64{}, nil
	}

	req := map[string]any{
		"vector": map[string]any{
			"name":   channel,
			"vector": query,
		},
		"limit":        len(pointIDs),
		"with_payload": true,
		"with_vector":  false,
		"filter": map[string]any{
			"must": []any{
				map[string]any{"has_id": pointIDs},
				matchCondition(payloadTenantKey, tenant),
			},
		},
	}

	var rawResults []qdrantSearchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &rawResults); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(rawResults))
	for _, item := range rawResults {
		sceneID := payloadString(item.Payload, payloadSceneIDKey)
		if sceneID == "" {
			continue
		}
		out[sceneID] = s.normalizeScore(channel, item.Score)
	}
	return out, nil
}

func (s *vectorStore) DeleteScenes(ctx context.Context, tenantID, videoID string) error {
	if s == nil {
		return nil
	}
	const op = "delete_scenes"

	tenant := strings.TrimSpace(tenantID)
	video := strings.TrimSpace(videoID)
	if tenant == "" || video == "" {
		return opErr(op, OperationErrorValidation, "tenant id and video id are required", nil)
	}

	req := map[string]any{
		"filter": map[string]any{
			"must": []any{
				matchCondition(payloadTenantKey, tenant),
				matchCondition(payloadKindKey, pointKindScene),
				matchCondition(payloadVideoIDKey, video),
			},
		},
	}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

func (s *vectorStore) UpdatePersonQueryEmbedding(ctx context.Context, tenantID, personID string, vec []float32) error {
	if s == nil {
		return nil
	}
	const op = "update_person_query_embedding"

	tenant := strings.TrimSpace(tenantID)
	person := strings.TrimSpace(personID)
	if tenant == "" || person == "" {
		return opErr(op, OperationErrorValidation, "tenant id and person id are required", nil)
	}
	if len(vec) == 0 {
		// No remaining reference embeddings means the person drops out of
		// nearest-neighbor use entirely.
		return s.DeletePerson(ctx, tenant, person)
	}
	if len(vec) != s.cfg.ImageDim {
		return opErr(
			op,
			OperationErrorValidation,
			fmt.Sprintf("person %q embedding dimension mismatch: expected=%d got=%d", person, s.cfg.ImageDim, len(vec)),
			nil,
		)
	}

	req := map[string]any{
		"points": []map[string]any{{
			"id": s.personPointID(tenant, person),
			"vector": map[string][]float32{
				channelClipImage: vec,
			},
			"payload": map[string]any{
				payloadTenantKey:   tenant,
				payloadKindKey:     pointKindPerson,
				payloadPersonIDKey: person,
			},
		}},
	}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
}

func (s *vectorStore) GetPersonQueryEmbedding(ctx context.Context, tenantID, personID string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("vector store unavailable")
	}
	const op = "get_person_query_embedding"

	tenant := strings.TrimSpace(tenantID)
	person := strings.TrimSpace(personID)
	if tenant == "" || person == "" {
		return nil, opErr(op, OperationErrorValidation, "tenant id and person id are required", nil)
	}

	req := map[string]any{
		"ids":          []string{s.personPointID(tenant, person)},
		"with_payload": true,
		"with_vector":  true,
	}
	var rawResults []qdrantRetrieveResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points"), req, &rawResults); err != nil {
		return nil, err
	}
	if len(rawResults) == 0 {
		return nil, opErr(op, OperationErrorNotFound, fmt.Sprintf("person %q has no query embedding", person), nil)
	}

	item := rawResults[0]
	if owner := payloadString(item.Payload, payloadTenantKey); owner != "" && owner != tenant {
		return nil, opErr(op, OperationErrorNotFound, fmt.Sprintf("person %q has no query embedding", person), nil)
	}
	vec, err := decodeNamedVector(item.Vector, channelClipImage)
	if err != nil {
		return nil, opErr(op, OperationErrorDecodeFailed, "decode person vector failed", err)
	}
	if len(vec) == 0 {
		return nil, opErr(op, OperationErrorNotFound, fmt.Sprintf("person %q has no query embedding", person), nil)
	}
	return vec, nil
}

func (s *vectorStore) DeletePerson(ctx context.Context, tenantID, personID string) error {
	if s == nil {
		return nil
	}
	const op = "delete_person"

	tenant := strings.TrimSpace(tenantID)
	person := strings.TrimSpace(personID)
	if tenant == "" || person == "" {
		return opErr(op, OperationErrorValidation, "tenant id and person id are required", nil)
	}

	req := map[string]any{"points": []string{s.personPointID(tenant, person)}}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

func (s *vectorStore) validateQuery(op, channel string, query []float32, tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return opErr(op, OperationErrorValidation, "tenant id is required", nil)
	}
	dim, ok := s.channelDim(channel)
	if !ok {
		return opErr(op, OperationErrorValidation, fmt.Sprintf("unknown channel %q", channel), nil)
	}
	if len(query) == 0 {
		return opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if len(query) != dim {
		return opErr(
			op,
			OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch for channel %q: expected=%d got=%d", channel, dim, len(query)),
			nil,
		)
	}
	return nil
}

func (s *vectorStore) channelDim(channel string) (int, bool) {
	switch channel {
	case "transcript", "visual", "summary":
		return s.cfg.TextDim, true
	case channelClipImage:
		return s.cfg.ImageDim, true
	default:
		return 0, false
	}
}

func (s *vectorStore) ensureCollection(ctx context.Context) error {
	const op = "bootstrap_collection"

	readyReq, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	readyResp, err := s.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}

	exists, err := s.collectionExists(ctx, op)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.createCollection(ctx, op); err != nil {
			return err
		}
	}
	return s.verifyCollection(ctx, op)
}

func (s *vectorStore) collectionExists(ctx context.Context, op string) (bool, error) {
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+s.collectionPath(""), nil)
	if err != nil {
		return false, opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return false, classifyHTTPCallError(op, "qdrant collection check failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant collection check returned status=%d", resp.StatusCode),
		}
	}
}

func (s *vectorStore) createCollection(ctx context.Context, op string) error {
	vectors := map[string]any{}
	for _, channel := range textChannels {
		vectors[channel] = map[string]any{"size": s.cfg.TextDim, "distance": "Cosine"}
	}
	vectors[channelClipImage] = map[string]any{"size": s.cfg.ImageDim, "distance": "Cosine"}

	req := map[string]any{"vectors": vectors}
	if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), req, nil); err != nil {
		return err
	}
	s.log.Info("qdrant collection created", "collection", s.cfg.Collection)
	return nil
}

func (s *vectorStore) verifyCollection(ctx context.Context, op string) error {
	var result struct {
		Config struct {
			Params struct {
				Vectors map[string]struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &result); err != nil {
		return err
	}

	for name, params := range result.Config.Params.Vectors {
		expected, ok := s.channelDim(name)
		if !ok {
			continue
		}
		if params.Size != 0 && params.Size != expected {
			return &OperationError{
				Code:      OperationErrorValidation,
				Operation: op,
				Message: fmt.Sprintf(
					"qdrant collection %q vector %q size mismatch: expected=%d actual=%d",
					s.cfg.Collection,
					name,
					expected,
					params.Size,
				),
			}
		}
		s.distances[name] = strings.TrimSpace(params.Distance)
	}
	return nil
}

func (s *vectorStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func clonePayload(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *vectorStore) scenePointID(tenantID, sceneID string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(tenantID+"|scene|"+sceneID)).String()
}

func (s *vectorStore) personPointID(tenantID, personID string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(tenantID+"|person|"+personID)).String()
}

func (s *vectorStore) collectionPath(suffix string) string {
	path := "/collections/" + s.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}

func matchCondition(key string, value any) map[string]any {
	return map[string]any{
		"key": key,
		"match": map[string]any{
			"value": value,
		},
	}
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func decodeNamedVector(raw json.RawMessage, name string) ([]float32, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var named map[string][]float32
	if err := json.Unmarshal(raw, &named); err == nil {
		return named[name], nil
	}
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	return nil, fmt.Errorf("unrecognized vector shape %q", truncateBody(raw))
}

func (s *vectorStore) normalizeScore(channel string, score float64) float64 {
	switch strings.ToLower(strings.TrimSpace(s.distances[channel])) {
	case "euclid", "manhattan":
		if score < 0 {
			score = -score
		}
		return 1.0 / (1.0 + score)
	default:
		return score
	}
}
