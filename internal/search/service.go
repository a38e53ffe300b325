package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	prefrepo "github.com/heimdex/heimdex-backend/internal/data/repos/prefs"
	scenerepo "github.com/heimdex/heimdex-backend/internal/data/repos/scenes"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/pkg/errors"
	"github.com/heimdex/heimdex-backend/internal/platform/gcs"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

const (
	defaultLimit     = 10
	maxLimit         = 100
	defaultThreshold = 0.2
	maxQueryRunes    = 1000

	thumbnailURLTTL = 15 * time.Minute
)

// Service is the search entrypoint: plan, fetch, fuse, rerank, gate,
// calibrate, enrich. The tenant always comes from the auth context, never
// from the request body.
type Service interface {
	Search(ctx context.Context, tenantID uuid.UUID, req Request) (*Response, error)
}

type service struct {
	log      *logger.Logger
	cfg      Config
	planner  Planner
	fetcher  Fetcher
	reranker Reranker
	scenes   scenerepo.SceneRepo
	prefs    prefrepo.SearchPreferenceRepo
	store    gcs.ObjectStore
}

// NewService wires the search orchestrator. reranker and store may be nil:
// without a reranker visual_mode=rerank degrades to the base ranking,
// without an object store results carry no thumbnail URLs.
func NewService(log *logger.Logger, cfg Config, planner Planner, fetcher Fetcher, reranker Reranker, scenes scenerepo.SceneRepo, prefs prefrepo.SearchPreferenceRepo, store gcs.ObjectStore) Service {
	return &service{
		log:      log.With("service", "SearchService"),
		cfg:      cfg.withDefaults(),
		planner:  planner,
		fetcher:  fetcher,
		reranker: reranker,
		scenes:   scenes,
		prefs:    prefs,
		store:    store,
	}
}

func (s *service) Search(ctx context.Context, tenantID uuid.UUID, req Request) (*Response, error) {
	start := time.Now()

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, errors.Invalid("query is required")
	}
	if utf8.RuneCountInString(req.Query) > maxQueryRunes {
		return nil, errors.Invalid("query exceeds %d characters", maxQueryRunes)
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		return nil, errors.Invalid("threshold must be within [0,1]")
	}
	if req.Threshold == nil {
		// Omitted means the default floor. An explicit 0 is kept: the
		// caller asked for no similarity floor at all.
		t := defaultThreshold
		req.Threshold = &t
	}
	switch req.FusionMethod {
	case "", FusionMinMaxMean, FusionRRF:
	default:
		return nil, errors.Invalid("unknown fusion_method %q", req.FusionMethod)
	}
	switch req.VisualMode {
	case "", VisualModeRecall, VisualModeRerank, VisualModeSkip, VisualModeAuto:
	default:
		return nil, errors.Invalid("unknown visual_mode %q", req.VisualMode)
	}

	savedWeights, savedFusion, savedVisual := s.loadPreferences(ctx, tenantID)

	method := s.cfg.FusionMethod
	if savedFusion == FusionMinMaxMean || savedFusion == FusionRRF {
		method = savedFusion
	}
	if req.FusionMethod != "" {
		method = req.FusionMethod
	}

	plan, err := s.planner.Plan(ctx, tenantID, req, savedVisual)
	if err != nil {
		return nil, err
	}

	weights, trace, err := ResolveWeights(s.cfg, req.ChannelWeights, savedWeights, plan.VisualMode)
	if err != nil {
		return nil, err
	}
	if plan.WeightAdjustment != 0 && AdjustVisualWeight(weights, plan.WeightAdjustment, s.cfg.MaxVisualWeight) {
		trace.Applied = copyWeights(weights)
		trace.Warnings = append(trace.Warnings, fmt.Sprintf("visual weight auto-adjusted by %+.2f", plan.WeightAdjustment))
	}

	// The clip recall channel rides the visual weight; person matches carry
	// the strongest resolved weight so an identity hit is never drowned out.
	weights[ChannelClip] = weights[ChannelDenseVisual]
	if plan.PersonID != nil {
		weights[ChannelPerson] = maxWeight(weights)
	}

	pool := 0
	if plan.VisualMode == VisualModeRerank {
		pool = s.cfg.RerankPoolSize
	}
	fetched, err := s.fetcher.Fetch(ctx, tenantID, plan, pool)
	if err != nil {
		return nil, err
	}

	fused, applied := fuseCandidates(method, fetched.Lists, weights, s.cfg)

	var rerankDbg *RerankDebug
	if plan.VisualMode == VisualModeRerank && s.reranker != nil {
		fused, rerankDbg = s.reranker.Rerank(ctx, tenantID, plan, fused)
	}

	// Gating runs on the final ranking so the allowlist applies to whatever
	// the reranker settled on.
	matchQuality := ""
	if plan.Intent == IntentLookup && s.cfg.LookupGatingEnabled {
		lex := fetched.Lists[ChannelLexical]
		if len(lex) >= s.cfg.LookupLexicalMinHits {
			allow := make(map[uuid.UUID]bool, len(lex))
			for _, c := range lex {
				allow[c.SceneID] = true
			}
			kept := make([]fusedCandidate, 0, len(fused))
			for _, fc := range fused {
				if allow[fc.SceneID] {
					kept = append(kept, fc)
				}
			}
			fused = kept
			matchQuality = MatchQualitySupported
		} else {
			matchQuality = MatchQualityBestGuess
		}
	}

	if len(fused) > req.Limit {
		fused = fused[:req.Limit]
	}

	var displays map[uuid.UUID]float64
	if matchQuality == MatchQualityBestGuess && s.cfg.LookupAbsDisplayEnabled {
		displays = bestGuessDisplayScores(s.cfg, fused)
	} else {
		displays = displayScores(s.cfg, fused)
	}

	results, err := s.enrich(ctx, tenantID, req, fused, displays, matchQuality, method, applied, trace, fetched.Disabled, rerankDbg)
	if err != nil {
		return nil, err
	}

	latency := time.Since(start).Milliseconds()
	s.log.Info("search complete",
		"tenant_id", tenantID,
		"intent", plan.Intent,
		"visual_mode", plan.VisualMode,
		"fusion_method", method,
		"results", len(results),
		"latency_ms", latency)

	return &Response{
		Query:     req.Query,
		Total:     len(results),
		LatencyMS: latency,
		Results:   results,
	}, nil
}

// loadPreferences reads the tenant's saved search settings. Any failure here
// degrades to system defaults rather than failing the request.
func (s *service) loadPreferences(ctx context.Context, tenantID uuid.UUID) (map[string]float64, string, string) {
	if s.prefs == nil {
		return nil, "", ""
	}
	pref, err := s.prefs.GetByTenant(ctx, nil, tenantID)
	if err != nil {
		s.log.Warn("search preference load failed, using defaults", "tenant_id", tenantID, "error", err)
		return nil, "", ""
	}
	if pref == nil {
		return nil, "", ""
	}
	var saved map[string]float64
	if len(pref.Weights) > 0 {
		if err := json.Unmarshal(pref.Weights, &saved); err != nil {
			s.log.Warn("saved weights unreadable, ignoring", "tenant_id", tenantID, "error", err)
			saved = nil
		}
	}
	return saved, pref.FusionMethod, pref.VisualMode
}

// enrich joins the ranked scene IDs back to their rows and builds the
// response entries. Scenes deleted since indexing are dropped silently.
func (s *service) enrich(ctx context.Context, tenantID uuid.UUID, req Request, fused []fusedCandidate, displays map[uuid.UUID]float64, matchQuality, method string, applied map[string]float64, trace *WeightTrace, disabled []string, rerankDbg *RerankDebug) ([]Result, error) {
	if len(fused) == 0 {
		return []Result{}, nil
	}

	ids := make([]uuid.UUID, len(fused))
	for i, fc := range fused {
		ids[i] = fc.SceneID
	}
	rows, err := s.scenes.GetByIDs(ctx, nil, tenantID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*types.Scene, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	results := make([]Result, 0, len(fused))
	for _, fc := range fused {
		scene, ok := byID[fc.SceneID]
		if !ok {
			continue
		}
		r := Result{
			SceneID:           scene.ID,
			VideoID:           scene.VideoID,
			SceneIndex:        scene.SceneIndex,
			StartS:            scene.StartS,
			EndS:              scene.EndS,
			Transcript:        scene.Transcript,
			VisualSummary:     scene.VisualSummary,
			VisualDescription: scene.VisualDescription,
			Tags:              decodeTags(scene.Tags),
			Score:             fc.Score,
			MatchQuality:      matchQuality,
		}
		if displays != nil {
			if d, ok := displays[fc.SceneID]; ok {
				v := d
				r.DisplayScore = &v
			}
		}
		if s.store != nil && scene.ThumbnailKey != "" {
			url, err := s.store.SignedDownloadURL(scene.ThumbnailKey, thumbnailURLTTL)
			if err != nil {
				s.log.Warn("thumbnail sign failed", "scene_id", scene.ID, "error", err)
			} else {
				r.ThumbnailURL = url
			}
		}
		if req.Debug {
			r.Debug = &ResultDebug{
				PerChannel:       fc.PerChannel,
				FusionMethod:     method,
				WeightsApplied:   applied,
				WeightsSource:    trace.Source,
				ChannelsDisabled: disabled,
				Clamped:          trace.Clamped,
				Rerank:           rerankDbg,
			}
		}
		results = append(results, r)
	}
	return results, nil
}

func decodeTags(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	return tags
}
