package search

import (
	"context"

	"github.com/google/uuid"

	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/clip"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
)

const (
	rerankSkipUnavailable = "clip_unavailable"
	rerankSkipScoreFailed = "clip_score_failed"
	rerankSkipFlat        = "flat_clip"
)

// Reranker blends CLIP image similarity into an already-fused ranking. The
// candidates were fetched at the rerank pool size; CLIP scores for the pool
// come back in a single batch call.
type Reranker interface {
	Rerank(ctx context.Context, tenantID uuid.UUID, plan *QueryPlan, fused []fusedCandidate) ([]fusedCandidate, *RerankDebug)
}

type reranker struct {
	log     *logger.Logger
	cfg     Config
	store   vectorstore.VectorStore
	clipEnc clip.ImageEmbedder
}

func NewReranker(log *logger.Logger, cfg Config, store vectorstore.VectorStore, clipEnc clip.ImageEmbedder) Reranker {
	return &reranker{
		log:     log.With("service", "ClipReranker"),
		cfg:     cfg.withDefaults(),
		store:   store,
		clipEnc: clipEnc,
	}
}

// Rerank never fails the request: any problem along the CLIP path returns
// the base ranking with a skip reason in the debug block.
func (r *reranker) Rerank(ctx context.Context, tenantID uuid.UUID, plan *QueryPlan, fused []fusedCandidate) ([]fusedCandidate, *RerankDebug) {
	alpha := r.cfg.RerankClipWeight
	debug := &RerankDebug{ClipWeightUsed: alpha}

	if len(fused) == 0 {
		debug.SkippedReason = rerankSkipFlat
		return fused, debug
	}
	if r.clipEnc == nil {
		debug.SkippedReason = rerankSkipUnavailable
		return fused, debug
	}

	clipVec, err := r.clipEnc.EmbedTextForImageSpace(ctx, plan.Query)
	if err != nil {
		r.log.Warn("clip text encode failed, keeping base ranking", "error", err)
		debug.SkippedReason = rerankSkipUnavailable
		return fused, debug
	}

	poolSize := r.cfg.RerankPoolSize
	if poolSize > len(fused) {
		poolSize = len(fused)
	}
	pool := fused[:poolSize]

	ids := make([]string, len(pool))
	for i, fc := range pool {
		ids[i] = fc.SceneID.String()
	}
	scores, err := r.store.BatchScore(ctx, types.ChannelClipImage, clipVec, ids, tenantID.String())
	if err != nil {
		r.log.Warn("clip batch score failed, keeping base ranking", "error", err)
		debug.SkippedReason = rerankSkipScoreFailed
		return fused, debug
	}

	clipMin, clipMax, n := scoreRange(scores)
	debug.ClipScoreRange = clipMax - clipMin
	if n < 2 || debug.ClipScoreRange < r.cfg.RerankMinScoreRange {
		debug.SkippedReason = rerankSkipFlat
		return fused, debug
	}

	baseMin, baseMax := pool[0].Score, pool[0].Score
	for _, fc := range pool[1:] {
		if fc.Score < baseMin {
			baseMin = fc.Score
		}
		if fc.Score > baseMax {
			baseMax = fc.Score
		}
	}
	baseDenom := baseMax - baseMin
	clipDenom := clipMax - clipMin

	// Blended scores live on a normalized scale; candidates beyond the pool
	// would mix scales and break score monotonicity, so the pool becomes the
	// result set.
	blended := make([]fusedCandidate, poolSize)
	copy(blended, pool)
	for i := range pool {
		fc := &blended[i]
		baseNorm := 1.0
		if baseDenom >= r.cfg.MinMaxEps {
			baseNorm = (fc.Score - baseMin) / baseDenom
		}
		clipNorm := 0.0
		raw, ok := scores[fc.SceneID.String()]
		if ok {
			clipNorm = (raw - clipMin) / clipDenom
			fc.PerChannel[ChannelClip] = ChannelDebug{
				Raw:        raw,
				Normalized: clipNorm,
				Weight:     alpha,
			}
		}
		fc.Score = (1-alpha)*baseNorm + alpha*clipNorm
	}
	sortFused(blended)
	return blended, debug
}

// scoreRange returns the min, max, and count of the returned CLIP scores.
func scoreRange(scores map[string]float64) (float64, float64, int) {
	var min, max float64
	n := 0
	for _, s := range scores {
		if n == 0 {
			min, max = s, s
		} else {
			if s < min {
				min = s
			}
			if s > max {
				max = s
			}
		}
		n++
	}
	return min, max, n
}
