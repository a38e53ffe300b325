package search

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/heimdex/heimdex-backend/internal/data/lexical"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/pkg/vectors"
	"github.com/heimdex/heimdex-backend/internal/platform/clip"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/openai"
	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
)

// FetchResult carries the per-channel candidate lists plus the channels that
// failed or timed out on this request. A disabled channel contributes an
// empty list; fusion renormalizes weights over the survivors.
type FetchResult struct {
	Lists    map[string][]Candidate
	Disabled []string
}

// Fetcher runs every retrieval channel the plan calls for concurrently, each
// under its own timeout. pool > 0 overrides the per-channel candidate counts
// (the reranker fetches everything at its pool size).
type Fetcher interface {
	Fetch(ctx context.Context, tenantID uuid.UUID, plan *QueryPlan, pool int) (*FetchResult, error)
}

type fetcher struct {
	log     *logger.Logger
	cfg     Config
	store   vectorstore.VectorStore
	lex     lexical.LexicalStore
	texts   openai.Client
	clipEnc clip.ImageEmbedder
}

// NewFetcher wires the candidate fetchers. clipEnc may be nil, which
// disables the clip recall channel.
func NewFetcher(log *logger.Logger, cfg Config, store vectorstore.VectorStore, lex lexical.LexicalStore, texts openai.Client, clipEnc clip.ImageEmbedder) Fetcher {
	return &fetcher{
		log:     log.With("service", "CandidateFetcher"),
		cfg:     cfg.withDefaults(),
		store:   store,
		lex:     lex,
		texts:   texts,
		clipEnc: clipEnc,
	}
}

// denseTask binds a fusion channel name to the vector-store channel it
// searches plus its candidate count and similarity floor.
type denseTask struct {
	name      string
	storeName string
	topK      int
	threshold float64
}

func (f *fetcher) Fetch(ctx context.Context, tenantID uuid.UUID, plan *QueryPlan, pool int) (*FetchResult, error) {
	res := &FetchResult{Lists: make(map[string][]Candidate)}
	var mu sync.Mutex

	record := func(channel string, cands []Candidate) {
		mu.Lock()
		defer mu.Unlock()
		res.Lists[channel] = cands
	}
	disable := func(channel string, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.Lists[channel] = nil
		res.Disabled = append(res.Disabled, channel)
		if err != nil {
			f.log.Warn("channel disabled", "channel", channel, "error", err)
		}
	}

	timeout := time.Duration(f.cfg.MultiDenseTimeoutS * float64(time.Second))
	tenant := tenantID.String()
	videoFilter := ""
	if plan.VideoID != nil {
		videoFilter = plan.VideoID.String()
	}
	kFor := func(defaultK int) int {
		if pool > 0 {
			return pool
		}
		return defaultK
	}

	var dense []denseTask
	if plan.Query != "" {
		dense = append(dense, denseTask{ChannelDenseTranscript, types.ChannelTranscript, kFor(f.cfg.KTranscript), maxFloat(plan.Threshold, f.cfg.ThresholdTranscript)})
		if plan.VisualMode != VisualModeSkip {
			dense = append(dense, denseTask{ChannelDenseVisual, types.ChannelVisual, kFor(f.cfg.KVisual), maxFloat(plan.Threshold, f.cfg.ThresholdVisual)})
		}
		if f.cfg.SummaryEnabled {
			dense = append(dense, denseTask{ChannelDenseSummary, types.ChannelSummary, kFor(f.cfg.KSummary), maxFloat(plan.Threshold, f.cfg.ThresholdSummary)})
		}
	}

	// One embedding call serves every text-dense channel. If it fails the
	// dense channels are disabled for this request; lexical still runs.
	var queryVec []float32
	if len(dense) > 0 {
		ectx, cancel := context.WithTimeout(ctx, timeout)
		vecs, err := f.texts.Embed(ectx, []string{plan.Query})
		cancel()
		if err != nil || len(vecs) == 0 || len(vecs[0]) == 0 {
			for _, task := range dense {
				disable(task.name, err)
			}
			dense = nil
		} else {
			queryVec = vectors.L2Normalize(vecs[0])
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, task := range dense {
		task := task
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			matches, err := f.store.Nearest(tctx, task.storeName, queryVec, tenant, task.topK, task.threshold, videoFilter)
			if err != nil {
				disable(task.name, err)
				return nil
			}
			record(task.name, candidatesFromMatches(matches))
			return nil
		})
	}

	if plan.Query != "" {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			hits, err := f.lex.Search(tctx, tenantID, plan.Query, plan.Language, kFor(f.cfg.KLexical), lexical.Filters{VideoID: plan.VideoID})
			if err != nil {
				disable(ChannelLexical, err)
				return nil
			}
			record(ChannelLexical, candidatesFromHits(hits))
			return nil
		})
	}

	if plan.Query != "" && plan.VisualMode == VisualModeRecall && f.clipEnc != nil {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			vec, err := f.clipEnc.EmbedTextForImageSpace(tctx, plan.Query)
			if err != nil {
				disable(ChannelClip, err)
				return nil
			}
			matches, err := f.store.Nearest(tctx, types.ChannelClipImage, vec, tenant, f.cfg.KVisual, 0, videoFilter)
			if err != nil {
				disable(ChannelClip, err)
				return nil
			}
			record(ChannelClip, candidatesFromMatches(matches))
			return nil
		})
	}

	if plan.PersonID != nil {
		personID := plan.PersonID.String()
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			vec, err := f.store.GetPersonQueryEmbedding(tctx, tenant, personID)
			if err != nil || len(vec) == 0 {
				disable(ChannelPerson, err)
				return nil
			}
			matches, err := f.store.Nearest(tctx, types.ChannelClipImage, vec, tenant, kFor(f.cfg.KPerson), 0, videoFilter)
			if err != nil {
				disable(ChannelPerson, err)
				return nil
			}
			record(ChannelPerson, candidatesFromMatches(matches))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(res.Disabled)
	return res, nil
}

func candidatesFromMatches(matches []vectorstore.Match) []Candidate {
	cands := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		id, err := uuid.Parse(m.SceneID)
		if err != nil {
			continue
		}
		cands = append(cands, Candidate{SceneID: id, Rank: m.Rank, Score: m.Similarity})
	}
	return cands
}

func candidatesFromHits(hits []lexical.Hit) []Candidate {
	cands := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, Candidate{SceneID: h.SceneID, Rank: h.Rank, Score: h.Score})
	}
	return cands
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
