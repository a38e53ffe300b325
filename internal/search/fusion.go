package search

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

const missingRank = math.MaxInt32

// fusedCandidate is one scene after fusion, carrying per-channel debug and
// the auxiliary ranks used for tie-breaking.
type fusedCandidate struct {
	SceneID    uuid.UUID
	Score      float64
	PerChannel map[string]ChannelDebug

	bestDense   int
	bestLexical int
}

// fuseCandidates merges the per-channel candidate lists into a single ranking
// using the requested method. Channels with empty lists are dropped and the
// weights renormalized over the survivors; the effective weights are returned
// alongside the ranking for the debug trace.
func fuseCandidates(method string, lists map[string][]Candidate, weights map[string]float64, cfg Config) ([]fusedCandidate, map[string]float64) {
	channels := make([]string, 0, len(lists))
	for ch, cands := range lists {
		if len(cands) > 0 {
			channels = append(channels, ch)
		}
	}
	sort.Strings(channels)

	effective := make(map[string]float64, len(channels))
	var sum float64
	for _, ch := range channels {
		w := weights[ch]
		if w < 0 {
			w = 0
		}
		effective[ch] = w
		sum += w
	}
	if sum > 0 {
		for ch := range effective {
			effective[ch] /= sum
		}
	}

	byScene := make(map[uuid.UUID]*fusedCandidate)
	for _, ch := range channels {
		cands := lists[ch]
		norms := normalizeChannel(method, cands, cfg)
		for i, cand := range cands {
			fc, ok := byScene[cand.SceneID]
			if !ok {
				fc = &fusedCandidate{
					SceneID:     cand.SceneID,
					PerChannel:  make(map[string]ChannelDebug, len(channels)),
					bestDense:   missingRank,
					bestLexical: missingRank,
				}
				byScene[cand.SceneID] = fc
			}

			w := effective[ch]
			switch method {
			case FusionRRF:
				fc.Score += norms[i]
			default:
				fc.Score += w * norms[i]
			}
			fc.PerChannel[ch] = ChannelDebug{
				Rank:       cand.Rank,
				Raw:        cand.Score,
				Normalized: norms[i],
				Weight:     w,
			}

			if ch == ChannelLexical {
				if cand.Rank < fc.bestLexical {
					fc.bestLexical = cand.Rank
				}
			} else if cand.Rank < fc.bestDense {
				fc.bestDense = cand.Rank
			}
		}
	}

	fused := make([]fusedCandidate, 0, len(byScene))
	for _, fc := range byScene {
		fused = append(fused, *fc)
	}
	sortFused(fused)
	return fused, effective
}

// normalizeChannel maps one channel's raw scores to per-candidate fusion
// contributions. RRF ignores raw scores entirely and uses 1/(k+rank); min-max
// rescales to [0,1] within the channel, optionally clipping outliers at the
// configured percentiles first. The minimum is anchored at zero: scenes
// absent from a channel carry an implicit raw score of 0, so the worst
// present candidate must not collapse onto the same floor as the absent ones.
func normalizeChannel(method string, cands []Candidate, cfg Config) []float64 {
	norms := make([]float64, len(cands))
	if len(cands) == 0 {
		return norms
	}
	if method == FusionRRF {
		k := cfg.RRFK
		for i, cand := range cands {
			norms[i] = 1.0 / (k + float64(cand.Rank))
		}
		return norms
	}

	scores := make([]float64, len(cands))
	for i, cand := range cands {
		scores[i] = cand.Score
	}
	if cfg.PercentileClipEnabled && len(scores) > 2 {
		lo := percentile(scores, cfg.PercentileClipLo)
		hi := percentile(scores, cfg.PercentileClipHi)
		for i, s := range scores {
			scores[i] = clampFloat(s, lo, hi)
		}
	}

	min, max := 0.0, scores[0]
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	denom := max - min
	if denom < cfg.MinMaxEps {
		for i := range norms {
			norms[i] = 1
		}
		return norms
	}
	for i, s := range scores {
		norms[i] = (s - min) / denom
	}
	return norms
}

// percentile returns the nearest-rank Pth percentile of the given scores.
func percentile(scores []float64, p float64) float64 {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// sortFused orders candidates by fused score descending, then best dense
// rank, then best lexical rank, then scene ID for a stable total order.
func sortFused(fused []fusedCandidate) {
	sort.SliceStable(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.bestDense != b.bestDense {
			return a.bestDense < b.bestDense
		}
		if a.bestLexical != b.bestLexical {
			return a.bestLexical < b.bestLexical
		}
		return a.SceneID.String() < b.SceneID.String()
	})
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
