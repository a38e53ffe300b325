package search

import (
	"math"

	"github.com/google/uuid"
)

// denseTextChannels are the channels whose raw scores are cosine
// similarities of text embeddings, usable as absolute evidence.
var denseTextChannels = []string{ChannelDenseTranscript, ChannelDenseVisual, ChannelDenseSummary}

// displayScores maps the final fused scores onto user-facing confidence
// values. Ordering is never touched: displays are computed after the ranking
// is fixed and attached by scene ID, and every value stays at or below the
// cap, strictly below 1.
func displayScores(cfg Config, fused []fusedCandidate) map[uuid.UUID]float64 {
	if !cfg.CalibrationEnabled || len(fused) == 0 {
		return nil
	}

	scores := make([]float64, len(fused))
	min, max := fused[0].Score, fused[0].Score
	for i, fc := range fused {
		scores[i] = fc.Score
		if fc.Score < min {
			min = fc.Score
		}
		if fc.Score > max {
			max = fc.Score
		}
	}

	out := make(map[uuid.UUID]float64, len(fused))
	neutral := math.Min(0.5, cfg.DisplayScoreMaxCap)

	switch cfg.DisplayScoreMethod {
	case DisplayMethodPctlCeiling:
		ceiling := percentile(scores, cfg.DisplayScorePctl)
		if ceiling-min < cfg.MinMaxEps {
			for _, fc := range fused {
				out[fc.SceneID] = neutral
			}
			return out
		}
		for _, fc := range fused {
			x := clampFloat((fc.Score-min)/(ceiling-min), 0, 1)
			out[fc.SceneID] = cfg.DisplayScoreMaxCap * x
		}
		return out

	default: // exp_squash
		if len(fused) == 1 || max-min < cfg.MinMaxEps {
			for _, fc := range fused {
				out[fc.SceneID] = neutral
			}
			return out
		}
		alpha := cfg.DisplayScoreAlpha
		denom := 1 - math.Exp(-alpha)
		for _, fc := range fused {
			x := (fc.Score - min) / (max - min)
			out[fc.SceneID] = cfg.DisplayScoreMaxCap * (1 - math.Exp(-alpha*x)) / denom
		}
		return out
	}
}

// bestGuessDisplayScores calibrates lookup results that lack lexical
// support. Fused scores are relative and would look confident even when the
// best hit is a weak semantic neighbor, so the display is driven by the best
// absolute cosine similarity instead, mapped linearly from
// [floor, ceil] onto [0, best-guess cap].
func bestGuessDisplayScores(cfg Config, fused []fusedCandidate) map[uuid.UUID]float64 {
	out := make(map[uuid.UUID]float64, len(fused))
	span := cfg.LookupAbsSimCeil - cfg.LookupAbsSimFloor
	for _, fc := range fused {
		abs := 0.0
		for _, ch := range denseTextChannels {
			if dbg, ok := fc.PerChannel[ch]; ok && dbg.Raw > abs {
				abs = dbg.Raw
			}
		}
		x := clampFloat((abs-cfg.LookupAbsSimFloor)/span, 0, 1)
		out[fc.SceneID] = cfg.LookupBestGuessMaxCap * x
	}
	return out
}
