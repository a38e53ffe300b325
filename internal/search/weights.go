package search

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/heimdex/heimdex-backend/internal/pkg/errors"
)

// WeightTrace records how the applied weights came to be, for the debug
// block and for tests.
type WeightTrace struct {
	Requested map[string]float64 `json:"requested,omitempty"`
	Resolved  map[string]float64 `json:"resolved"`
	Applied   map[string]float64 `json:"applied"`
	Source    string             `json:"source"`
	Clamped   bool               `json:"clamped"`
	Warnings  []string           `json:"warnings,omitempty"`
}

const (
	WeightSourceRequest = "request"
	WeightSourceSaved   = "saved"
	WeightSourceDefault = "default"
)

// ResolveWeights is the single source of truth for channel weights. It is a
// pure function: precedence request > saved > defaults, validation, sum-1
// normalization, guardrails, and the visual_mode=skip zeroing all happen
// here. Empty-channel redistribution happens later, in fusion, against the
// lists actually fetched.
func ResolveWeights(cfg Config, requested, saved map[string]float64, visualMode string) (map[string]float64, *WeightTrace, error) {
	cfg = cfg.withDefaults()
	trace := &WeightTrace{}

	var raw map[string]float64
	switch {
	case len(requested) > 0:
		trace.Source = WeightSourceRequest
		trace.Requested = copyWeights(requested)
		raw = requested
	case len(saved) > 0:
		trace.Source = WeightSourceSaved
		raw = saved
	default:
		trace.Source = WeightSourceDefault
		raw = map[string]float64{
			"transcript": cfg.WeightTranscript,
			"visual":     cfg.WeightVisual,
			"summary":    cfg.WeightSummary,
			"lexical":    cfg.WeightLexical,
		}
	}

	weights, err := mapUserWeights(raw)
	if err != nil {
		if trace.Source == WeightSourceRequest {
			return nil, nil, err
		}
		// Saved prefs gone bad fall back to defaults instead of failing
		// every search for the tenant.
		trace.Warnings = append(trace.Warnings, fmt.Sprintf("%s weights invalid (%v), using defaults", trace.Source, err))
		trace.Source = WeightSourceDefault
		weights = map[string]float64{
			ChannelDenseTranscript: cfg.WeightTranscript,
			ChannelDenseVisual:     cfg.WeightVisual,
			ChannelDenseSummary:    cfg.WeightSummary,
			ChannelLexical:         cfg.WeightLexical,
		}
	}

	if !cfg.SummaryEnabled {
		weights[ChannelDenseSummary] = 0
	}
	if visualMode == VisualModeSkip && weights[ChannelDenseVisual] > 0 {
		weights[ChannelDenseVisual] = 0
		trace.Warnings = append(trace.Warnings, "visual channel skipped by visual_mode")
	}

	if sumWeights(weights) <= 0 {
		if trace.Source == WeightSourceRequest {
			return nil, nil, errors.Invalid("channel weights leave no active channel")
		}
		weights[ChannelDenseTranscript] = cfg.WeightTranscript
		weights[ChannelLexical] = cfg.WeightLexical
		trace.Warnings = append(trace.Warnings, "no active channel after resolution, restored transcript+lexical defaults")
	}

	normalizeWeights(weights)
	trace.Resolved = copyWeights(weights)

	if capChannel(weights, ChannelDenseVisual, cfg.MaxVisualWeight) {
		trace.Clamped = true
		trace.Warnings = append(trace.Warnings, fmt.Sprintf("visual weight capped at %.2f", cfg.MaxVisualWeight))
	}
	if raiseChannel(weights, ChannelLexical, cfg.MinLexicalWeight) {
		trace.Clamped = true
		trace.Warnings = append(trace.Warnings, fmt.Sprintf("lexical weight raised to %.2f", cfg.MinLexicalWeight))
	}

	trace.Applied = copyWeights(weights)
	return weights, trace, nil
}

// AdjustVisualWeight applies the router's weight adjustment on top of the
// resolved weights, keeping the sum at 1. Returns false when nothing moved.
func AdjustVisualWeight(weights map[string]float64, delta, maxVisual float64) bool {
	if delta == 0 {
		return false
	}
	current, ok := weights[ChannelDenseVisual]
	if !ok || current <= 0 {
		return false
	}
	if sumWeights(weights)-current <= 0 {
		// Visual is the only positive channel; no other channel can
		// absorb the delta, so moving it would break the sum-1 invariant.
		return false
	}
	target := current + delta
	if target < 0 {
		target = 0
	}
	if maxVisual > 0 && target > maxVisual {
		target = maxVisual
	}
	if math.Abs(target-current) < 1e-12 {
		return false
	}
	weights[ChannelDenseVisual] = target
	redistribute(weights, ChannelDenseVisual, current-target)
	return true
}

// ValidateUserWeights checks the user-facing weight shape without resolving:
// known channel names, each weight in [0,1], at least one positive. A nil
// map is valid and means "no opinion".
func ValidateUserWeights(raw map[string]float64) error {
	if raw == nil {
		return nil
	}
	_, err := mapUserWeights(raw)
	return err
}

func mapUserWeights(raw map[string]float64) (map[string]float64, error) {
	weights := map[string]float64{}
	for _, key := range fusionWeightKeys {
		weights[key] = 0
	}
	positive := false
	for name, w := range raw {
		key, ok := userWeightNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, errors.Invalid("unknown weight channel %q", name)
		}
		if w < 0 || w > 1 || math.IsNaN(w) {
			return nil, errors.Invalid("weight %q must be in [0,1], got %v", name, w)
		}
		weights[key] = w
		if w > 0 {
			positive = true
		}
	}
	if !positive {
		return nil, errors.Invalid("at least one channel weight must be positive")
	}
	return weights, nil
}

func sumWeights(weights map[string]float64) float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	return sum
}

func normalizeWeights(weights map[string]float64) {
	sum := sumWeights(weights)
	if sum <= 0 {
		return
	}
	for k, w := range weights {
		weights[k] = w / sum
	}
}

// capChannel lowers one channel to the limit and hands the excess to the
// other positive channels pro rata, so the cap survives and the sum stays 1.
func capChannel(weights map[string]float64, channel string, limit float64) bool {
	w, ok := weights[channel]
	if !ok || limit <= 0 || w <= limit {
		return false
	}
	othersSum := sumWeights(weights) - w
	if othersSum <= 0 {
		// Nothing to absorb the excess; a single-channel request keeps
		// its weight rather than silently searching nothing.
		return false
	}
	weights[channel] = limit
	redistribute(weights, channel, w-limit)
	return true
}

// raiseChannel lifts one positive channel to the floor and takes the
// difference from the other channels pro rata.
func raiseChannel(weights map[string]float64, channel string, floor float64) bool {
	w, ok := weights[channel]
	if !ok || floor <= 0 || w <= 0 || w >= floor {
		return false
	}
	othersSum := sumWeights(weights) - w
	if othersSum <= 0 {
		return false
	}
	weights[channel] = floor
	redistribute(weights, channel, w-floor)
	return true
}

// redistribute spreads excess (positive or negative) over every channel
// except the one named, proportionally to their current weights.
func redistribute(weights map[string]float64, except string, excess float64) {
	othersSum := 0.0
	for k, w := range weights {
		if k != except {
			othersSum += w
		}
	}
	if othersSum <= 0 {
		return
	}
	// Deterministic iteration keeps float results reproducible.
	keys := make([]string, 0, len(weights))
	for k := range weights {
		if k != except {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		weights[k] += excess * (weights[k] / othersSum)
	}
}

func copyWeights(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for k, v := range weights {
		out[k] = v
	}
	return out
}

func maxWeight(weights map[string]float64) float64 {
	m := 0.0
	for _, w := range weights {
		if w > m {
			m = w
		}
	}
	return m
}
