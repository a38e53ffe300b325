package search

import (
	"math"
	"sort"
	"testing"

	"github.com/google/uuid"
)

func fusionConfig() Config {
	return Config{}.withDefaults()
}

func orderedIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func TestFuseMinMaxMeanTwoChannels(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	lists := map[string][]Candidate{
		ChannelDenseTranscript: {
			{SceneID: a, Rank: 1, Score: 0.95},
			{SceneID: b, Rank: 2, Score: 0.85},
		},
		ChannelLexical: {
			{SceneID: b, Rank: 1, Score: 25.0},
			{SceneID: c, Rank: 2, Score: 20.0},
		},
	}
	weights := map[string]float64{ChannelDenseTranscript: 0.7, ChannelLexical: 0.3}

	fused, eff := fuseCandidates(FusionMinMaxMean, lists, weights, fusionConfig())
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(fused))
	}
	wantOrder := []uuid.UUID{b, a, c}
	for i, want := range wantOrder {
		if fused[i].SceneID != want {
			t.Fatalf("position %d: got %s, want %s", i, fused[i].SceneID, want)
		}
	}

	// b sits in both channels: dense 0.85/0.95 plus the full lexical weight.
	wantB := 0.7*(0.85/0.95) + 0.3
	if math.Abs(fused[0].Score-wantB) > 1e-9 {
		t.Fatalf("b score: got %v, want %v", fused[0].Score, wantB)
	}
	if math.Abs(fused[1].Score-0.7) > 1e-9 {
		t.Fatalf("a score: got %v, want 0.7", fused[1].Score)
	}
	if math.Abs(fused[2].Score-0.3*(20.0/25.0)) > 1e-9 {
		t.Fatalf("c score: got %v, want 0.24", fused[2].Score)
	}

	if math.Abs(eff[ChannelDenseTranscript]-0.7) > 1e-9 || math.Abs(eff[ChannelLexical]-0.3) > 1e-9 {
		t.Fatalf("effective weights changed unexpectedly: %v", eff)
	}

	dbg := fused[0].PerChannel[ChannelDenseTranscript]
	if dbg.Rank != 2 || math.Abs(dbg.Raw-0.85) > 1e-9 || math.Abs(dbg.Normalized-0.85/0.95) > 1e-9 || math.Abs(dbg.Weight-0.7) > 1e-9 {
		t.Fatalf("dense debug for b: %+v", dbg)
	}
	if lexDbg := fused[0].PerChannel[ChannelLexical]; lexDbg.Rank != 1 || lexDbg.Normalized != 1 {
		t.Fatalf("lexical debug for b: %+v", lexDbg)
	}
}

func TestFuseRRFSingleChannelIdentity(t *testing.T) {
	ids := orderedIDs(4)
	// Raw scores deliberately non-monotone: RRF must rank by position only.
	lists := map[string][]Candidate{
		ChannelDenseTranscript: {
			{SceneID: ids[0], Rank: 1, Score: 0.1},
			{SceneID: ids[1], Rank: 2, Score: 0.9},
			{SceneID: ids[2], Rank: 3, Score: 0.5},
			{SceneID: ids[3], Rank: 4, Score: 0.7},
		},
	}
	fused, _ := fuseCandidates(FusionRRF, lists, map[string]float64{ChannelDenseTranscript: 1}, fusionConfig())
	for i := range fused {
		if fused[i].SceneID != ids[i] {
			t.Fatalf("position %d: got %s, want %s", i, fused[i].SceneID, ids[i])
		}
		want := 1.0 / (60.0 + float64(i+1))
		if math.Abs(fused[i].Score-want) > 1e-12 {
			t.Fatalf("position %d score: got %v, want %v", i, fused[i].Score, want)
		}
		if i > 0 && fused[i].Score >= fused[i-1].Score {
			t.Fatalf("scores not strictly decreasing at %d", i)
		}
	}
}

func TestFuseRRFPresenceAccumulates(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	lists := map[string][]Candidate{
		ChannelDenseTranscript: {
			{SceneID: a, Rank: 1, Score: 0.95},
			{SceneID: b, Rank: 2, Score: 0.85},
		},
		ChannelLexical: {
			{SceneID: b, Rank: 1, Score: 25.0},
		},
	}
	fused, _ := fuseCandidates(FusionRRF, lists, map[string]float64{ChannelDenseTranscript: 0.5, ChannelLexical: 0.5}, fusionConfig())
	if fused[0].SceneID != b {
		t.Fatalf("expected the two-channel scene first, got %s", fused[0].SceneID)
	}
	wantB := 1.0/62.0 + 1.0/61.0
	if math.Abs(fused[0].Score-wantB) > 1e-12 {
		t.Fatalf("b score: got %v, want %v", fused[0].Score, wantB)
	}
}

func TestFuseDropsEmptyChannels(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	lists := map[string][]Candidate{
		ChannelDenseTranscript: {
			{SceneID: a, Rank: 1, Score: 0.9},
			{SceneID: b, Rank: 2, Score: 0.45},
		},
		ChannelLexical: {},
	}
	weights := map[string]float64{ChannelDenseTranscript: 0.5, ChannelLexical: 0.5}

	fused, eff := fuseCandidates(FusionMinMaxMean, lists, weights, fusionConfig())
	if len(eff) != 1 {
		t.Fatalf("expected one surviving channel, got %v", eff)
	}
	if math.Abs(eff[ChannelDenseTranscript]-1) > 1e-9 {
		t.Fatalf("surviving weight: got %v, want 1", eff[ChannelDenseTranscript])
	}
	if math.Abs(fused[0].Score-1) > 1e-9 {
		t.Fatalf("top score: got %v, want 1", fused[0].Score)
	}
	if math.Abs(fused[1].Score-0.5) > 1e-9 {
		t.Fatalf("second score: got %v, want 0.5", fused[1].Score)
	}
}

func TestFuseSingleChannelWeightLaw(t *testing.T) {
	x, y, z := uuid.New(), uuid.New(), uuid.New()
	lists := map[string][]Candidate{
		ChannelDenseTranscript: {
			{SceneID: x, Rank: 1, Score: 0.9},
			{SceneID: y, Rank: 2, Score: 0.6},
			{SceneID: z, Rank: 3, Score: 0.3},
		},
	}
	weights := map[string]float64{
		ChannelDenseTranscript: 1,
		ChannelDenseVisual:     0,
		ChannelDenseSummary:    0,
		ChannelLexical:         0,
	}
	fused, _ := fuseCandidates(FusionMinMaxMean, lists, weights, fusionConfig())
	wantScores := []float64{1.0, 0.6 / 0.9, 0.3 / 0.9}
	wantIDs := []uuid.UUID{x, y, z}
	for i := range fused {
		if fused[i].SceneID != wantIDs[i] {
			t.Fatalf("position %d: got %s, want %s", i, fused[i].SceneID, wantIDs[i])
		}
		if math.Abs(fused[i].Score-wantScores[i]) > 1e-9 {
			t.Fatalf("position %d score: got %v, want %v", i, fused[i].Score, wantScores[i])
		}
	}
}

func TestFuseEqualScoresMapToOne(t *testing.T) {
	ids := orderedIDs(3)
	lists := map[string][]Candidate{
		ChannelDenseTranscript: {
			{SceneID: ids[2], Rank: 1, Score: 0.5},
			{SceneID: ids[0], Rank: 2, Score: 0.5},
			{SceneID: ids[1], Rank: 3, Score: 0.5},
		},
	}
	fused, _ := fuseCandidates(FusionMinMaxMean, lists, map[string]float64{ChannelDenseTranscript: 1}, fusionConfig())
	for i, fc := range fused {
		if math.Abs(fc.Score-1) > 1e-9 {
			t.Fatalf("position %d: got %v, want 1", i, fc.Score)
		}
	}
	// Ties fall back to the better dense rank.
	if fused[0].SceneID != ids[2] || fused[1].SceneID != ids[0] || fused[2].SceneID != ids[1] {
		t.Fatalf("tie order should follow dense rank: %v", fused)
	}
}

func TestFuseTieBreakLexicalRank(t *testing.T) {
	ids := orderedIDs(2)
	lists := map[string][]Candidate{
		ChannelLexical: {
			{SceneID: ids[1], Rank: 1, Score: 10},
			{SceneID: ids[0], Rank: 2, Score: 10},
		},
	}
	fused, _ := fuseCandidates(FusionMinMaxMean, lists, map[string]float64{ChannelLexical: 1}, fusionConfig())
	if fused[0].SceneID != ids[1] {
		t.Fatalf("expected lexical rank to break the tie, got %s first", fused[0].SceneID)
	}
}

func TestFuseTieBreakSceneID(t *testing.T) {
	ids := orderedIDs(2)
	lists := map[string][]Candidate{
		ChannelClip: {
			{SceneID: ids[1], Rank: 1, Score: 0.8},
		},
		ChannelPerson: {
			{SceneID: ids[0], Rank: 1, Score: 0.8},
		},
	}
	weights := map[string]float64{ChannelClip: 0.5, ChannelPerson: 0.5}
	fused, _ := fuseCandidates(FusionMinMaxMean, lists, weights, fusionConfig())
	if fused[0].SceneID != ids[0] {
		t.Fatalf("expected ascending scene ID to break the final tie, got %s first", fused[0].SceneID)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	scores := []float64{3, 1, 4, 1, 5, 9, 2, 6, 5, 3}
	if got := percentile(scores, 0.5); got != 3 {
		t.Fatalf("p50: got %v, want 3", got)
	}
	if got := percentile(scores, 0.9); got != 6 {
		t.Fatalf("p90: got %v, want 6", got)
	}
	if got := percentile(scores, 0); got != 1 {
		t.Fatalf("p0: got %v, want 1", got)
	}
	if got := percentile(scores, 1); got != 9 {
		t.Fatalf("p100: got %v, want 9", got)
	}
}
