package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-backend/internal/data/repos/testutil"
)

func baseFused(ids []uuid.UUID, scores []float64) []fusedCandidate {
	out := make([]fusedCandidate, len(ids))
	for i := range ids {
		out[i] = fusedCandidate{
			SceneID: ids[i],
			Score:   scores[i],
			PerChannel: map[string]ChannelDebug{
				ChannelDenseTranscript: {Rank: i + 1, Raw: scores[i], Normalized: scores[i], Weight: 1},
			},
			bestDense:   i + 1,
			bestLexical: missingRank,
		}
	}
	return out
}

func TestRerankFlatClipKeepsBaseOrder(t *testing.T) {
	ctx := context.Background()
	ids := orderedIDs(4)
	scores := []float64{0.90, 0.80, 0.70, 0.60}
	store := &fakeVectorStore{batch: map[string]float64{
		ids[0].String(): 0.41,
		ids[1].String(): 0.40,
		ids[2].String(): 0.42,
		ids[3].String(): 0.40,
	}}
	r := NewReranker(testutil.Logger(t), Config{}, store, &fakeClipEncoder{})

	out, dbg := r.Rerank(ctx, uuid.New(), &QueryPlan{Query: "sunset over the pier"}, baseFused(ids, scores))

	if dbg.SkippedReason != "flat_clip" {
		t.Fatalf("skipped reason = %q, want flat_clip", dbg.SkippedReason)
	}
	if math.Abs(dbg.ClipScoreRange-0.02) > 1e-9 {
		t.Fatalf("clip score range = %v, want 0.02", dbg.ClipScoreRange)
	}
	if len(out) != len(ids) {
		t.Fatalf("got %d results, want %d", len(out), len(ids))
	}
	for i := range out {
		if out[i].SceneID != ids[i] {
			t.Errorf("result[%d] = %s, want %s", i, out[i].SceneID, ids[i])
		}
		if out[i].Score != scores[i] {
			t.Errorf("result[%d] score = %v, want untouched %v", i, out[i].Score, scores[i])
		}
	}
}

func TestRerankBlendsClipIntoPool(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	ids := orderedIDs(4)
	store := &fakeVectorStore{batch: map[string]float64{
		ids[0].String(): 0.2,
		ids[1].String(): 0.9,
		ids[2].String(): 0.5,
	}}
	r := NewReranker(testutil.Logger(t), Config{}, store, &fakeClipEncoder{})

	out, dbg := r.Rerank(ctx, tenantID, &QueryPlan{Query: "a red umbrella"}, baseFused(ids, []float64{0.9, 0.8, 0.7, 0.6}))

	if dbg.SkippedReason != "" {
		t.Fatalf("unexpected skip: %q", dbg.SkippedReason)
	}
	if dbg.ClipWeightUsed != 0.3 {
		t.Fatalf("clip weight used = %v, want 0.3", dbg.ClipWeightUsed)
	}
	if math.Abs(dbg.ClipScoreRange-0.7) > 1e-9 {
		t.Fatalf("clip score range = %v, want 0.7", dbg.ClipScoreRange)
	}

	// The top clip score lifts the base runner-up over the base winner,
	// which holds the worst clip score. The last scene got no clip score
	// back and contributes zero on that side.
	wantOrder := []uuid.UUID{ids[1], ids[0], ids[2], ids[3]}
	wantScores := []float64{
		0.7*(2.0/3.0) + 0.3,
		0.7,
		0.7*(1.0/3.0) + 0.3*(3.0/7.0),
		0,
	}
	if len(out) != len(wantOrder) {
		t.Fatalf("got %d results, want %d", len(out), len(wantOrder))
	}
	for i := range out {
		if out[i].SceneID != wantOrder[i] {
			t.Errorf("result[%d] = %s, want %s", i, out[i].SceneID, wantOrder[i])
		}
		if math.Abs(out[i].Score-wantScores[i]) > 1e-9 {
			t.Errorf("result[%d] score = %v, want %v", i, out[i].Score, wantScores[i])
		}
	}

	top := out[0].PerChannel[ChannelClip]
	if top.Raw != 0.9 || math.Abs(top.Normalized-1) > 1e-9 || top.Weight != 0.3 {
		t.Errorf("top clip debug = %+v", top)
	}
	if _, ok := out[3].PerChannel[ChannelClip]; ok {
		t.Errorf("scene without a clip score should carry no clip debug entry")
	}
	if len(store.batchTenants) != 1 || store.batchTenants[0] != tenantID.String() {
		t.Errorf("batch tenants = %v, want [%s]", store.batchTenants, tenantID)
	}
}

func TestRerankPoolBoundsResultSet(t *testing.T) {
	ctx := context.Background()
	ids := orderedIDs(4)
	store := &fakeVectorStore{batch: map[string]float64{
		ids[0].String(): 0.1,
		ids[1].String(): 0.9,
	}}
	r := NewReranker(testutil.Logger(t), Config{RerankPoolSize: 2}, store, &fakeClipEncoder{})

	out, dbg := r.Rerank(ctx, uuid.New(), &QueryPlan{Query: "a red umbrella"}, baseFused(ids, []float64{0.9, 0.8, 0.7, 0.6}))

	if dbg.SkippedReason != "" {
		t.Fatalf("unexpected skip: %q", dbg.SkippedReason)
	}
	if len(out) != 2 {
		t.Fatalf("got %d results, want the pool size 2", len(out))
	}
	if out[0].SceneID != ids[0] || out[1].SceneID != ids[1] {
		t.Fatalf("order = [%s %s], want [%s %s]", out[0].SceneID, out[1].SceneID, ids[0], ids[1])
	}
	if math.Abs(out[0].Score-0.7) > 1e-9 || math.Abs(out[1].Score-0.3) > 1e-9 {
		t.Fatalf("scores = [%v %v], want [0.7 0.3]", out[0].Score, out[1].Score)
	}
	if len(store.batchIDs) != 1 || len(store.batchIDs[0]) != 2 {
		t.Fatalf("batch ids = %v, want one call with the top 2", store.batchIDs)
	}
}

func TestRerankWithoutEncoderKeepsBase(t *testing.T) {
	ctx := context.Background()
	ids := orderedIDs(2)
	store := &fakeVectorStore{}
	r := NewReranker(testutil.Logger(t), Config{}, store, nil)

	out, dbg := r.Rerank(ctx, uuid.New(), &QueryPlan{Query: "anything"}, baseFused(ids, []float64{0.9, 0.8}))

	if dbg.SkippedReason != "clip_unavailable" {
		t.Fatalf("skipped reason = %q, want clip_unavailable", dbg.SkippedReason)
	}
	if len(out) != 2 || out[0].SceneID != ids[0] {
		t.Fatalf("base ranking not preserved: %v", out)
	}
	if len(store.batchTenants) != 0 {
		t.Fatalf("batch score should not run without an encoder")
	}
}

func TestRerankEncodeFailureKeepsBase(t *testing.T) {
	ctx := context.Background()
	ids := orderedIDs(2)
	enc := &fakeClipEncoder{err: errors.New("encoder down")}
	r := NewReranker(testutil.Logger(t), Config{}, &fakeVectorStore{}, enc)

	out, dbg := r.Rerank(ctx, uuid.New(), &QueryPlan{Query: "anything"}, baseFused(ids, []float64{0.9, 0.8}))

	if dbg.SkippedReason != "clip_unavailable" {
		t.Fatalf("skipped reason = %q, want clip_unavailable", dbg.SkippedReason)
	}
	if out[0].SceneID != ids[0] || out[1].SceneID != ids[1] {
		t.Fatalf("base ranking not preserved")
	}
}

func TestRerankBatchFailureKeepsBase(t *testing.T) {
	ctx := context.Background()
	ids := orderedIDs(2)
	store := &fakeVectorStore{batchErr: errors.New("vector store down")}
	r := NewReranker(testutil.Logger(t), Config{}, store, &fakeClipEncoder{})

	out, dbg := r.Rerank(ctx, uuid.New(), &QueryPlan{Query: "anything"}, baseFused(ids, []float64{0.9, 0.8}))

	if dbg.SkippedReason != "clip_score_failed" {
		t.Fatalf("skipped reason = %q, want clip_score_failed", dbg.SkippedReason)
	}
	if out[0].SceneID != ids[0] || out[1].SceneID != ids[1] {
		t.Fatalf("base ranking not preserved")
	}
}

func TestRerankEmptyCandidates(t *testing.T) {
	enc := &fakeClipEncoder{}
	r := NewReranker(testutil.Logger(t), Config{}, &fakeVectorStore{}, enc)

	out, dbg := r.Rerank(context.Background(), uuid.New(), &QueryPlan{Query: "anything"}, nil)

	if dbg.SkippedReason != "flat_clip" {
		t.Fatalf("skipped reason = %q, want flat_clip", dbg.SkippedReason)
	}
	if len(out) != 0 {
		t.Fatalf("got %d results from empty input", len(out))
	}
	if enc.textCalls != 0 {
		t.Fatalf("encoder should not run for empty input")
	}
}
