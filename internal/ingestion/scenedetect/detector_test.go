package scenedetect

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestNormalizeIntervals(t *testing.T) {
	cases := []struct {
		name     string
		cuts     []float64
		duration float64
		minLen   float64
		want     []Interval
	}{
		{
			name:     "zero cuts single scene",
			cuts:     nil,
			duration: 30,
			minLen:   2,
			want:     []Interval{{0, 0, 30}},
		},
		{
			name:     "plain split",
			cuts:     []float64{10, 20},
			duration: 30,
			minLen:   2,
			want:     []Interval{{0, 0, 10}, {1, 10, 20}, {2, 20, 30}},
		},
		{
			name:     "cuts outside range dropped",
			cuts:     []float64{-1, 0, 15, 30, 42},
			duration: 30,
			minLen:   2,
			want:     []Interval{{0, 0, 15}, {1, 15, 30}},
		},
		{
			name:     "unsorted and duplicated cuts",
			cuts:     []float64{20, 10, 10, 20},
			duration: 30,
			minLen:   2,
			want:     []Interval{{0, 0, 10}, {1, 10, 20}, {2, 20, 30}},
		},
		{
			name:     "short tail merges into preceding",
			cuts:     []float64{10, 29},
			duration: 30,
			minLen:   2,
			want:     []Interval{{0, 0, 10}, {1, 10, 30}},
		},
		{
			name:     "short head merges forward",
			cuts:     []float64{0.5, 15},
			duration: 30,
			minLen:   2,
			want:     []Interval{{0, 0, 15}, {1, 15, 30}},
		},
		{
			name:     "consecutive short segments collapse",
			cuts:     []float64{10, 10.5, 11, 11.5, 20},
			duration: 30,
			minLen:   2,
			want:     []Interval{{0, 0, 10}, {1, 10, 20}, {2, 20, 30}},
		},
		{
			name:     "video shorter than min length stays one scene",
			cuts:     nil,
			duration: 1.2,
			minLen:   2,
			want:     []Interval{{0, 0, 1.2}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeIntervals(tc.cuts, tc.duration, tc.minLen)
			if len(got) != len(tc.want) {
				t.Fatalf("normalizeIntervals(%v)=%v, want %v", tc.cuts, got, tc.want)
			}
			for i := range got {
				if got[i].Index != tc.want[i].Index ||
					math.Abs(got[i].StartS-tc.want[i].StartS) > 1e-9 ||
					math.Abs(got[i].EndS-tc.want[i].EndS) > 1e-9 {
					t.Fatalf("interval %d = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
			// Coverage without gaps.
			if len(got) > 0 {
				if got[0].StartS != 0 {
					t.Errorf("first interval starts at %f", got[0].StartS)
				}
				if math.Abs(got[len(got)-1].EndS-tc.duration) > 1e-9 {
					t.Errorf("last interval ends at %f, want %f", got[len(got)-1].EndS, tc.duration)
				}
				for i := 1; i < len(got); i++ {
					if got[i].StartS != got[i-1].EndS {
						t.Errorf("gap between interval %d and %d", i-1, i)
					}
				}
			}
		})
	}
}

func TestContentCuts(t *testing.T) {
	deltas := []contentDelta{
		{TimeS: 0.5, Value: 3},
		{TimeS: 1.0, Value: 40},
		{TimeS: 1.5, Value: 26.9},
		{TimeS: 2.0, Value: 27},
	}
	got := contentCuts(deltas, 27)
	want := []float64{1.0, 2.0}
	if len(got) != len(want) {
		t.Fatalf("contentCuts=%v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("contentCuts=%v, want %v", got, want)
		}
	}
}

func TestAdaptiveCuts(t *testing.T) {
	// Quiet baseline around 2, one genuine spike, one spike below the
	// absolute floor.
	deltas := []contentDelta{
		{TimeS: 0.5, Value: 2},
		{TimeS: 1.0, Value: 2},
		{TimeS: 1.5, Value: 3},
		{TimeS: 2.0, Value: 2},
		{TimeS: 2.5, Value: 9}, // 4x baseline but under the floor of 15
		{TimeS: 3.0, Value: 2},
		{TimeS: 3.5, Value: 60}, // real cut
		{TimeS: 4.0, Value: 2},
	}
	got := adaptiveCuts(deltas, 4, 3.0, 15.0)
	if len(got) != 1 || got[0] != 3.5 {
		t.Fatalf("adaptiveCuts=%v, want [3.5]", got)
	}

	// The first delta sees an empty window; only the absolute floor applies.
	first := adaptiveCuts([]contentDelta{{TimeS: 0.5, Value: 20}}, 4, 3.0, 15.0)
	if len(first) != 1 {
		t.Fatalf("adaptiveCuts first-frame spike=%v, want one cut", first)
	}

	// A spike right after a hard cut has to clear the inflated window mean.
	after := adaptiveCuts([]contentDelta{
		{TimeS: 0.5, Value: 2},
		{TimeS: 1.0, Value: 60},
		{TimeS: 1.5, Value: 20}, // window mean 31, needs >= 93
	}, 4, 3.0, 15.0)
	if len(after) != 1 || after[0] != 1.0 {
		t.Fatalf("adaptiveCuts=%v, want only the 1.0 cut", after)
	}
}

func TestFrameDelta(t *testing.T) {
	a := []float64{0, 0, 0, 0}
	b := []float64{255, 255, 255, 255}
	if got := frameDelta(a, b); got != 255 {
		t.Errorf("frameDelta(black, white)=%f, want 255", got)
	}
	if got := frameDelta(a, a); got != 0 {
		t.Errorf("frameDelta(black, black)=%f, want 0", got)
	}
	if got := frameDelta(nil, nil); got != 0 {
		t.Errorf("frameDelta(nil, nil)=%f, want 0", got)
	}
}

func TestGrayPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 360))
	for y := 0; y < 360; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.White)
		}
	}
	px := grayPixels(img)
	if len(px) != deltaWidth*deltaHeight {
		t.Fatalf("grayPixels len=%d, want %d", len(px), deltaWidth*deltaHeight)
	}
	for i, p := range px {
		if p < 250 {
			t.Fatalf("pixel %d = %f, want near-white", i, p)
		}
	}
}
