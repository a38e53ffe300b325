package scenedetect

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"math"
	"os"

	"golang.org/x/image/draw"
)

// Deltas are computed on a fixed tiny grayscale raster so the metric is
// comparable across videos regardless of resolution or aspect.
const (
	deltaWidth  = 64
	deltaHeight = 36
)

type contentDelta struct {
	TimeS float64
	Value float64
}

func loadDeltaFrame(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return grayPixels(img), nil
}

func grayPixels(img image.Image) []float64 {
	small := image.NewGray(image.Rect(0, 0, deltaWidth, deltaHeight))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]float64, len(small.Pix))
	for i, p := range small.Pix {
		out[i] = float64(p)
	}
	return out
}

// frameDelta is the mean absolute pixel difference between two frames,
// 0..255.
func frameDelta(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(a[i] - b[i])
	}
	return sum / float64(n)
}
