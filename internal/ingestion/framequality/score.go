package framequality

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"math"
	"os"

	"golang.org/x/image/draw"
)

// Luma raster width used for measurement. Blur variance depends on the
// raster scale, so the blur threshold is calibrated against this width.
const lumaWidth = 256

func measureFile(path string) (brightness, blur float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode frame: %w", err)
	}
	b, s := measureImage(img)
	return b, s, nil
}

func measureImage(img image.Image) (brightness, blur float64) {
	gray := toLuma(img)
	return meanLuma(gray), laplacianVariance(gray)
}

func toLuma(img image.Image) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return image.NewGray(image.Rect(0, 0, 1, 1))
	}
	if w > lumaWidth {
		h = int(math.Round(float64(h) * float64(lumaWidth) / float64(w)))
		if h < 1 {
			h = 1
		}
		w = lumaWidth
	}
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)
	return gray
}

func meanLuma(g *image.Gray) float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, p := range g.Pix {
		sum += float64(p)
	}
	return sum / float64(len(g.Pix))
}

// laplacianVariance runs the 3x3 Laplacian over the interior pixels and
// returns the variance of the response. Sharp frames score high, blurred
// or flat frames near zero.
func laplacianVariance(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	at := func(x, y int) float64 {
		return float64(g.Pix[y*g.Stride+x])
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			resp := at(x, y-1) + at(x, y+1) + at(x-1, y) + at(x+1, y) - 4*at(x, y)
			sum += resp
			sumSq += resp * resp
			n++
		}
	}
	mean := sum / float64(n)
	v := sumSq/float64(n) - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// qualityScore prefers mid-exposure, sharp frames: 0.4 weight on distance
// from mid-gray, 0.6 on blur variance capped at 1000.
func qualityScore(brightness, blur float64) float64 {
	exposure := 0.4 * (1 - math.Abs(brightness-127.5)/127.5)
	sharpness := 0.6 * math.Min(blur/1000.0, 1.0)
	return exposure + sharpness
}
