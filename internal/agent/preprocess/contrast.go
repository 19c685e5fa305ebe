package preprocess

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
)

// adaptiveClipLimit caps each histogram bin at this fraction of all samples
// before equalising.
const adaptiveClipLimit = 0.01

func adjustContrast(img image.Image, kind constants.ContrastType) *image.NRGBA {
	switch kind {
	case constants.ContrastStretching:
		return stretchContrast(img, 2, 98)
	case constants.ContrastHistogramEqualization:
		return equalize(img, 0)
	case constants.ContrastAdaptiveEqualization:
		return equalize(img, adaptiveClipLimit)
	default:
		return imaging.Clone(img)
	}
}

// histogram counts RGB samples of img together.
func histogram(img *image.NRGBA) (hist [256]int, total int) {
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+4*b.Dx()]
		for x := 0; x < b.Dx(); x++ {
			hist[row[4*x]]++
			hist[row[4*x+1]]++
			hist[row[4*x+2]]++
		}
	}
	return hist, 3 * b.Dx() * b.Dy()
}

// percentile returns the smallest value v with at least p percent of the
// samples at or below it.
func percentile(hist [256]int, total int, p float64) uint8 {
	target := int(math.Ceil(p / 100 * float64(total)))
	acc := 0
	for v, n := range hist {
		acc += n
		if acc >= target && acc > 0 {
			return uint8(v)
		}
	}
	return 255
}

// stretchContrast linearly maps the [lo, hi] percentile range onto 0..255.
func stretchContrast(img image.Image, lo, hi float64) *image.NRGBA {
	src := imaging.Clone(img)
	hist, total := histogram(src)
	if total == 0 {
		return src
	}
	low, high := float64(percentile(hist, total, lo)), float64(percentile(hist, total, hi))
	if high <= low {
		return src
	}
	var lut [256]uint8
	for v := range lut {
		lut[v] = clamp((float64(v) - low) * 255 / (high - low))
	}
	return applyLUT(src, lut)
}

// equalize maps values through the cumulative histogram. A positive clip
// limit redistributes counts above limit*total evenly over all bins first.
func equalize(img image.Image, clip float64) *image.NRGBA {
	src := imaging.Clone(img)
	hist, total := histogram(src)
	if total == 0 {
		return src
	}

	counts := make([]float64, 256)
	for i, n := range hist {
		counts[i] = float64(n)
	}
	if clip > 0 {
		limit := clip * float64(total)
		excess := 0.0
		for i, n := range counts {
			if n > limit {
				excess += n - limit
				counts[i] = limit
			}
		}
		for i := range counts {
			counts[i] += excess / 256
		}
	}

	var lut [256]uint8
	cdf := 0.0
	for v := range lut {
		cdf += counts[v]
		lut[v] = clamp(cdf / float64(total) * 255)
	}
	return applyLUT(src, lut)
}

func applyLUT(img *image.NRGBA, lut [256]uint8) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: lut[c.R], G: lut[c.G], B: lut[c.B], A: c.A}
	})
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}
