package reid

import (
	"image"
	"math"
)

// Histogram layout of the handcrafted pipeline. The ordering and bin
// ranges are fixed so two processes produce bit-identical vectors:
// B,G,R (16 bins each over [0,256)), H,S,V (16 bins; hue over [0,180)),
// LBP on luminance (32 bins), gradient orientation (16 bins over [0,360)).
const (
	colorBins    = 16
	lbpBins      = 32
	gradientBins = 16

	// handcraftedBins is the total histogram length before tail filling.
	handcraftedBins = 3*colorBins + 3*colorBins + lbpBins + gradientBins
)

// appendColorHistograms computes per-channel BGR and HSV histograms on an
// RGBA image and appends them, each L2-normalized independently.
func appendColorHistograms(features []float32, img *image.RGBA) []float32 {
	bounds := img.Bounds()

	var bHist, gHist, rHist [colorBins]float32
	var hHist, sHist, vHist [colorBins]float32

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := img.Pix[(y-bounds.Min.Y)*img.Stride:]
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			i := (x - bounds.Min.X) * 4
			r, g, b := row[i], row[i+1], row[i+2]

			bHist[int(b)*colorBins/256]++
			gHist[int(g)*colorBins/256]++
			rHist[int(r)*colorBins/256]++

			h, s, v := rgbToHSV(r, g, b)
			hHist[int(h)*colorBins/180]++
			sHist[int(s)*colorBins/256]++
			vHist[int(v)*colorBins/256]++
		}
	}

	for _, hist := range [][colorBins]float32{bHist, gHist, rHist, hHist, sHist, vHist} {
		sub := hist
		normalizeL2(sub[:])
		features = append(features, sub[:]...)
	}
	return features
}

// appendLBPHistogram computes a local binary pattern histogram over the
// luminance plane and appends it L2-normalized.
func appendLBPHistogram(features []float32, gray []uint8, w, h int) []float32 {
	var hist [lbpBins]float32

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			center := gray[y*w+x]
			var code uint8
			if gray[(y-1)*w+x-1] >= center {
				code |= 1 << 7
			}
			if gray[(y-1)*w+x] >= center {
				code |= 1 << 6
			}
			if gray[(y-1)*w+x+1] >= center {
				code |= 1 << 5
			}
			if gray[y*w+x+1] >= center {
				code |= 1 << 4
			}
			if gray[(y+1)*w+x+1] >= center {
				code |= 1 << 3
			}
			if gray[(y+1)*w+x] >= center {
				code |= 1 << 2
			}
			if gray[(y+1)*w+x-1] >= center {
				code |= 1 << 1
			}
			if gray[y*w+x-1] >= center {
				code |= 1
			}
			hist[int(code)*lbpBins/256]++
		}
	}

	normalizeL2(hist[:])
	return append(features, hist[:]...)
}

// appendGradientHistogram computes a HOG-like orientation histogram from
// 3x3 Sobel gradients on the luminance plane, binned over [0,360) degrees,
// and appends it L2-normalized. Border pixels are skipped.
func appendGradientHistogram(features []float32, gray []uint8, w, h int) []float32 {
	var hist [gradientBins]float32

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := int(gray[(y-1)*w+x+1]) + 2*int(gray[y*w+x+1]) + int(gray[(y+1)*w+x+1]) -
				int(gray[(y-1)*w+x-1]) - 2*int(gray[y*w+x-1]) - int(gray[(y+1)*w+x-1])
			gy := int(gray[(y+1)*w+x-1]) + 2*int(gray[(y+1)*w+x]) + int(gray[(y+1)*w+x+1]) -
				int(gray[(y-1)*w+x-1]) - 2*int(gray[(y-1)*w+x]) - int(gray[(y-1)*w+x+1])

			angle := math.Atan2(float64(gy), float64(gx)) * 180 / math.Pi
			if angle < 0 {
				angle += 360
			}
			bin := int(angle * gradientBins / 360)
			if bin >= gradientBins {
				bin = gradientBins - 1
			}
			hist[bin]++
		}
	}

	normalizeL2(hist[:])
	return append(features, hist[:]...)
}

// rgbToHSV converts an 8-bit RGB triple to 8-bit HSV with hue scaled to
// [0,180), matching the ranges the histogram bins assume.
func rgbToHSV(r, g, b uint8) (uint8, uint8, uint8) {
	maxc := r
	if g > maxc {
		maxc = g
	}
	if b > maxc {
		maxc = b
	}
	minc := r
	if g < minc {
		minc = g
	}
	if b < minc {
		minc = b
	}

	v := maxc
	if maxc == 0 {
		return 0, 0, 0
	}

	delta := int(maxc) - int(minc)
	s := uint8(delta * 255 / int(maxc))
	if delta == 0 {
		return 0, s, v
	}

	var hue float64
	switch maxc {
	case r:
		hue = 60 * float64(int(g)-int(b)) / float64(delta)
	case g:
		hue = 120 + 60*float64(int(b)-int(r))/float64(delta)
	default:
		hue = 240 + 60*float64(int(r)-int(g))/float64(delta)
	}
	if hue < 0 {
		hue += 360
	}

	h := uint8(hue / 2)
	if h > 179 {
		h = 179
	}
	return h, s, v
}

// luminance converts an RGBA image to a packed 8-bit luminance plane using
// the BT.601 weights.
func luminance(img *image.RGBA) ([]uint8, int, int) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	gray := make([]uint8, w*h)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			r, g, b := int(row[i]), int(row[i+1]), int(row[i+2])
			gray[y*w+x] = uint8((299*r + 587*g + 114*b + 500) / 1000)
		}
	}
	return gray, w, h
}
