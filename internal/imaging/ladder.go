package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// encodeFunc encodes an image at one quality level.
type encodeFunc func(img image.Image, quality int) ([]byte, error)

// fitFunc decides whether an encoding meets the size budget.
type fitFunc func(data []byte) bool

// ladderResult is the first encoding on the ladder that fit the budget.
type ladderResult struct {
	data       []byte
	quality    int
	width      int
	height     int
	downscaled bool
}

// runLadder walks resize targets outer, quality levels inner, and returns
// the first encoding the fit function accepts. The walk order is fixed so
// identical inputs always land on the same rung.
func runLadder(img image.Image, sizes []image.Point, qualities []int, encode encodeFunc, fits fitFunc) (*ladderResult, bool) {
	orig := img.Bounds().Size()
	for _, size := range sizes {
		resized := img
		downscaled := false
		if size != orig {
			resized = scaleTo(img, size)
			downscaled = true
		}
		for _, q := range qualities {
			data, err := encode(resized, q)
			if err != nil {
				continue
			}
			if fits(data) {
				s := resized.Bounds().Size()
				return &ladderResult{data: data, quality: q, width: s.X, height: s.Y, downscaled: downscaled}, true
			}
		}
	}
	return nil, false
}

// fitWithin returns the size after scaling to fit maxDim on the longest
// edge. Images already within the bound keep their size; there is no
// upscaling on any rung.
func fitWithin(size image.Point, maxDim int) image.Point {
	longest := size.X
	if size.Y > longest {
		longest = size.Y
	}
	if longest <= maxDim {
		return size
	}
	w := size.X * maxDim / longest
	h := size.Y * maxDim / longest
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return image.Point{X: w, Y: h}
}

// scaleBy returns the size after multiplying both edges by factor.
func scaleBy(size image.Point, factor float64) image.Point {
	w := int(float64(size.X) * factor)
	h := int(float64(size.Y) * factor)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return image.Point{X: w, Y: h}
}

// scaleTo resamples img to the given size with Catmull-Rom interpolation.
func scaleTo(img image.Image, size image.Point) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
