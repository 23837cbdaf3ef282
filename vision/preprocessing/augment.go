package preprocessing

import (
	"image"
	"math"
	"math/rand"

	"github.com/nfnt/resize"

	"github.com/tsawler/go-petal/tensor"
)

const (
	maxRotateDegrees = 20.0
	cropScaleMin     = 0.08
	cropScaleMax     = 1.0
	cropAttempts     = 10
)

// Augment is the stochastic training transform: random horizontal and
// vertical flips (p=0.5 each), a random rotation within ±20 degrees, and a
// random-resized-crop to TargetSize, followed by the shared scale/normalize
// tail. It is applied once per epoch per sample.
func Augment(img image.Image, rng *rand.Rand) (*tensor.Tensor, error) {
	rgba := toRGBA(img)

	if rng.Float64() < 0.5 {
		rgba = flipHorizontal(rgba)
	}
	if rng.Float64() < 0.5 {
		rgba = flipVertical(rgba)
	}

	angle := (2*rng.Float64() - 1) * maxRotateDegrees * math.Pi / 180
	rgba = rotate(rgba, angle)

	cropped := randomResizedCrop(rgba, TargetSize, rng)
	return ToTensor(cropped)
}

func flipHorizontal(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			srcOff := src.PixOffset(b.Min.X+w-1-x, b.Min.Y+y)
			dstOff := dst.PixOffset(x, y)
			copy(dst.Pix[dstOff:dstOff+4], src.Pix[srcOff:srcOff+4])
		}
	}
	return dst
}

func flipVertical(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcOff := src.PixOffset(b.Min.X, b.Min.Y+h-1-y)
		dstOff := dst.PixOffset(0, y)
		copy(dst.Pix[dstOff:dstOff+4*w], src.Pix[srcOff:srcOff+4*w])
	}
	return dst
}

// rotate resamples the image rotated by angle radians about its center with
// bilinear interpolation. Samples falling outside the source stay black.
func rotate(src *image.RGBA, angle float64) *image.RGBA {
	if angle == 0 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	sin, cos := math.Sincos(angle)
	cx := float64(w-1) / 2
	cy := float64(h-1) / 2

	for y := 0; y < h; y++ {
		ym := float64(y) - cy
		for x := 0; x < w; x++ {
			xm := float64(x) - cx
			// Inverse mapping: sample the source at the un-rotated position.
			sx := cx + xm*cos + ym*sin
			sy := cy - xm*sin + ym*cos
			setBilinear(dst, src, x, y, sx, sy)
		}
	}
	return dst
}

func setBilinear(dst, src *image.RGBA, dx, dy int, sx, sy float64) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	x0 := int(math.Floor(sx))
	y0 := int(math.Floor(sy))
	fx := sx - float64(x0)
	fy := sy - float64(y0)

	var acc [4]float64
	for _, s := range [4]struct {
		x, y int
		w    float64
	}{
		{x0, y0, (1 - fx) * (1 - fy)},
		{x0 + 1, y0, fx * (1 - fy)},
		{x0, y0 + 1, (1 - fx) * fy},
		{x0 + 1, y0 + 1, fx * fy},
	} {
		if s.x < 0 || s.x >= w || s.y < 0 || s.y >= h || s.w == 0 {
			continue
		}
		off := src.PixOffset(b.Min.X+s.x, b.Min.Y+s.y)
		for c := 0; c < 4; c++ {
			acc[c] += s.w * float64(src.Pix[off+c])
		}
	}

	off := dst.PixOffset(dx, dy)
	for c := 0; c < 4; c++ {
		v := acc[c]
		if v > 255 {
			v = 255
		}
		dst.Pix[off+c] = uint8(v + 0.5)
	}
}

// randomResizedCrop samples a sub-region covering a random fraction of the
// image area with a random aspect ratio, then resizes it to size x size.
// This is both augmentation and resizing in one step. After cropAttempts
// failed samples it falls back to a center crop of the shorter side.
func randomResizedCrop(src *image.RGBA, size int, rng *rand.Rand) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	area := float64(w * h)

	logMin := math.Log(3.0 / 4.0)
	logMax := math.Log(4.0 / 3.0)

	for attempt := 0; attempt < cropAttempts; attempt++ {
		targetArea := area * (cropScaleMin + rng.Float64()*(cropScaleMax-cropScaleMin))
		aspect := math.Exp(logMin + rng.Float64()*(logMax-logMin))

		cw := int(math.Round(math.Sqrt(targetArea * aspect)))
		ch := int(math.Round(math.Sqrt(targetArea / aspect)))
		if cw <= 0 || ch <= 0 || cw > w || ch > h {
			continue
		}

		x0 := rng.Intn(w - cw + 1)
		y0 := rng.Intn(h - ch + 1)
		region := cropRegion(src, x0, y0, cw, ch)
		return resize.Resize(uint(size), uint(size), region, resize.Bilinear)
	}

	// Fallback: center crop of the shorter side, then resize.
	side := w
	if h < w {
		side = h
	}
	region := CenterCrop(src, side)
	return resize.Resize(uint(size), uint(size), region, resize.Bilinear)
}

func cropRegion(src *image.RGBA, x0, y0, w, h int) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcOff := src.PixOffset(b.Min.X+x0, b.Min.Y+y0+y)
		dstOff := dst.PixOffset(0, y)
		copy(dst.Pix[dstOff:dstOff+4*w], src.Pix[srcOff:srcOff+4*w])
	}
	return dst
}
