package preprocessing

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/tensor"
)

// Eval is the deterministic inference transform: resize so the shorter side
// equals ResizeShorter while preserving aspect ratio, center-crop a
// TargetSize square, then scale and normalize into a CHW tensor. Applying it
// twice to the same image yields identical output.
func Eval(img image.Image) (*tensor.Tensor, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("empty image")
	}

	shorter := w
	if h < w {
		shorter = h
	}
	// Both dimensions divided by the same ratio and floored; the shorter
	// side lands exactly on ResizeShorter.
	ratio := float64(shorter) / float64(ResizeShorter)
	nw := int(float64(w) / ratio)
	nh := int(float64(h) / ratio)

	resized := resize.Resize(uint(nw), uint(nh), img, resize.Bilinear)
	cropped := CenterCrop(resized, TargetSize)
	return ToTensor(cropped)
}

// CenterCrop extracts a size x size region centered at (width/2, height/2)
// with floor-based box edges. For odd dimensions the crop is asymmetric by
// one pixel; the box formula is fixed because it decides which pixels enter
// the model.
func CenterCrop(img image.Image, size int) image.Image {
	rgba := toRGBA(img)
	b := rgba.Bounds()
	cx := b.Dx() / 2
	cy := b.Dy() / 2
	left := cx - size/2
	top := cy - size/2

	out := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		srcY := b.Min.Y + top + y
		for x := 0; x < size; x++ {
			srcX := b.Min.X + left + x
			if srcX < b.Min.X || srcX >= b.Max.X || srcY < b.Min.Y || srcY >= b.Max.Y {
				continue
			}
			srcOff := rgba.PixOffset(srcX, srcY)
			dstOff := out.PixOffset(x, y)
			copy(out.Pix[dstOff:dstOff+4], rgba.Pix[srcOff:srcOff+4])
		}
	}
	return out
}
