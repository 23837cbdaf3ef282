// Package preprocessing turns raster images into normalized (3, 224, 224)
// tensors. The same scale/normalize tail is shared by the deterministic
// inference transform and the stochastic training augmentation so the model
// always sees identically distributed inputs.
package preprocessing

import (
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/pkg/errors"

	"github.com/tsawler/go-petal/tensor"
)

const (
	// TargetSize is the side length of the tensor fed to the model.
	TargetSize = 224
	// ResizeShorter is the shorter-side length used before the center crop.
	ResizeShorter = 256
	// Channels is the number of color channels.
	Channels = 3
)

// Per-channel normalization statistics of the pretrained feature extractor's
// training corpus, channel order R, G, B.
var (
	Mean = [Channels]float32{0.485, 0.456, 0.406}
	Std  = [Channels]float32{0.229, 0.224, 0.225}
)

// Decode reads and decodes a JPEG or PNG image from disk.
func Decode(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %s", path)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %s", path)
	}
	return img, nil
}

// ToTensor converts a TargetSize x TargetSize image into a normalized CHW
// tensor: 8-bit pixel values scaled to [0, 1], then per-channel mean/std
// normalization. The image library's native layout is HWC, so the channel
// axis is moved to the front here.
func ToTensor(img image.Image) (*tensor.Tensor, error) {
	b := img.Bounds()
	if b.Dx() != TargetSize || b.Dy() != TargetSize {
		return nil, errors.Errorf("expected %dx%d image, got %dx%d", TargetSize, TargetSize, b.Dx(), b.Dy())
	}

	rgba := toRGBA(img)
	data := make([]float32, Channels*TargetSize*TargetSize)
	plane := TargetSize * TargetSize

	for y := 0; y < TargetSize; y++ {
		row := rgba.PixOffset(rgba.Rect.Min.X, rgba.Rect.Min.Y+y)
		for x := 0; x < TargetSize; x++ {
			off := row + x*4
			idx := y*TargetSize + x
			data[idx] = (float32(rgba.Pix[off])/255.0 - Mean[0]) / Std[0]
			data[plane+idx] = (float32(rgba.Pix[off+1])/255.0 - Mean[1]) / Std[1]
			data[2*plane+idx] = (float32(rgba.Pix[off+2])/255.0 - Mean[2]) / Std[2]
		}
	}

	return tensor.New([]int{Channels, TargetSize, TargetSize}, data)
}

// toRGBA returns the image as *image.RGBA, converting only when necessary.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
