package preprocessing

import (
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// gradientImage builds a deterministic test image of the given size.
func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: uint8(((x + y) * 255) / (w + h)),
				A: 255,
			})
		}
	}
	return img
}

func checkTensorShape(t *testing.T, shape []int) {
	t.Helper()
	if len(shape) != 3 || shape[0] != 3 || shape[1] != TargetSize || shape[2] != TargetSize {
		t.Fatalf("Expected shape [3 %d %d], got %v", TargetSize, TargetSize, shape)
	}
}

func TestEvalOutputShapeAndRange(t *testing.T) {
	sizes := []struct{ w, h int }{
		{500, 500},
		{333, 500},
		{500, 333},
		{256, 256},
		{257, 311}, // odd dimensions exercise asymmetric crops
		{64, 48},   // smaller than the crop, must be upscaled first
	}

	for _, size := range sizes {
		out, err := Eval(gradientImage(size.w, size.h))
		if err != nil {
			t.Fatalf("Eval(%dx%d) failed: %v", size.w, size.h, err)
		}
		checkTensorShape(t, out.Shape)

		for i, v := range out.Data {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("Eval(%dx%d): non-finite value at %d", size.w, size.h, i)
			}
			// 8-bit input normalized by channel stats stays well inside ±5.
			if v < -5 || v > 5 {
				t.Fatalf("Eval(%dx%d): value %f at %d outside plausible range", size.w, size.h, v, i)
			}
		}
	}
}

func TestEvalIsDeterministic(t *testing.T) {
	img := gradientImage(400, 300)

	a, err := Eval(img)
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	b, err := Eval(img)
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}

	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("Eval output differs at %d: %f vs %f", i, a.Data[i], b.Data[i])
		}
	}
}

func TestCenterCropBox(t *testing.T) {
	// Mark the exact pixels the floor-based box must select.
	src := image.NewRGBA(image.Rect(0, 0, 300, 256))
	left := 300/2 - 112
	top := 256/2 - 112
	src.Set(left, top, color.RGBA{R: 255, A: 255})
	src.Set(left+TargetSize-1, top+TargetSize-1, color.RGBA{G: 255, A: 255})
	src.Set(left-1, top, color.RGBA{B: 255, A: 255}) // one pixel outside

	out := toRGBA(CenterCrop(src, TargetSize))

	if r, _, _, _ := out.At(0, 0).RGBA(); r>>8 != 255 {
		t.Error("Top-left crop pixel does not match floor-based box edge")
	}
	if _, g, _, _ := out.At(TargetSize-1, TargetSize-1).RGBA(); g>>8 != 255 {
		t.Error("Bottom-right crop pixel does not match floor-based box edge")
	}
	// The marked outside pixel must not appear anywhere in the crop.
	for y := 0; y < TargetSize; y++ {
		for x := 0; x < TargetSize; x++ {
			if _, _, b, _ := out.At(x, y).RGBA(); b>>8 == 255 {
				t.Fatalf("Pixel outside crop box leaked in at (%d, %d)", x, y)
			}
		}
	}
}

func TestCenterCropIdempotent(t *testing.T) {
	img := gradientImage(341, 256) // shorter side already 256

	once := toRGBA(CenterCrop(img, TargetSize))
	twice := toRGBA(CenterCrop(img, TargetSize))

	for i := range once.Pix {
		if once.Pix[i] != twice.Pix[i] {
			t.Fatal("Center crop is not idempotent")
		}
	}
}

func TestToTensorNormalization(t *testing.T) {
	// A uniform white image maps every channel to (1 - mean) / std.
	img := image.NewRGBA(image.Rect(0, 0, TargetSize, TargetSize))
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	out, err := ToTensor(img)
	if err != nil {
		t.Fatalf("ToTensor failed: %v", err)
	}

	plane := TargetSize * TargetSize
	for c := 0; c < Channels; c++ {
		want := (1.0 - Mean[c]) / Std[c]
		got := out.Data[c*plane]
		if math.Abs(float64(got-want)) > 1e-5 {
			t.Errorf("Channel %d: expected %f, got %f", c, want, got)
		}
	}
}

func TestToTensorRejectsWrongSize(t *testing.T) {
	if _, err := ToTensor(gradientImage(100, 100)); err == nil {
		t.Error("Expected error for non-224 input")
	}
}

func TestAugmentOutputShapeAndRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, size := range []struct{ w, h int }{{500, 400}, {64, 64}, {225, 311}} {
		img := gradientImage(size.w, size.h)
		for trial := 0; trial < 20; trial++ {
			out, err := Augment(img, rng)
			if err != nil {
				t.Fatalf("Augment(%dx%d) failed: %v", size.w, size.h, err)
			}
			checkTensorShape(t, out.Shape)
			for i, v := range out.Data {
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					t.Fatalf("Augment: non-finite value at %d", i)
				}
			}
		}
	}
}

func TestAugmentIsSeedDeterministic(t *testing.T) {
	img := gradientImage(300, 300)

	a, err := Augment(img, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Augment failed: %v", err)
	}
	b, err := Augment(img, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Augment failed: %v", err)
	}

	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatal("Augment with the same seed should be reproducible")
		}
	}
}

func TestFlips(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})

	fh := flipHorizontal(src)
	if r, _, _, _ := fh.At(3, 0).RGBA(); r>>8 != 255 {
		t.Error("Horizontal flip should move (0,0) to (3,0)")
	}

	fv := flipVertical(src)
	if r, _, _, _ := fv.At(0, 3).RGBA(); r>>8 != 255 {
		t.Error("Vertical flip should move (0,0) to (0,3)")
	}
}

func TestDecode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flower.jpg")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := jpeg.Encode(f, gradientImage(80, 60), nil); err != nil {
		t.Fatalf("Failed to encode JPEG: %v", err)
	}
	f.Close()

	img, err := Decode(path)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Bounds().Dx() != 80 || img.Bounds().Dy() != 60 {
		t.Errorf("Unexpected decoded bounds: %v", img.Bounds())
	}

	if _, err := Decode(filepath.Join(dir, "missing.jpg")); err == nil {
		t.Error("Expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.jpg")
	os.WriteFile(bad, []byte("not an image"), 0644)
	if _, err := Decode(bad); err == nil {
		t.Error("Expected error for malformed image")
	}
}
