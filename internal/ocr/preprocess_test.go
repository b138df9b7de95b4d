package ocr

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
)

func TestPreprocessDisabledIsPassthrough(t *testing.T) {
	src := testJPEG(t)
	p := NewPreprocessor(config.PreprocessConfig{})

	out, steps, quality, err := p.Run(src)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !bytes.Equal(out, src) {
		t.Fatal("disabled pipeline must return the original bytes")
	}
	if len(steps) != 0 {
		t.Fatalf("expected no steps, got %v", steps)
	}
	if quality.Brightness == 0 || quality.Contrast == 0 {
		t.Fatalf("quality metrics must still be computed, got %+v", quality)
	}
}

func TestPreprocessRecordsAppliedSteps(t *testing.T) {
	p := NewPreprocessor(config.PreprocessConfig{
		Grayscale:      true,
		Contrast:       true,
		ContrastFactor: 1.5,
		Threshold:      true,
		ThresholdLevel: 128,
	})

	out, steps, _, err := p.Run(testJPEG(t))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []string{"grayscale", "contrast", "threshold"}
	if len(steps) != len(want) {
		t.Fatalf("expected steps %v, got %v", want, steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("expected steps %v in order, got %v", want, steps)
		}
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("processed output must decode: %v", err)
	}
	if img.Bounds().Dx() != 16 {
		t.Fatalf("unexpected output width %d", img.Bounds().Dx())
	}
}

func TestPreprocessScaleResizesOutput(t *testing.T) {
	p := NewPreprocessor(config.PreprocessConfig{
		Grayscale:   true,
		Scale:       true,
		ScaleFactor: 2.0,
	})

	out, steps, _, err := p.Run(testJPEG(t))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	found := false
	for _, s := range steps {
		if s == "scale" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected scale step, got %v", steps)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("processed output must decode: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 32 {
		t.Fatalf("expected 32x32 output, got %v", img.Bounds())
	}
}

func TestThresholdBinarizes(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 1))
	src.Pix = []uint8{10, 127, 128, 250}

	dst := threshold(src, 128)
	want := []uint8{0, 0, 255, 255}
	for i, v := range dst.Pix {
		if v != want[i] {
			t.Fatalf("pixel %d: expected %d, got %d", i, want[i], v)
		}
	}
}

func TestAdjustContrastClamps(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 3, 1))
	src.Pix = []uint8{0, 128, 255}

	dst := adjustContrast(src, 2.0)
	if dst.Pix[0] != 0 {
		t.Fatalf("dark pixel must clamp to 0, got %d", dst.Pix[0])
	}
	if dst.Pix[1] != 128 {
		t.Fatalf("midpoint must stay put, got %d", dst.Pix[1])
	}
	if dst.Pix[2] != 255 {
		t.Fatalf("bright pixel must clamp to 255, got %d", dst.Pix[2])
	}
}
