package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
)

// Preprocessor applies the configured image pipeline before a backend
// sees the capture. Steps run in a fixed order; each is independently
// toggleable and the applied step names are recorded for diagnostics.
type Preprocessor struct {
	config config.PreprocessConfig
}

// NewPreprocessor creates a preprocessor with the given step toggles.
func NewPreprocessor(cfg config.PreprocessConfig) *Preprocessor {
	return &Preprocessor{config: cfg}
}

// Run decodes the JPEG, applies the enabled steps, and re-encodes.
// It returns the processed bytes, the names of the steps applied, and
// quality metrics computed on the decoded image.
func (p *Preprocessor) Run(imageBytes []byte) ([]byte, []string, QualityMetrics, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, nil, QualityMetrics{}, fmt.Errorf("failed to decode image: %w", err)
	}

	gray := toGray(img)
	metrics := computeQuality(gray)

	var steps []string
	if p.config.Grayscale {
		steps = append(steps, "grayscale")
	}
	if p.config.Contrast {
		gray = adjustContrast(gray, p.config.ContrastFactor)
		steps = append(steps, "contrast")
	}
	if p.config.NoiseReduction {
		gray = boxBlur(gray)
		steps = append(steps, "noise_reduction")
	}
	if p.config.Scale && p.config.ScaleFactor > 0 && p.config.ScaleFactor != 1.0 {
		gray = scale(gray, p.config.ScaleFactor)
		steps = append(steps, "scale")
	}
	if p.config.Threshold {
		gray = threshold(gray, p.config.ThresholdLevel)
		steps = append(steps, "threshold")
	}

	var out image.Image = gray
	if !p.config.Grayscale && len(steps) == 0 {
		// Nothing enabled: pass the original bytes through untouched so
		// a disabled pipeline costs no re-encode.
		return imageBytes, nil, metrics, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 95}); err != nil {
		return nil, nil, metrics, fmt.Errorf("failed to encode processed image: %w", err)
	}
	return buf.Bytes(), steps, metrics, nil
}

// toGray converts any image to 8-bit grayscale.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)
	return gray
}

// adjustContrast stretches pixel values around the midpoint by factor.
func adjustContrast(src *image.Gray, factor float64) *image.Gray {
	if factor <= 0 {
		return src
	}
	b := src.Bounds()
	dst := image.NewGray(b)
	for i, v := range src.Pix {
		adjusted := (float64(v)-128)*factor + 128
		dst.Pix[i] = clampByte(adjusted)
	}
	return dst
}

// boxBlur applies a 3x3 mean filter, a cheap noise reduction suited to
// the small display crops this agent works on.
func boxBlur(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum, count int
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					sum += int(src.GrayAt(b.Min.X+nx, b.Min.Y+ny).Y)
					count++
				}
			}
			dst.SetGray(b.Min.X+x, b.Min.Y+y, color.Gray{Y: uint8(sum / count)})
		}
	}
	return dst
}

// scale resizes the image by factor using bilinear interpolation.
func scale(src *image.Gray, factor float64) *image.Gray {
	b := src.Bounds()
	w := int(float64(b.Dx()) * factor)
	h := int(float64(b.Dy()) * factor)
	if w < 1 || h < 1 {
		return src
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// threshold binarizes the image at the given level.
func threshold(src *image.Gray, level uint8) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for i, v := range src.Pix {
		if v >= level {
			dst.Pix[i] = 255
		} else {
			dst.Pix[i] = 0
		}
	}
	return dst
}

// computeQuality derives capture quality metrics from the grayscale
// image: mean luminance, luminance spread, mean gradient magnitude, and
// mean local deviation as a noise proxy.
func computeQuality(img *image.Gray) QualityMetrics {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	n := float64(w * h)
	if n == 0 {
		return QualityMetrics{}
	}

	var sum float64
	for _, v := range img.Pix {
		sum += float64(v)
	}
	mean := sum / n

	var variance float64
	for _, v := range img.Pix {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= n

	var gradSum, localDev float64
	var gradCount, devCount int
	for y := 0; y < h-1; y++ {
		for x := 0; x < w-1; x++ {
			v := float64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			gx := float64(img.GrayAt(b.Min.X+x+1, b.Min.Y+y).Y) - v
			gy := float64(img.GrayAt(b.Min.X+x, b.Min.Y+y+1).Y) - v
			gradSum += math.Sqrt(gx*gx + gy*gy)
			gradCount++
			localDev += (math.Abs(gx) + math.Abs(gy)) / 2
			devCount++
		}
	}

	m := QualityMetrics{
		Brightness: mean,
		Contrast:   math.Sqrt(variance),
	}
	if gradCount > 0 {
		m.Sharpness = gradSum / float64(gradCount)
	}
	if devCount > 0 {
		m.Noise = localDev / float64(devCount)
	}
	return m
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
