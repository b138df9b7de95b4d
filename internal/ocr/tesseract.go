package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// TesseractBackend runs the offline tesseract engine as an external
// process, feeding the image on stdin and parsing TSV output for word
// confidences.
type TesseractBackend struct {
	binaryPath string
	language   string
	psm        int
	logger     *logger.Logger
}

// NewTesseractBackend creates the offline engine backend.
func NewTesseractBackend(cfg config.TesseractConfig, log *logger.Logger) *TesseractBackend {
	return &TesseractBackend{
		binaryPath: cfg.BinaryPath,
		language:   cfg.Language,
		psm:        cfg.PSM,
		logger:     log.Named("ocr-tesseract"),
	}
}

// Name implements Backend.
func (b *TesseractBackend) Name() string { return "tesseract" }

// TryExtract implements Backend.
func (b *TesseractBackend) TryExtract(ctx context.Context, imageBytes []byte) (string, float64, error) {
	args := []string{
		"stdin", "stdout",
		"-l", b.language,
		"--psm", strconv.Itoa(b.psm),
		"tsv",
	}

	cmd := exec.CommandContext(ctx, b.binaryPath, args...)
	cmd.Stdin = bytes.NewReader(imageBytes)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, fmt.Errorf("tesseract failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	text, confidence := parseTSV(stdout.String())
	b.logger.Debug("Tesseract output parsed",
		logger.String("text", text),
		logger.Float64("confidence", confidence))
	return text, confidence, nil
}

// parseTSV extracts recognized words and their mean confidence from
// tesseract TSV output. Word rows are level 5; confidence is column 11
// (0-100, -1 for non-word rows).
func parseTSV(output string) (string, float64) {
	var words []string
	var confSum float64
	var confCount int

	for i, line := range strings.Split(output, "\n") {
		if i == 0 {
			continue // header row
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 {
			continue
		}
		if cols[0] != "5" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		words = append(words, word)
		confSum += conf
		confCount++
	}

	if confCount == 0 {
		return "", 0
	}
	return strings.Join(words, " "), confSum / float64(confCount) / 100.0
}
