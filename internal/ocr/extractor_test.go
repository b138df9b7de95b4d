package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"testing"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

type fakeBackend struct {
	name     string
	text     string
	conf     float64
	errs     []error // consumed one per call; nil entry means success
	calls    int
	lastCtx  context.Context
	lastSeen []byte
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) TryExtract(ctx context.Context, imageBytes []byte) (string, float64, error) {
	b.calls++
	b.lastCtx = ctx
	b.lastSeen = imageBytes
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return "", 0, err
		}
	}
	return b.text, b.conf, nil
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 256)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func newTestExtractor(t *testing.T, backends ...Backend) *Extractor {
	t.Helper()
	cfg := config.OCRConfig{
		TimeoutSeconds:   5,
		RetryMaxAttempts: 2,
		RetryBackoffMs:   1,
	}
	e, err := NewExtractor(cfg, backends, testLogger(t))
	if err != nil {
		t.Fatalf("failed to create extractor: %v", err)
	}
	return e
}

func TestExtractUsesFirstBackend(t *testing.T) {
	primary := &fakeBackend{name: "primary", text: "4.2", conf: 0.9}
	secondary := &fakeBackend{name: "secondary", text: "9.9", conf: 0.9}
	e := newTestExtractor(t, primary, secondary)

	result, err := e.Extract(context.Background(), testJPEG(t))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if result.Text != "4.2" || result.Backend != "primary" {
		t.Fatalf("expected primary result, got %q from %q", result.Text, result.Backend)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", result.Attempts)
	}
	if secondary.calls != 0 {
		t.Fatal("secondary backend must not run when primary succeeds")
	}
	if result.Quality.Brightness == 0 {
		t.Fatal("expected quality metrics on the result")
	}
}

func TestExtractLowConfidenceDoesNotFallBack(t *testing.T) {
	// Fallback is for hard failure only. A low-confidence answer goes
	// downstream as-is and the classifier decides what to do with it.
	primary := &fakeBackend{name: "primary", text: "4", conf: 0.1}
	secondary := &fakeBackend{name: "secondary", text: "4.2", conf: 0.99}
	e := newTestExtractor(t, primary, secondary)

	result, err := e.Extract(context.Background(), testJPEG(t))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if result.Backend != "primary" || result.Confidence != 0.1 {
		t.Fatalf("low-confidence primary result must be kept, got %+v", result)
	}
	if secondary.calls != 0 {
		t.Fatal("secondary backend must not run on low confidence")
	}
}

func TestExtractFallsBackOnHardFailure(t *testing.T) {
	boom := errors.New("engine crashed")
	primary := &fakeBackend{name: "primary", errs: []error{boom, boom}}
	secondary := &fakeBackend{name: "secondary", text: "4.2", conf: 0.8}
	e := newTestExtractor(t, primary, secondary)

	result, err := e.Extract(context.Background(), testJPEG(t))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if result.Backend != "secondary" {
		t.Fatalf("expected fallback to secondary, got %q", result.Backend)
	}
	if primary.calls != 2 {
		t.Fatalf("expected primary retried twice, got %d calls", primary.calls)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected 3 total attempts, got %d", result.Attempts)
	}
}

func TestExtractRetriesTransientFailure(t *testing.T) {
	backend := &fakeBackend{name: "flaky", text: "4.2", conf: 0.9, errs: []error{errors.New("transient")}}
	e := newTestExtractor(t, backend)

	result, err := e.Extract(context.Background(), testJPEG(t))
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if backend.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", backend.calls)
	}
	if result.Attempts != 2 {
		t.Fatalf("expected 2 attempts recorded, got %d", result.Attempts)
	}
}

func TestExtractAllBackendsFailed(t *testing.T) {
	boom := errors.New("engine crashed")
	primary := &fakeBackend{name: "primary", errs: []error{boom, boom}}
	secondary := &fakeBackend{name: "secondary", errs: []error{boom, boom}}
	e := newTestExtractor(t, primary, secondary)

	_, err := e.Extract(context.Background(), testJPEG(t))
	if err == nil {
		t.Fatal("expected an error")
	}
	ee, ok := AsExtractionError(err)
	if !ok {
		t.Fatalf("expected an extraction error, got %T", err)
	}
	if ee.Kind != ErrKindBackendUnavailable {
		t.Fatalf("expected backend_unavailable, got %s", ee.Kind)
	}
}

func TestExtractTimeoutReportedAsTimeout(t *testing.T) {
	backend := &fakeBackend{name: "slow", errs: []error{context.DeadlineExceeded}}
	e := newTestExtractor(t, backend)

	_, err := e.Extract(context.Background(), testJPEG(t))
	if err == nil {
		t.Fatal("expected an error")
	}
	ee, ok := AsExtractionError(err)
	if !ok {
		t.Fatalf("expected an extraction error, got %T", err)
	}
	if ee.Kind != ErrKindTimeout {
		t.Fatalf("expected timeout kind, got %s", ee.Kind)
	}
	if backend.calls != 1 {
		t.Fatalf("a timeout must not be retried, got %d calls", backend.calls)
	}
}

func TestExtractInvalidImage(t *testing.T) {
	backend := &fakeBackend{name: "primary", text: "4.2", conf: 0.9}
	e := newTestExtractor(t, backend)

	_, err := e.Extract(context.Background(), []byte("not a jpeg"))
	if err == nil {
		t.Fatal("expected an error")
	}
	ee, ok := AsExtractionError(err)
	if !ok || ee.Kind != ErrKindInvalidImage {
		t.Fatalf("expected invalid_image error, got %v", err)
	}
	if backend.calls != 0 {
		t.Fatal("no backend should run on an undecodable image")
	}
}

func TestNewExtractorRequiresBackends(t *testing.T) {
	if _, err := NewExtractor(config.OCRConfig{}, nil, testLogger(t)); err == nil {
		t.Fatal("expected an error with no backends")
	}
}
