package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davebirr/WellMonitor-sub002/internal/camera"
	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/internal/ocr"
	"github.com/davebirr/WellMonitor-sub002/internal/reading"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

type fakeSource struct {
	capture *camera.Capture
	err     error
	calls   int
}

func (s *fakeSource) Capture(ctx context.Context) (*camera.Capture, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.capture, nil
}

type fakeExtractor struct {
	result *ocr.RawExtraction
	err    error
	calls  int
}

func (e *fakeExtractor) Extract(ctx context.Context, imageBytes []byte) (*ocr.RawExtraction, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

type fakeAppender struct {
	readings []*reading.PumpReading
	err      error
}

func (a *fakeAppender) Append(r *reading.PumpReading) (int64, error) {
	if a.err != nil {
		return 0, a.err
	}
	copied := *r
	a.readings = append(a.readings, &copied)
	return int64(len(a.readings)), nil
}

type fakeEvaluator struct {
	evaluated []*reading.PumpReading
	err       error
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, r *reading.PumpReading) error {
	if e.err != nil {
		return e.err
	}
	copied := *r
	e.evaluated = append(e.evaluated, &copied)
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

type loopFixture struct {
	loop      *Loop
	cfg       *config.Config
	source    *fakeSource
	extractor *fakeExtractor
	store     *fakeAppender
	evaluator *fakeEvaluator
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	cfg := config.Default()
	f := &loopFixture{
		cfg: cfg,
		source: &fakeSource{capture: &camera.Capture{
			JPEG:      []byte("jpeg-bytes"),
			Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		}},
		extractor: &fakeExtractor{result: &ocr.RawExtraction{
			Text:       "4.2",
			Confidence: 0.9,
			Backend:    "tesseract",
		}},
		store:     &fakeAppender{},
		evaluator: &fakeEvaluator{},
	}
	f.loop = NewLoop(config.NewStore(cfg), f.source, f.extractor, f.store, f.evaluator, testLogger(t))
	return f
}

func TestCyclePersistsAndEvaluatesReading(t *testing.T) {
	f := newLoopFixture(t)

	if err := f.loop.runCycle(context.Background(), f.cfg); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if len(f.store.readings) != 1 {
		t.Fatalf("expected 1 persisted reading, got %d", len(f.store.readings))
	}
	r := f.store.readings[0]
	if r.Status != reading.StatusNormal {
		t.Fatalf("expected Normal, got %s", r.Status)
	}
	if !r.Timestamp.Equal(f.source.capture.Timestamp) {
		t.Fatal("reading must carry the capture timestamp")
	}
	if len(f.evaluator.evaluated) != 1 {
		t.Fatalf("expected 1 evaluated reading, got %d", len(f.evaluator.evaluated))
	}
	if f.loop.LastCycleTime().IsZero() {
		t.Fatal("expected last cycle time to advance")
	}
}

func TestCaptureFailureSkipsCycle(t *testing.T) {
	f := newLoopFixture(t)
	f.source.err = errors.New("camera unreachable")

	if err := f.loop.runCycle(context.Background(), f.cfg); err != nil {
		t.Fatalf("capture failure must not be fatal: %v", err)
	}
	if f.extractor.calls != 0 {
		t.Fatal("no extraction should run without a capture")
	}
	if len(f.store.readings) != 0 {
		t.Fatal("no reading should be persisted for a skipped cycle")
	}
	if !f.loop.LastCycleTime().IsZero() {
		t.Fatal("a skipped cycle must not count as completed")
	}
}

func TestExtractionFailureYieldsUnknownReading(t *testing.T) {
	f := newLoopFixture(t)
	f.extractor.err = ocr.NewExtractionError(ocr.ErrKindBackendUnavailable, "", errors.New("all backends down"))

	if err := f.loop.runCycle(context.Background(), f.cfg); err != nil {
		t.Fatalf("extraction failure must not be fatal: %v", err)
	}
	if len(f.store.readings) != 1 {
		t.Fatalf("expected the outage recorded as a reading, got %d", len(f.store.readings))
	}
	r := f.store.readings[0]
	if r.Status != reading.StatusUnknown {
		t.Fatalf("expected Unknown, got %s", r.Status)
	}
	if r.IsValid {
		t.Fatal("an outage reading must not be valid")
	}
}

func TestPersistenceFailureIsFatal(t *testing.T) {
	f := newLoopFixture(t)
	f.store.err = errors.New("disk full")

	if err := f.loop.runCycle(context.Background(), f.cfg); err == nil {
		t.Fatal("a store write failure must abort the loop")
	}
}

func TestEvaluatorPersistenceFailureIsFatal(t *testing.T) {
	f := newLoopFixture(t)
	f.evaluator.err = errors.New("disk full")

	if err := f.loop.runCycle(context.Background(), f.cfg); err == nil {
		t.Fatal("a safety persistence failure must abort the loop")
	}
}

func TestDebugImageDump(t *testing.T) {
	f := newLoopFixture(t)
	path := filepath.Join(t.TempDir(), "captures", "last.jpg")
	f.cfg.Camera.DebugImagePath = path

	if err := f.loop.runCycle(context.Background(), f.cfg); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected a debug image at %s: %v", path, err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatal("debug image must contain the raw capture bytes")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newLoopFixture(t)
	f.cfg.Monitor.IntervalSeconds = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancellation must not be an error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

func TestClassifierConfigUsesSnapshotThresholds(t *testing.T) {
	cfg := config.Default()
	cfg.Classification.MaxValidCurrent = 10.0
	cfg.OCR.MinimumConfidence = 0.9

	cc := classifierConfig(cfg)
	if cc.MaxValidCurrent != 10.0 {
		t.Fatalf("expected max valid current 10.0, got %f", cc.MaxValidCurrent)
	}
	if cc.MinimumConfidence != 0.9 {
		t.Fatalf("expected minimum confidence 0.9, got %f", cc.MinimumConfidence)
	}
}
