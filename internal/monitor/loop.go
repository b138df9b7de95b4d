package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davebirr/WellMonitor-sub002/internal/camera"
	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/internal/ocr"
	"github.com/davebirr/WellMonitor-sub002/internal/reading"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// Extractor produces text from an image.
type Extractor interface {
	Extract(ctx context.Context, imageBytes []byte) (*ocr.RawExtraction, error)
}

// ReadingAppender is the durable-store slice the loop writes through.
type ReadingAppender interface {
	Append(r *reading.PumpReading) (int64, error)
}

// Evaluator consumes classified readings for safety decisions.
type Evaluator interface {
	Evaluate(ctx context.Context, r *reading.PumpReading) error
}

// Loop runs the monitoring pipeline: capture, extract, classify,
// persist, evaluate. Cycles are strictly sequential; the next cycle
// starts at max(next scheduled tick, previous cycle end), so an overrun
// delays but never overlaps or queues cycles.
type Loop struct {
	configStore *config.Store
	source      camera.Source
	extractor   Extractor
	store       ReadingAppender
	evaluator   Evaluator
	logger      *logger.Logger

	mu            sync.Mutex
	lastCycleTime time.Time
}

// NewLoop creates a monitor loop.
func NewLoop(
	configStore *config.Store,
	source camera.Source,
	extractor Extractor,
	store ReadingAppender,
	evaluator Evaluator,
	log *logger.Logger,
) *Loop {
	return &Loop{
		configStore: configStore,
		source:      source,
		extractor:   extractor,
		store:       store,
		evaluator:   evaluator,
		logger:      log.Named("monitor-loop"),
	}
}

// Run blocks until ctx is canceled or a fatal error occurs. The only
// fatal error is a durable-store write failure: silently losing a
// reading is worse than a visible crash and restart.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Starting monitor loop",
		logger.Duration("interval", l.configStore.Get().MonitorInterval()))

	nextTick := time.Now()
	for {
		// Thresholds and cadence come from the current snapshot each
		// cycle so twin updates take effect without a restart.
		cfg := l.configStore.Get()
		interval := cfg.MonitorInterval()

		now := time.Now()
		if nextTick.Before(now) {
			// Previous cycle overran its slot: run from now, do not
			// queue the ticks we missed.
			nextTick = now
		}

		select {
		case <-ctx.Done():
			l.logger.Info("Monitor loop stopped due to context cancellation")
			return nil
		case <-time.After(time.Until(nextTick)):
		}
		nextTick = nextTick.Add(interval)

		if err := l.runCycle(ctx, cfg); err != nil {
			return err
		}

		if ctx.Err() != nil {
			l.logger.Info("Monitor loop stopped due to context cancellation")
			return nil
		}
	}
}

// runCycle executes one monitoring cycle under the per-cycle timeout.
func (l *Loop) runCycle(ctx context.Context, cfg *config.Config) error {
	cycleCtx := ctx
	if cfg.Monitor.CycleTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx,
			time.Duration(cfg.Monitor.CycleTimeoutSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()

	capture, err := l.source.Capture(cycleCtx)
	if err != nil {
		// Camera trouble skips the cycle; the next one runs on schedule.
		l.logger.Warn("Cycle abandoned: capture failed",
			logger.String("reason", "capture_failed"),
			logger.Error(err))
		return nil
	}

	if cfg.Camera.DebugImagePath != "" {
		if err := camera.DumpDebugImage(cfg.Camera.DebugImagePath, capture); err != nil {
			l.logger.Warn("Debug image dump failed", logger.Error(err))
		}
	}

	extraction, err := l.extractor.Extract(cycleCtx, capture.JPEG)
	if err != nil {
		// Every backend failed: the cycle still yields an Unknown
		// reading so the outage is visible in the record.
		l.logger.Warn("Extraction failed, recording Unknown reading",
			logger.String("reason", extractionReason(err)),
			logger.Error(err))
		extraction = &ocr.RawExtraction{}
	}

	classifier := reading.NewClassifier(classifierConfig(cfg))
	r := classifier.Classify(*extraction, capture.Timestamp)

	if _, err := l.store.Append(&r); err != nil {
		// Fatal by design: crash-and-restart beats silent data loss.
		return fmt.Errorf("persistence failure, aborting: %w", err)
	}

	if err := l.evaluator.Evaluate(cycleCtx, &r); err != nil {
		return fmt.Errorf("persistence failure during safety evaluation, aborting: %w", err)
	}

	l.mu.Lock()
	l.lastCycleTime = time.Now().UTC()
	l.mu.Unlock()

	l.logger.Info("Cycle complete",
		logger.String("status", string(r.Status)),
		logger.String("raw_text", r.RawText),
		logger.Float64("confidence", r.Confidence),
		logger.Bool("is_valid", r.IsValid),
		logger.String("backend", extraction.Backend),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// LastCycleTime returns the end of the last successful cycle, for
// health reporting. Zero means no cycle has completed yet.
func (l *Loop) LastCycleTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCycleTime
}

// classifierConfig derives the pure classifier's config from the
// current snapshot.
func classifierConfig(cfg *config.Config) reading.ClassifierConfig {
	return reading.ClassifierConfig{
		OffCurrentThreshold:  cfg.Classification.OffCurrentThreshold,
		IdleCurrentThreshold: cfg.Classification.IdleCurrentThreshold,
		NormalCurrentMin:     cfg.Classification.NormalCurrentMin,
		NormalCurrentMax:     cfg.Classification.NormalCurrentMax,
		MaxValidCurrent:      cfg.Classification.MaxValidCurrent,
		DryKeywords:          cfg.Classification.DryKeywords,
		RapidCycleKeywords:   cfg.Classification.RapidCycleKeywords,
		CaseSensitive:        cfg.Classification.CaseSensitive,
		MinimumConfidence:    cfg.OCR.MinimumConfidence,
	}
}

func extractionReason(err error) string {
	if ee, ok := ocr.AsExtractionError(err); ok {
		return string(ee.Kind)
	}
	return "error"
}
