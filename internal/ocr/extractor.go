package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// Backend is a single OCR engine. Implementations must honor the
// context deadline and return text plus a confidence in [0,1].
type Backend interface {
	Name() string
	TryExtract(ctx context.Context, imageBytes []byte) (text string, confidence float64, err error)
}

// Extractor runs the preprocessing pipeline and then tries backends in
// the configured priority order. A backend is only skipped over when it
// fails outright; a low-confidence result is a valid result and is
// passed downstream untouched, because silently re-reading a display
// that updates every cycle would change timing-sensitive readings.
type Extractor struct {
	backends     []Backend
	preprocessor *Preprocessor
	timeout      time.Duration
	maxAttempts  int
	backoff      time.Duration
	logger       *logger.Logger
}

// NewExtractor assembles an extractor from the configured backend order.
func NewExtractor(cfg config.OCRConfig, backends []Backend, log *logger.Logger) (*Extractor, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one OCR backend is required")
	}
	maxAttempts := cfg.RetryMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Extractor{
		backends:     backends,
		preprocessor: NewPreprocessor(cfg.Preprocessing),
		timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
		maxAttempts:  maxAttempts,
		backoff:      time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
		logger:       log.Named("ocr-extractor"),
	}, nil
}

// Extract produces a RawExtraction from JPEG bytes, or an
// ExtractionError when every backend has failed.
func (e *Extractor) Extract(ctx context.Context, imageBytes []byte) (*RawExtraction, error) {
	start := time.Now()

	processed, steps, quality, err := e.preprocessor.Run(imageBytes)
	if err != nil {
		return nil, NewExtractionError(ErrKindInvalidImage, "", err)
	}

	var lastErr error
	totalAttempts := 0

	for _, backend := range e.backends {
		text, confidence, attempts, err := e.tryBackend(ctx, backend, processed)
		totalAttempts += attempts
		if err == nil {
			result := &RawExtraction{
				Text:               text,
				Confidence:         confidence,
				Backend:            backend.Name(),
				DurationMs:         time.Since(start).Milliseconds(),
				Attempts:           totalAttempts,
				PreprocessingSteps: steps,
				Quality:            quality,
			}
			e.logger.Debug("Extraction succeeded",
				logger.String("backend", backend.Name()),
				logger.String("text", text),
				logger.Float64("confidence", confidence),
				logger.Int("attempts", totalAttempts),
				logger.Int64("duration_ms", result.DurationMs))
			return result, nil
		}

		lastErr = err
		e.logger.Warn("OCR backend failed, falling back to next",
			logger.String("backend", backend.Name()),
			logger.String("reason", failureReason(err)),
			logger.Error(err))

		if ctx.Err() != nil {
			break
		}
	}

	if ee, ok := AsExtractionError(lastErr); ok {
		return nil, ee
	}
	return nil, NewExtractionError(ErrKindBackendUnavailable, "", lastErr)
}

// tryBackend invokes one backend with a per-call timeout and up to
// maxAttempts attempts with linear backoff on transient failure.
func (e *Extractor) tryBackend(ctx context.Context, backend Backend, imageBytes []byte) (string, float64, int, error) {
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if e.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		}

		text, confidence, err := backend.TryExtract(callCtx, imageBytes)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return text, confidence, attempt, nil
		}

		if errors.Is(err, context.DeadlineExceeded) {
			// A timeout is reported as such, never silently swallowed.
			return "", 0, attempt, NewExtractionError(ErrKindTimeout, backend.Name(), err)
		}
		lastErr = err

		if attempt < e.maxAttempts {
			e.logger.Debug("Retrying OCR backend",
				logger.String("backend", backend.Name()),
				logger.Int("attempt", attempt),
				logger.Int("max_attempts", e.maxAttempts),
				logger.Error(err))
			select {
			case <-ctx.Done():
				return "", 0, attempt, NewExtractionError(ErrKindTimeout, backend.Name(), ctx.Err())
			case <-time.After(e.backoff * time.Duration(attempt)):
			}
		}
	}

	if ee, ok := AsExtractionError(lastErr); ok {
		return "", 0, e.maxAttempts, ee
	}
	return "", 0, e.maxAttempts, NewExtractionError(ErrKindBackendUnavailable, backend.Name(), lastErr)
}

func failureReason(err error) string {
	if ee, ok := AsExtractionError(err); ok {
		return string(ee.Kind)
	}
	return "error"
}
