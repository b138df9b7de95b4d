package ocr

import (
	"errors"
	"fmt"
)

// RawExtraction is the result of one text extraction attempt. It is
// ephemeral: only the reading derived from it is persisted.
type RawExtraction struct {
	Text               string
	Confidence         float64 // [0,1]
	Backend            string
	DurationMs         int64
	Attempts           int
	PreprocessingSteps []string
	Quality            QualityMetrics
}

// QualityMetrics describes the capture that produced an extraction,
// computed during preprocessing for diagnostics and tuning.
type QualityMetrics struct {
	Brightness float64 `json:"brightness"` // mean luminance [0,255]
	Contrast   float64 `json:"contrast"`   // luminance std deviation
	Sharpness  float64 `json:"sharpness"`  // mean gradient magnitude
	Noise      float64 `json:"noise"`      // mean local deviation
}

// ExtractionErrorKind partitions extraction failures so callers can
// decide between fallback, retry, and giving up for the cycle.
type ExtractionErrorKind string

const (
	ErrKindTimeout            ExtractionErrorKind = "timeout"
	ErrKindBackendUnavailable ExtractionErrorKind = "backend_unavailable"
	ErrKindInvalidImage       ExtractionErrorKind = "invalid_image"
)

// ExtractionError is returned when a backend (or the whole chain) fails
// to produce text from an image.
type ExtractionError struct {
	Kind    ExtractionErrorKind
	Backend string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed (%s, backend=%s): %v", e.Kind, e.Backend, e.Err)
	}
	return fmt.Sprintf("extraction failed (%s, backend=%s)", e.Kind, e.Backend)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// NewExtractionError builds a typed extraction error.
func NewExtractionError(kind ExtractionErrorKind, backend string, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Backend: backend, Err: err}
}

// AsExtractionError unwraps err into an *ExtractionError if possible.
func AsExtractionError(err error) (*ExtractionError, bool) {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
