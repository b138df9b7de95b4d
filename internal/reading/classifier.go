package reading

import (
	"strconv"
	"strings"
	"time"

	"github.com/davebirr/WellMonitor-sub002/internal/ocr"
)

// ClassifierConfig holds the thresholds and keyword sets used to turn
// raw display text into a PumpReading.
type ClassifierConfig struct {
	OffCurrentThreshold  float64
	IdleCurrentThreshold float64
	NormalCurrentMin     float64
	NormalCurrentMax     float64
	MaxValidCurrent      float64
	DryKeywords          []string
	RapidCycleKeywords   []string
	CaseSensitive        bool
	MinimumConfidence    float64
}

// Classifier turns raw extractions into typed pump readings. It is a
// pure value type: Classify performs no I/O and keeps no state.
type Classifier struct {
	config ClassifierConfig
}

// NewClassifier creates a classifier with the given configuration.
func NewClassifier(config ClassifierConfig) *Classifier {
	return &Classifier{config: config}
}

// Classify converts an extraction into a PumpReading.
//
// Keyword checks run before numeric parsing, and Dry before RapidCycle:
// a dry condition is safety-critical and must not be masked by a cycling
// keyword appearing in the same text. Readings below the minimum
// confidence, unparseable text, and physically implausible values are
// all still returned (for audit storage) but marked invalid so they
// never feed safety evaluation.
func (c *Classifier) Classify(extraction ocr.RawExtraction, now time.Time) PumpReading {
	r := PumpReading{
		Timestamp:  now.UTC(),
		RawText:    extraction.Text,
		Confidence: extraction.Confidence,
		Status:     StatusUnknown,
		IsValid:    false,
	}

	text := strings.TrimSpace(extraction.Text)
	if text == "" {
		return r
	}

	confident := extraction.Confidence >= c.config.MinimumConfidence

	if c.matchesAny(text, c.config.DryKeywords) {
		r.Status = StatusDry
		r.IsValid = confident
		return r
	}

	if c.matchesAny(text, c.config.RapidCycleKeywords) {
		r.Status = StatusRapidCycle
		r.IsValid = confident
		return r
	}

	amps, ok := parseLeadingNumber(text)
	if !ok {
		// Unparseable text stays Unknown and never escalates to action.
		return r
	}

	if amps > c.config.MaxValidCurrent || amps < 0 {
		// A physically implausible value is never trusted.
		return r
	}

	switch {
	case amps < c.config.OffCurrentThreshold:
		r.Status = StatusOff
	case amps < c.config.IdleCurrentThreshold:
		r.Status = StatusIdle
	default:
		r.Status = StatusNormal
	}
	r.CurrentAmps = &amps
	r.IsValid = confident

	return r
}

// matchesAny reports whether any keyword occurs in the text, honoring
// the configured case sensitivity.
func (c *Classifier) matchesAny(text string, keywords []string) bool {
	subject := text
	if !c.config.CaseSensitive {
		subject = strings.ToLower(subject)
	}
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if !c.config.CaseSensitive {
			kw = strings.ToLower(kw)
		}
		if strings.Contains(subject, kw) {
			return true
		}
	}
	return false
}

// parseLeadingNumber parses the leading numeric token of the text,
// tolerating trailing units such as "4.2 A".
func parseLeadingNumber(text string) (float64, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, false
	}

	token := fields[0]
	// Strip a trailing unit glued to the number ("4.2A").
	end := len(token)
	for end > 0 {
		ch := token[end-1]
		if (ch >= '0' && ch <= '9') || ch == '.' {
			break
		}
		end--
	}
	token = token[:end]
	if token == "" {
		return 0, false
	}

	value, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
