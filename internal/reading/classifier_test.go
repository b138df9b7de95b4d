package reading

import (
	"testing"
	"time"

	"github.com/davebirr/WellMonitor-sub002/internal/ocr"
)

func testConfig() ClassifierConfig {
	return ClassifierConfig{
		OffCurrentThreshold:  0.1,
		IdleCurrentThreshold: 0.5,
		NormalCurrentMin:     3.0,
		NormalCurrentMax:     8.0,
		MaxValidCurrent:      25.0,
		DryKeywords:          []string{"dry"},
		RapidCycleKeywords:   []string{"rcyc", "rapid"},
		CaseSensitive:        false,
		MinimumConfidence:    0.7,
	}
}

func classify(t *testing.T, text string, confidence float64) PumpReading {
	t.Helper()
	c := NewClassifier(testConfig())
	return c.Classify(ocr.RawExtraction{Text: text, Confidence: confidence}, time.Now())
}

func TestClassifyNormalCurrent(t *testing.T) {
	r := classify(t, "4.2", 0.9)

	if r.Status != StatusNormal {
		t.Fatalf("expected Normal, got %s", r.Status)
	}
	if r.CurrentAmps == nil || *r.CurrentAmps != 4.2 {
		t.Fatalf("expected current 4.2, got %v", r.CurrentAmps)
	}
	if !r.IsValid {
		t.Fatal("expected valid reading")
	}
}

func TestClassifyThresholds(t *testing.T) {
	tests := []struct {
		name string
		text string
		want PumpStatus
	}{
		{"off below threshold", "0.05", StatusOff},
		{"zero is off", "0.0", StatusOff},
		{"idle below idle threshold", "0.3", StatusIdle},
		{"normal at idle threshold", "0.5", StatusNormal},
		{"normal mid range", "5.5", StatusNormal},
		{"normal above nominal range", "10.0", StatusNormal},
		{"normal at max valid", "25.0", StatusNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := classify(t, tt.text, 0.9)
			if r.Status != tt.want {
				t.Fatalf("text %q: expected %s, got %s", tt.text, tt.want, r.Status)
			}
			if r.CurrentAmps == nil {
				t.Fatalf("text %q: expected a current value", tt.text)
			}
		})
	}
}

func TestClassifyImplausibleCurrentIsUnknown(t *testing.T) {
	// A value above max_valid_current is never trusted, and never Normal.
	r := classify(t, "30.5", 0.95)

	if r.Status != StatusUnknown {
		t.Fatalf("expected Unknown, got %s", r.Status)
	}
	if r.CurrentAmps != nil {
		t.Fatalf("expected nil current, got %v", *r.CurrentAmps)
	}
	if r.IsValid {
		t.Fatal("implausible reading must not be valid")
	}
}

func TestClassifyNegativeCurrentIsUnknown(t *testing.T) {
	r := classify(t, "-1.0", 0.95)

	if r.Status != StatusUnknown {
		t.Fatalf("expected Unknown, got %s", r.Status)
	}
}

func TestClassifyDryKeyword(t *testing.T) {
	for _, text := range []string{"Dry", "dry", "DRY well"} {
		r := classify(t, text, 0.9)
		if r.Status != StatusDry {
			t.Fatalf("text %q: expected Dry, got %s", text, r.Status)
		}
		if r.CurrentAmps != nil {
			t.Fatalf("text %q: keyword status must not carry a current", text)
		}
	}
}

func TestClassifyRapidCycleKeyword(t *testing.T) {
	r := classify(t, "rcyc", 0.9)

	if r.Status != StatusRapidCycle {
		t.Fatalf("expected RapidCycle, got %s", r.Status)
	}
	if r.CurrentAmps != nil {
		t.Fatal("keyword status must not carry a current")
	}
}

func TestClassifyDryCheckedBeforeRapidCycle(t *testing.T) {
	// A dry condition is safety-critical and must not be masked by a
	// cycling keyword in the same text.
	r := classify(t, "dry rcyc", 0.9)

	if r.Status != StatusDry {
		t.Fatalf("expected Dry to win, got %s", r.Status)
	}
}

func TestClassifyCaseSensitiveKeywords(t *testing.T) {
	cfg := testConfig()
	cfg.CaseSensitive = true
	c := NewClassifier(cfg)

	r := c.Classify(ocr.RawExtraction{Text: "DRY", Confidence: 0.9}, time.Now())
	if r.Status == StatusDry {
		t.Fatal("case-sensitive match should not accept DRY for keyword dry")
	}

	r = c.Classify(ocr.RawExtraction{Text: "dry", Confidence: 0.9}, time.Now())
	if r.Status != StatusDry {
		t.Fatalf("expected Dry, got %s", r.Status)
	}
}

func TestClassifyUnparseableTextIsUnknown(t *testing.T) {
	for _, text := range []string{"", "   ", "??", "error"} {
		r := classify(t, text, 0.9)
		if r.Status != StatusUnknown {
			t.Fatalf("text %q: expected Unknown, got %s", text, r.Status)
		}
		if r.IsValid {
			t.Fatalf("text %q: unparseable reading must not be valid", text)
		}
	}
}

func TestClassifyLowConfidenceStoredButInvalid(t *testing.T) {
	// Confidence 0.4 with minimum 0.7: the reading keeps its parsed
	// status and value for audit but is excluded from safety action.
	r := classify(t, "4.2", 0.4)

	if r.Status != StatusNormal {
		t.Fatalf("expected Normal, got %s", r.Status)
	}
	if r.CurrentAmps == nil || *r.CurrentAmps != 4.2 {
		t.Fatalf("expected current 4.2, got %v", r.CurrentAmps)
	}
	if r.IsValid {
		t.Fatal("low-confidence reading must not be valid")
	}
}

func TestClassifyTrailingUnit(t *testing.T) {
	for _, text := range []string{"4.2 A", "4.2A", "4.2 amps"} {
		r := classify(t, text, 0.9)
		if r.Status != StatusNormal {
			t.Fatalf("text %q: expected Normal, got %s", text, r.Status)
		}
		if r.CurrentAmps == nil || *r.CurrentAmps != 4.2 {
			t.Fatalf("text %q: expected current 4.2, got %v", text, r.CurrentAmps)
		}
	}
}

func TestClassifyRawTextAndConfidencePreserved(t *testing.T) {
	r := classify(t, " 4.2 ", 0.81)

	if r.RawText != " 4.2 " {
		t.Fatalf("raw text must be preserved verbatim, got %q", r.RawText)
	}
	if r.Confidence != 0.81 {
		t.Fatalf("expected confidence 0.81, got %f", r.Confidence)
	}
}
