package reading

import "time"

// PumpStatus is the classified state of the pump for a single reading.
type PumpStatus string

const (
	StatusOff        PumpStatus = "Off"
	StatusIdle       PumpStatus = "Idle"
	StatusNormal     PumpStatus = "Normal"
	StatusDry        PumpStatus = "Dry"
	StatusRapidCycle PumpStatus = "RapidCycle"
	StatusUnknown    PumpStatus = "Unknown"
)

// PumpReading is one classified observation of the pump display.
// CurrentAmps is non-nil only for the numeric statuses (Off, Idle,
// Normal); the keyword statuses (Dry, RapidCycle) carry no value.
type PumpReading struct {
	ID          int64      `json:"id"`
	Timestamp   time.Time  `json:"timestamp_utc"`
	Status      PumpStatus `json:"status"`
	CurrentAmps *float64   `json:"current_amps,omitempty"`
	RawText     string     `json:"raw_text"`
	Confidence  float64    `json:"confidence"`
	// IsValid is false for readings that are stored for audit only and
	// must not feed safety evaluation (low confidence, unparseable or
	// physically implausible text).
	IsValid bool `json:"is_valid"`
	Synced  bool `json:"synced"`
}

// HasCurrent reports whether the reading carries a numeric current value.
func (r *PumpReading) HasCurrent() bool {
	return r.CurrentAmps != nil
}
