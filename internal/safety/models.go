package safety

import (
	"time"

	"github.com/davebirr/WellMonitor-sub002/internal/storage/sqlite"
)

// AlertKind identifies the condition an alert reports.
type AlertKind string

const (
	AlertDry        AlertKind = "dry"
	AlertRapidCycle AlertKind = "rapid_cycle"
)

// Alert is raised when a debounced fault condition crosses its
// threshold. Alerts are edge-triggered: one per threshold crossing.
type Alert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp_utc"`
	Count     int       `json:"count"` // consecutive observations at firing time
}

// AlertSink receives raised alerts. The default sink just logs; an
// installation can fan alerts out to whatever notification path it has.
type AlertSink interface {
	Notify(alert Alert)
}

// ActionRecorder persists relay audit entries on the controller's
// behalf. Satisfied by sqlite.RelayActionStorage.
type ActionRecorder interface {
	Append(record *sqlite.RelayActionRecord) (int64, error)
}

// State is the controller's in-memory debounce and rate-limit state.
// It is never persisted directly; on restart it is rebuilt by replaying
// the recent reading and relay-action rows from the durable store.
type State struct {
	ConsecutiveDryCount        int       `json:"consecutive_dry_count"`
	ConsecutiveRapidCycleCount int       `json:"consecutive_rapid_cycle_count"`
	LastCycleTime              time.Time `json:"last_cycle_time"`
	CyclesToday                int       `json:"cycles_today"`
	DayBoundary                time.Time `json:"day_boundary"`

	// lastAttemptTime backs the minimum-interval gate. Unlike
	// LastCycleTime it advances on failed actuations too, so a failing
	// relay is not hammered every cycle.
	lastAttemptTime time.Time
	// dryAlertLatch holds the edge trigger: once a dry alert fires the
	// counter must reset and re-cross before another can fire.
	dryAlertLatch  bool
	rcycAlertLatch bool
	lastDryAlert   time.Time
	lastRcycAlert  time.Time
}
