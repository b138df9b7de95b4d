package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/internal/reading"
	"github.com/davebirr/WellMonitor-sub002/internal/relay"
	"github.com/davebirr/WellMonitor-sub002/internal/storage/sqlite"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// Config holds the controller's debounce counts and actuation limits.
type Config struct {
	DryCountThreshold         int
	RapidCycleCountThreshold  int
	Cooldown                  time.Duration
	EnableAutoActions         bool
	EnableDryConditionCycling bool
	MinimumCycleInterval      time.Duration
	MaxDailyCycles            int
	PowerCycleDelay           time.Duration
	ActuatorTimeout           time.Duration
	ReplayWindow              time.Duration
}

// ConfigFrom converts the raw config section into controller durations.
func ConfigFrom(c config.SafetyConfig) Config {
	return Config{
		DryCountThreshold:         c.DryCountThreshold,
		RapidCycleCountThreshold:  c.RapidCycleCountThreshold,
		Cooldown:                  time.Duration(c.CooldownMinutes) * time.Minute,
		EnableAutoActions:         c.EnableAutoActions,
		EnableDryConditionCycling: c.EnableDryConditionCycling,
		MinimumCycleInterval:      time.Duration(c.MinimumCycleIntervalMinutes) * time.Minute,
		MaxDailyCycles:            c.MaxDailyCycles,
		PowerCycleDelay:           time.Duration(c.PowerCycleDelaySeconds) * time.Second,
		ActuatorTimeout:           time.Duration(c.ActuatorTimeoutSeconds) * time.Second,
		ReplayWindow:              time.Duration(c.ReplayWindowMinutes) * time.Minute,
	}
}

// Controller consumes the stream of classified readings, maintains the
// debounce counters, and decides between raising an alert, ordering a
// power cycle, and suppressing action under the rate limits. It is
// driven synchronously from the monitor loop; only the relay call has
// its own watchdog timeout.
type Controller struct {
	config  Config
	relay   relay.Actuator
	actions ActionRecorder
	alerts  AlertSink
	logger  *logger.Logger

	mu    sync.Mutex
	state State

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

// NewController creates a safety controller.
func NewController(
	cfg Config,
	actuator relay.Actuator,
	actions ActionRecorder,
	alerts AlertSink,
	log *logger.Logger,
) *Controller {
	c := &Controller{
		config:  cfg,
		relay:   actuator,
		actions: actions,
		alerts:  alerts,
		logger:  log.Named("safety"),
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepCtx,
	}
	c.state.DayBoundary = dateOf(c.now())
	return c
}

// Evaluate processes one classified reading. Invalid readings (low
// confidence, unparseable, implausible) never touch the counters; they
// were stored for audit only. The returned error is non-nil only for
// persistence failures, which the caller treats as fatal.
func (c *Controller) Evaluate(ctx context.Context, r *reading.PumpReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.rollDayBoundary(now)

	if !r.IsValid {
		c.logger.Debug("Skipping invalid reading for safety evaluation",
			logger.String("status", string(r.Status)),
			logger.Float64("confidence", r.Confidence),
			logger.String("reason", "reading_invalid"))
		return nil
	}

	// Dry and rapid-cycle tracks are independent counters over the same
	// stream, not mutually exclusive states.
	if r.Status == reading.StatusDry {
		c.state.ConsecutiveDryCount++
	} else {
		c.state.ConsecutiveDryCount = 0
		c.state.dryAlertLatch = false
	}
	if r.Status == reading.StatusRapidCycle {
		c.state.ConsecutiveRapidCycleCount++
	} else {
		c.state.ConsecutiveRapidCycleCount = 0
		c.state.rcycAlertLatch = false
	}

	if c.state.ConsecutiveDryCount >= c.config.DryCountThreshold && !c.state.dryAlertLatch {
		c.state.dryAlertLatch = true
		c.raiseAlert(AlertDry, c.state.ConsecutiveDryCount, &c.state.lastDryAlert, now)

		if c.config.EnableDryConditionCycling {
			// Dry cycling shares the rapid-cycle rate limits; cycling
			// power into a dry well is gated separately because it is a
			// distinct safety decision from electrical rapid-cycling.
			if err := c.requestPowerCycle(ctx, "dry condition debounce threshold reached", now); err != nil {
				return err
			}
		}
	}

	if c.state.ConsecutiveRapidCycleCount >= c.config.RapidCycleCountThreshold && !c.state.rcycAlertLatch {
		c.state.rcycAlertLatch = true
		c.raiseAlert(AlertRapidCycle, c.state.ConsecutiveRapidCycleCount, &c.state.lastRcycAlert, now)

		if err := c.requestPowerCycle(ctx, "rapid cycle debounce threshold reached", now); err != nil {
			return err
		}
	}

	return nil
}

// raiseAlert fires an edge-triggered alert, honoring the cooldown
// window. A suppressed repeat is still logged with its reason code.
func (c *Controller) raiseAlert(kind AlertKind, count int, lastFired *time.Time, now time.Time) {
	if c.config.Cooldown > 0 && !lastFired.IsZero() && now.Sub(*lastFired) < c.config.Cooldown {
		c.logger.Warn("Alert suppressed",
			logger.String("kind", string(kind)),
			logger.String("reason", "cooldown"),
			logger.Int("count", count),
			logger.Time("last_fired", *lastFired))
		return
	}

	alert := Alert{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   fmt.Sprintf("%s condition confirmed after %d consecutive readings", kind, count),
		Timestamp: now,
		Count:     count,
	}
	*lastFired = now

	c.logger.Warn("Alert raised",
		logger.String("id", alert.ID),
		logger.String("kind", string(kind)),
		logger.Int("count", count))
	c.alerts.Notify(alert)
}

// requestPowerCycle actuates the relay if every gate passes: auto
// actions enabled, minimum interval since the last attempt elapsed, and
// the daily cap not reached. Suppressions are logged, never silent.
func (c *Controller) requestPowerCycle(ctx context.Context, reason string, now time.Time) error {
	if !c.config.EnableAutoActions {
		c.logger.Info("Power cycle suppressed",
			logger.String("reason", "auto_actions_disabled"),
			logger.String("trigger", reason))
		return nil
	}

	if !c.state.lastAttemptTime.IsZero() && now.Sub(c.state.lastAttemptTime) < c.config.MinimumCycleInterval {
		c.logger.Warn("Power cycle suppressed",
			logger.String("reason", "minimum_interval"),
			logger.String("trigger", reason),
			logger.Time("last_attempt", c.state.lastAttemptTime))
		return nil
	}

	if c.state.CyclesToday >= c.config.MaxDailyCycles {
		c.logger.Warn("Power cycle suppressed",
			logger.String("reason", "daily_cap"),
			logger.String("trigger", reason),
			logger.Int("cycles_today", c.state.CyclesToday),
			logger.Int("max_daily_cycles", c.config.MaxDailyCycles))
		return nil
	}

	// A failed attempt consumes the interval too, so a failing relay is
	// retried at the rate-limited cadence instead of every reading.
	c.state.lastAttemptTime = now

	if _, err := c.actions.Append(&sqlite.RelayActionRecord{
		Timestamp: now,
		Action:    sqlite.ActionCycleStart,
		Reason:    reason,
	}); err != nil {
		return fmt.Errorf("failed to log cycle start: %w", err)
	}

	c.logger.Warn("Power cycling pump",
		logger.String("trigger", reason),
		logger.Duration("hold", c.config.PowerCycleDelay))

	if err := c.setRelay(ctx, false); err != nil {
		// Hardware fault: reported, not fatal. The next qualifying
		// evaluation retries, still behind the rate limits.
		c.logger.Error("Relay open failed", logger.Error(err))
		return nil
	}

	c.sleep(ctx, c.config.PowerCycleDelay)

	if err := c.setRelay(ctx, true); err != nil {
		// The pump is left unpowered; keep trying to restore power
		// rather than walking away.
		c.logger.Error("Relay close failed, retrying once", logger.Error(err))
		if err := c.setRelay(ctx, true); err != nil {
			c.logger.Error("Relay close retry failed, pump may be unpowered", logger.Error(err))
			return nil
		}
	}

	end := c.now()
	if _, err := c.actions.Append(&sqlite.RelayActionRecord{
		Timestamp: end,
		Action:    sqlite.ActionCycleEnd,
		Reason:    reason,
	}); err != nil {
		return fmt.Errorf("failed to log cycle end: %w", err)
	}

	c.state.LastCycleTime = end
	c.state.CyclesToday++
	c.logger.Info("Power cycle complete",
		logger.Int("cycles_today", c.state.CyclesToday),
		logger.Time("completed_at", end))
	return nil
}

// setRelay wraps the actuator call in a watchdog timeout so a stuck
// relay cannot stall the monitoring cadence indefinitely.
func (c *Controller) setRelay(ctx context.Context, closed bool) error {
	callCtx := ctx
	if c.config.ActuatorTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.ActuatorTimeout)
		defer cancel()
	}
	return c.relay.SetState(callCtx, closed)
}

// Rebuild replays recent durable rows to reconstruct the in-memory
// state after a restart, so the store stays the single source of truth.
// Counters are rebuilt from the reading sequence; the rate-limit clock
// and daily count come from the relay action log.
func (c *Controller) Rebuild(readings []*reading.PumpReading, actions []*sqlite.RelayActionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.state = State{DayBoundary: dateOf(now)}

	for _, r := range readings {
		if !r.IsValid {
			continue
		}
		if r.Status == reading.StatusDry {
			c.state.ConsecutiveDryCount++
		} else {
			c.state.ConsecutiveDryCount = 0
		}
		if r.Status == reading.StatusRapidCycle {
			c.state.ConsecutiveRapidCycleCount++
		} else {
			c.state.ConsecutiveRapidCycleCount = 0
		}
	}

	// Latch conditions that were already above threshold before the
	// restart so an ongoing fault does not re-alert on the next reading.
	c.state.dryAlertLatch = c.config.DryCountThreshold > 0 &&
		c.state.ConsecutiveDryCount >= c.config.DryCountThreshold
	c.state.rcycAlertLatch = c.config.RapidCycleCountThreshold > 0 &&
		c.state.ConsecutiveRapidCycleCount >= c.config.RapidCycleCountThreshold

	for _, a := range actions {
		if a.Action != sqlite.ActionCycleStart {
			continue
		}
		if a.Timestamp.After(c.state.LastCycleTime) {
			c.state.LastCycleTime = a.Timestamp
			c.state.lastAttemptTime = a.Timestamp
		}
		if dateOf(a.Timestamp).Equal(c.state.DayBoundary) {
			c.state.CyclesToday++
		}
	}

	c.logger.Info("Safety state rebuilt from store",
		logger.Int("dry_count", c.state.ConsecutiveDryCount),
		logger.Int("rapid_cycle_count", c.state.ConsecutiveRapidCycleCount),
		logger.Int("cycles_today", c.state.CyclesToday),
		logger.Time("last_cycle", c.state.LastCycleTime))
}

// Snapshot returns a copy of the current state for status reporting.
// It waits out an in-progress power cycle rather than reporting a
// half-updated one.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// rollDayBoundary resets the daily cycle count when the UTC date rolls
// over. LastCycleTime is untouched; only the daily cap resets.
func (c *Controller) rollDayBoundary(now time.Time) {
	today := dateOf(now)
	if !today.Equal(c.state.DayBoundary) {
		if c.state.CyclesToday > 0 {
			c.logger.Info("Daily cycle count reset",
				logger.Int("previous_count", c.state.CyclesToday))
		}
		c.state.DayBoundary = today
		c.state.CyclesToday = 0
	}
}

func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// LogSink is the default alert sink: it writes alerts to the log only.
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a log-backed alert sink.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log.Named("alerts")}
}

// Notify implements AlertSink.
func (s *LogSink) Notify(alert Alert) {
	s.logger.Warn("ALERT",
		logger.String("id", alert.ID),
		logger.String("kind", string(alert.Kind)),
		logger.String("message", alert.Message),
		logger.Time("timestamp", alert.Timestamp))
}
