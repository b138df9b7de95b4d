package relay

import (
	"context"
	"fmt"
	"os"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// Actuator is the gateway to the physical relay that carries pump power.
// closed=true means the relay contact is closed and the pump is powered.
// Implementations must honor the context deadline; a stuck actuator must
// not hold the caller indefinitely.
type Actuator interface {
	SetState(ctx context.Context, closed bool) error
}

// NewActuator builds the configured actuator implementation.
func NewActuator(cfg config.RelayConfig, log *logger.Logger) (Actuator, error) {
	switch cfg.Driver {
	case "gpio":
		return NewGPIOActuator(cfg.GPIOPath, cfg.ActiveLow, log), nil
	case "noop":
		return NewNoopActuator(log), nil
	default:
		return nil, fmt.Errorf("unknown relay driver: %s", cfg.Driver)
	}
}

// GPIOActuator drives the relay through a sysfs GPIO value file.
type GPIOActuator struct {
	path      string
	activeLow bool
	logger    *logger.Logger
}

// NewGPIOActuator creates a sysfs-backed actuator.
func NewGPIOActuator(path string, activeLow bool, log *logger.Logger) *GPIOActuator {
	return &GPIOActuator{
		path:      path,
		activeLow: activeLow,
		logger:    log.Named("relay-gpio"),
	}
}

// SetState implements Actuator. The write itself is not interruptible,
// so the context is checked up front; sysfs writes complete in
// microseconds unless the hardware is gone entirely.
func (a *GPIOActuator) SetState(ctx context.Context, closed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	level := closed
	if a.activeLow {
		level = !closed
	}
	value := []byte("0")
	if level {
		value = []byte("1")
	}

	if err := os.WriteFile(a.path, value, 0o644); err != nil {
		return fmt.Errorf("failed to write relay state: %w", err)
	}

	a.logger.Info("Relay state set",
		logger.Bool("closed", closed),
		logger.String("path", a.path))
	return nil
}

// NoopActuator logs requested transitions without touching hardware.
// Used on bench installs and whenever auto actions are being tuned.
type NoopActuator struct {
	logger *logger.Logger
}

// NewNoopActuator creates a no-op actuator.
func NewNoopActuator(log *logger.Logger) *NoopActuator {
	return &NoopActuator{logger: log.Named("relay-noop")}
}

// SetState implements Actuator.
func (a *NoopActuator) SetState(ctx context.Context, closed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.logger.Info("Relay state change (noop driver)", logger.Bool("closed", closed))
	return nil
}
