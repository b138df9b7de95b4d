package sqlite

import (
	"context"
	"sync"
	"time"

	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// Janitor periodically deletes synced rows older than the retention
// window. Unsynced rows are never touched regardless of age, so
// retention can never race eventual delivery.
type Janitor struct {
	ctx       context.Context
	cancel    context.CancelFunc
	readings  *ReadingStorage
	actions   *RelayActionStorage
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
	wg        sync.WaitGroup
}

// NewJanitor creates a cleanup task over both row kinds.
func NewJanitor(
	ctx context.Context,
	readings *ReadingStorage,
	actions *RelayActionStorage,
	retention, interval time.Duration,
	log *logger.Logger,
) *Janitor {
	jCtx, jCancel := context.WithCancel(ctx)
	return &Janitor{
		ctx:       jCtx,
		cancel:    jCancel,
		readings:  readings,
		actions:   actions,
		retention: retention,
		interval:  interval,
		logger:    log.Named("storage-janitor"),
	}
}

// Start starts the cleanup loop.
func (j *Janitor) Start() error {
	j.logger.Info("Starting storage janitor",
		logger.Duration("retention", j.retention),
		logger.Duration("interval", j.interval))

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-j.ctx.Done():
				j.logger.Info("Storage janitor stopped due to context cancellation")
				return
			case <-ticker.C:
				j.runOnce()
			}
		}
	}()
	return nil
}

// Stop stops the cleanup loop.
func (j *Janitor) Stop() error {
	j.cancel()
	j.wg.Wait()
	return nil
}

func (j *Janitor) runOnce() {
	cutoff := time.Now().UTC().Add(-j.retention)

	deletedReadings, err := j.readings.Cleanup(cutoff)
	if err != nil {
		j.logger.Error("Reading cleanup failed", logger.Error(err))
	}
	deletedActions, err := j.actions.Cleanup(cutoff)
	if err != nil {
		j.logger.Error("Relay action cleanup failed", logger.Error(err))
	}

	if deletedReadings > 0 || deletedActions > 0 {
		j.logger.Info("Retention cleanup complete",
			logger.Int64("readings_deleted", deletedReadings),
			logger.Int64("actions_deleted", deletedActions),
			logger.Time("cutoff", cutoff))
	}
}
