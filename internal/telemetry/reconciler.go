package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/internal/reading"
	"github.com/davebirr/WellMonitor-sub002/internal/storage/sqlite"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// Uploader sends one batch and returns the acknowledgment. A nil
// response acknowledges everything in the batch.
type Uploader interface {
	Upload(ctx context.Context, batch *BatchRequest) (*BatchResponse, error)
}

// ReadingQueue is the slice of the durable store the reconciler drains.
type ReadingQueue interface {
	GetUnsynced(limit int) ([]*reading.PumpReading, error)
	MarkSynced(ids []int64) error
}

// ActionQueue is the relay-action side of the durable store.
type ActionQueue interface {
	GetUnsynced(limit int) ([]*sqlite.RelayActionRecord, error)
	MarkSynced(ids []int64) error
}

// Reconciler periodically drains unsynced rows from the durable store
// and uploads them to the cloud. Rows are marked synced only on a
// positive acknowledgment, so delivery is at-least-once and a crash or
// outage can only ever cause duplicates, never loss.
type Reconciler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	readings ReadingQueue
	actions  ActionQueue
	uploader Uploader
	logger   *logger.Logger

	deviceID  string
	interval  time.Duration
	batchSize int

	mu           sync.Mutex
	lastSyncTime time.Time
	wg           sync.WaitGroup
}

// NewReconciler creates a sync reconciler.
func NewReconciler(
	ctx context.Context,
	cfg config.TelemetryConfig,
	readings ReadingQueue,
	actions ActionQueue,
	uploader Uploader,
	log *logger.Logger,
) *Reconciler {
	recCtx, recCancel := context.WithCancel(ctx)
	return &Reconciler{
		ctx:       recCtx,
		cancel:    recCancel,
		readings:  readings,
		actions:   actions,
		uploader:  uploader,
		logger:    log.Named("sync-reconciler"),
		deviceID:  cfg.DeviceID,
		interval:  time.Duration(cfg.IntervalSeconds) * time.Second,
		batchSize: cfg.BatchSize,
	}
}

// Start starts the reconciliation loop.
func (r *Reconciler) Start() error {
	r.logger.Info("Starting sync reconciler",
		logger.Duration("interval", r.interval),
		logger.Int("batch_size", r.batchSize))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				r.logger.Info("Sync reconciler stopped due to context cancellation")
				return
			case <-ticker.C:
				uploaded, failed, err := r.Reconcile()
				if err != nil {
					// Sync failures are always recoverable; the rows
					// stay queued for the next interval.
					r.logger.Warn("Reconciliation failed",
						logger.Int("uploaded", uploaded),
						logger.Int("failed", failed),
						logger.Error(err))
				}
			}
		}
	}()
	return nil
}

// Stop stops the reconciliation loop.
func (r *Reconciler) Stop() error {
	r.logger.Info("Stopping sync reconciler")
	r.cancel()
	r.wg.Wait()
	return nil
}

// Reconcile drains one batch of unsynced rows. It returns how many rows
// the cloud acknowledged and how many were sent but not acknowledged.
func (r *Reconciler) Reconcile() (uploaded int, failed int, err error) {
	unsyncedReadings, err := r.readings.GetUnsynced(r.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get unsynced readings: %w", err)
	}
	unsyncedActions, err := r.actions.GetUnsynced(r.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get unsynced relay actions: %w", err)
	}

	if len(unsyncedReadings) == 0 && len(unsyncedActions) == 0 {
		r.logger.Debug("Nothing to reconcile")
		return 0, 0, nil
	}

	batch := &BatchRequest{
		BatchID:  uuid.NewString(),
		DeviceID: r.deviceID,
	}
	for _, rec := range unsyncedReadings {
		batch.Readings = append(batch.Readings, ReadingMessage{
			ID:           rec.ID,
			DeviceID:     r.deviceID,
			TimestampUTC: rec.Timestamp,
			CurrentAmps:  rec.CurrentAmps,
			Status:       string(rec.Status),
			Confidence:   rec.Confidence,
		})
	}
	for _, act := range unsyncedActions {
		batch.RelayActions = append(batch.RelayActions, ActionMessage{
			ID:           act.ID,
			DeviceID:     r.deviceID,
			TimestampUTC: act.Timestamp,
			Action:       act.Action,
			Reason:       act.Reason,
		})
	}

	total := len(batch.Readings) + len(batch.RelayActions)

	ack, err := r.uploader.Upload(r.ctx, batch)
	if err != nil {
		// Network failure: everything stays unsynced.
		return 0, total, fmt.Errorf("upload failed: %w", err)
	}

	ackedReadings, ackedActions := r.resolveAck(ack, unsyncedReadings, unsyncedActions)

	if err := r.readings.MarkSynced(ackedReadings); err != nil {
		return 0, total, fmt.Errorf("failed to mark readings synced: %w", err)
	}
	if err := r.actions.MarkSynced(ackedActions); err != nil {
		return len(ackedReadings), total - len(ackedReadings),
			fmt.Errorf("failed to mark relay actions synced: %w", err)
	}

	uploaded = len(ackedReadings) + len(ackedActions)
	failed = total - uploaded

	if uploaded > 0 {
		r.mu.Lock()
		r.lastSyncTime = time.Now().UTC()
		r.mu.Unlock()
	}

	if failed > 0 {
		// Partial acknowledgment: the rest goes out next interval.
		r.logger.Warn("Partial batch acknowledged",
			logger.String("batch_id", batch.BatchID),
			logger.Int("uploaded", uploaded),
			logger.Int("failed", failed))
	} else {
		r.logger.Info("Batch synced",
			logger.String("batch_id", batch.BatchID),
			logger.Int("uploaded", uploaded))
	}

	return uploaded, failed, nil
}

// resolveAck maps the acknowledgment onto row ids. A nil ack means the
// endpoint accepted the whole batch.
func (r *Reconciler) resolveAck(
	ack *BatchResponse,
	readings []*reading.PumpReading,
	actions []*sqlite.RelayActionRecord,
) ([]int64, []int64) {
	if ack == nil {
		readingIDs := make([]int64, 0, len(readings))
		for _, rec := range readings {
			readingIDs = append(readingIDs, rec.ID)
		}
		actionIDs := make([]int64, 0, len(actions))
		for _, act := range actions {
			actionIDs = append(actionIDs, act.ID)
		}
		return readingIDs, actionIDs
	}
	return ack.AcceptedReadingIDs, ack.AcceptedActionIDs
}

// LastSyncTime returns when the cloud last acknowledged rows, for
// health reporting. Zero means never.
func (r *Reconciler) LastSyncTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSyncTime
}
