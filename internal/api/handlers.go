package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/internal/reading"
	"github.com/davebirr/WellMonitor-sub002/internal/safety"
	"github.com/davebirr/WellMonitor-sub002/internal/storage/sqlite"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// HealthReporter exposes the liveness timestamps the agent publishes.
type HealthReporter interface {
	LastCycleTime() time.Time
}

// SyncReporter exposes the last successful cloud sync.
type SyncReporter interface {
	LastSyncTime() time.Time
}

// SafetyReporter exposes the controller's current state snapshot.
type SafetyReporter interface {
	Snapshot() safety.State
}

// Handler serves the status API.
type Handler struct {
	configStore *config.Store
	readings    *sqlite.ReadingStorage
	actions     *sqlite.RelayActionStorage
	health      HealthReporter
	sync        SyncReporter
	safety      SafetyReporter
	logger      *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	configStore *config.Store,
	readings *sqlite.ReadingStorage,
	actions *sqlite.RelayActionStorage,
	health HealthReporter,
	sync SyncReporter,
	safetyState SafetyReporter,
	log *logger.Logger,
) *Handler {
	return &Handler{
		configStore: configStore,
		readings:    readings,
		actions:     actions,
		health:      health,
		sync:        sync,
		safety:      safetyState,
		logger:      log.Named("api-handler"),
	}
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status        string     `json:"status"`
	LastCycleTime *time.Time `json:"last_cycle_time,omitempty"`
	LastSyncTime  *time.Time `json:"last_sync_time,omitempty"`
}

// GetHealth reports the last successful cycle and sync timestamps for
// external liveness checks.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if t := h.health.LastCycleTime(); !t.IsZero() {
		resp.LastCycleTime = &t
	}
	if t := h.sync.LastSyncTime(); !t.IsZero() {
		resp.LastSyncTime = &t
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetRecentReadings returns the most recent pump readings.
func (h *Handler) GetRecentReadings(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	records, err := h.readings.GetRecent(limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to query readings", err)
		return
	}
	if records == nil {
		records = []*reading.PumpReading{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// GetRelayActions returns the most recent relay audit entries.
func (h *Handler) GetRelayActions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	records, err := h.actions.GetRecent(limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to query relay actions", err)
		return
	}
	if records == nil {
		records = []*sqlite.RelayActionRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// GetSafetyState returns the controller's current counters and limits
// state for diagnostics.
func (h *Handler) GetSafetyState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.safety.Snapshot())
}

// GetConfig returns the current configuration snapshot with secrets
// blanked.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := *h.configStore.Get()
	cfg.OCR.OpenAI.APIKey = ""
	cfg.OCR.DocumentAI.CredentialsFile = ""
	h.writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string, err error) {
	h.logger.Error(msg, logger.Error(err))
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > 1000 {
		return def
	}
	return limit
}
