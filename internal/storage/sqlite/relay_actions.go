package sqlite

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// Relay action types logged by the safety controller.
const (
	ActionCycleStart = "CycleStart"
	ActionCycleEnd   = "CycleEnd"
)

// RelayActionRecord is one entry in the append-only relay audit log.
type RelayActionRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp_utc"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason"`
	Synced    bool      `json:"synced"`
}

// RelayActionStorage handles storage of relay action log entries
type RelayActionStorage struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *logger.Logger
}

// NewRelayActionStorage creates a new SQLite relay action storage
func NewRelayActionStorage(db *sql.DB, logger *logger.Logger) (*RelayActionStorage, error) {
	storage := &RelayActionStorage{
		db:     db,
		logger: logger.Named("sqlite-relay"),
	}

	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize relay action storage: %w", err)
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *RelayActionStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS relay_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			action TEXT NOT NULL,
			reason TEXT NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create relay_actions table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_relay_actions_timestamp ON relay_actions(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_relay_actions_synced ON relay_actions(synced)`,
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create relay action index: %w", err)
		}
	}

	return nil
}

// Append stores a relay action log entry.
func (s *RelayActionStorage) Append(record *RelayActionRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`INSERT INTO relay_actions (timestamp, action, reason, synced)
		VALUES (?, ?, ?, ?)`,
		record.Timestamp.UTC().Format(time.RFC3339),
		record.Action,
		record.Reason,
		boolToInt(record.Synced),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert relay action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id

	return id, nil
}

// GetUnsynced returns up to limit actions not yet acknowledged by the
// cloud, oldest first.
func (s *RelayActionStorage) GetUnsynced(limit int) ([]*RelayActionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, action, reason, synced
		FROM relay_actions
		WHERE synced = 0
		ORDER BY timestamp ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced relay actions: %w", err)
	}
	defer rows.Close()

	return s.scanActionRows(rows)
}

// GetSince returns actions at or after the given time, oldest first.
func (s *RelayActionStorage) GetSince(since time.Time) ([]*RelayActionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, action, reason, synced
		FROM relay_actions
		WHERE timestamp >= ?
		ORDER BY timestamp ASC`,
		since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query relay actions since: %w", err)
	}
	defer rows.Close()

	return s.scanActionRows(rows)
}

// GetRecent returns the most recent actions, newest first.
func (s *RelayActionStorage) GetRecent(limit int) ([]*RelayActionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, action, reason, synced
		FROM relay_actions
		ORDER BY timestamp DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent relay actions: %w", err)
	}
	defer rows.Close()

	return s.scanActionRows(rows)
}

// MarkSynced flags the given actions as acknowledged by the cloud.
func (s *RelayActionStorage) MarkSynced(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(
		`UPDATE relay_actions SET synced = 1 WHERE id IN (%s)`,
		placeholders(len(ids)),
	)
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to mark relay actions synced: %w", err)
	}

	return nil
}

// Cleanup deletes synced actions older than the cutoff. Unsynced rows
// are never deleted.
func (s *RelayActionStorage) Cleanup(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`DELETE FROM relay_actions WHERE timestamp < ? AND synced = 1`,
		olderThan.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up relay actions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return deleted, nil
}

// scanActionRows scans database rows into RelayActionRecord structs
func (s *RelayActionStorage) scanActionRows(rows *sql.Rows) ([]*RelayActionRecord, error) {
	var records []*RelayActionRecord
	for rows.Next() {
		var record RelayActionRecord
		var timestamp string
		var synced int

		if err := rows.Scan(
			&record.ID,
			&timestamp,
			&record.Action,
			&record.Reason,
			&synced,
		); err != nil {
			return nil, fmt.Errorf("failed to scan relay action: %w", err)
		}

		var err error
		record.Timestamp, err = time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		record.Synced = synced != 0

		records = append(records, &record)
	}

	return records, rows.Err()
}
