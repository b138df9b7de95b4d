package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/davebirr/WellMonitor-sub002/internal/reading"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// ReadingStorage handles storage of pump readings
type ReadingStorage struct {
	db     *sql.DB
	mu     sync.Mutex // serializes writers; readers go through WAL
	logger *logger.Logger
}

// NewReadingStorage creates a new SQLite reading storage
func NewReadingStorage(db *sql.DB, logger *logger.Logger) (*ReadingStorage, error) {
	storage := &ReadingStorage{
		db:     db,
		logger: logger.Named("sqlite-readings"),
	}

	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize reading storage: %w", err)
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *ReadingStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			current_amps REAL,
			raw_text TEXT NOT NULL,
			confidence REAL NOT NULL,
			is_valid INTEGER NOT NULL DEFAULT 0,
			synced INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create readings table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_readings_timestamp ON readings(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_synced ON readings(synced)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_status ON readings(status)`,
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create reading index: %w", err)
		}
	}

	return nil
}

// Append stores a reading. It is synchronous: the monitor loop does not
// proceed to its next cycle until the row is durable or the call has
// failed loudly.
func (s *ReadingStorage) Append(r *reading.PumpReading) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var amps interface{}
	if r.CurrentAmps != nil {
		amps = *r.CurrentAmps
	}

	result, err := s.db.Exec(
		`INSERT INTO readings
		(timestamp, status, current_amps, raw_text, confidence, is_valid, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp.UTC().Format(time.RFC3339),
		string(r.Status),
		amps,
		r.RawText,
		r.Confidence,
		boolToInt(r.IsValid),
		boolToInt(r.Synced),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	r.ID = id

	return id, nil
}

// GetUnsynced returns up to limit readings not yet acknowledged by the
// cloud, oldest first.
func (s *ReadingStorage) GetUnsynced(limit int) ([]*reading.PumpReading, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, status, current_amps, raw_text, confidence, is_valid, synced
		FROM readings
		WHERE synced = 0
		ORDER BY timestamp ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced readings: %w", err)
	}
	defer rows.Close()

	return s.scanReadingRows(rows)
}

// GetSince returns readings at or after the given time, oldest first.
// Used to replay recent history into the safety controller on startup.
func (s *ReadingStorage) GetSince(since time.Time) ([]*reading.PumpReading, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, status, current_amps, raw_text, confidence, is_valid, synced
		FROM readings
		WHERE timestamp >= ?
		ORDER BY timestamp ASC`,
		since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings since: %w", err)
	}
	defer rows.Close()

	return s.scanReadingRows(rows)
}

// GetRecent returns the most recent readings, newest first.
func (s *ReadingStorage) GetRecent(limit int) ([]*reading.PumpReading, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, status, current_amps, raw_text, confidence, is_valid, synced
		FROM readings
		ORDER BY timestamp DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %w", err)
	}
	defer rows.Close()

	return s.scanReadingRows(rows)
}

// MarkSynced flags the given readings as acknowledged by the cloud.
// Marking an already-synced id again is a no-op.
func (s *ReadingStorage) MarkSynced(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(
		`UPDATE readings SET synced = 1 WHERE id IN (%s)`,
		placeholders(len(ids)),
	)
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to mark readings synced: %w", err)
	}

	return nil
}

// Cleanup deletes readings older than the cutoff that have been synced.
// Unsynced rows survive regardless of age so nothing is lost before the
// cloud has acknowledged it.
func (s *ReadingStorage) Cleanup(olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`DELETE FROM readings WHERE timestamp < ? AND synced = 1`,
		olderThan.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up readings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return deleted, nil
}

// scanReadingRows scans database rows into PumpReading structs
func (s *ReadingStorage) scanReadingRows(rows *sql.Rows) ([]*reading.PumpReading, error) {
	var records []*reading.PumpReading
	for rows.Next() {
		var r reading.PumpReading
		var timestamp string
		var amps sql.NullFloat64
		var isValid, synced int

		if err := rows.Scan(
			&r.ID,
			&timestamp,
			&r.Status,
			&amps,
			&r.RawText,
			&r.Confidence,
			&isValid,
			&synced,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}

		var err error
		r.Timestamp, err = time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}

		if amps.Valid {
			v := amps.Float64
			r.CurrentAmps = &v
		}
		r.IsValid = isValid != 0
		r.Synced = synced != 0

		records = append(records, &r)
	}

	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
