package sqlite

import (
	"database/sql"
	"testing"
	"time"

	"github.com/davebirr/WellMonitor-sub002/internal/reading"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func newReadingStorage(t *testing.T) *ReadingStorage {
	t.Helper()
	s, err := NewReadingStorage(testDB(t), testLogger(t))
	if err != nil {
		t.Fatalf("failed to create reading storage: %v", err)
	}
	return s
}

func sampleReading(ts time.Time, status reading.PumpStatus) *reading.PumpReading {
	amps := 4.2
	r := &reading.PumpReading{
		Timestamp:  ts,
		Status:     status,
		RawText:    "4.2",
		Confidence: 0.9,
		IsValid:    true,
	}
	if status == reading.StatusNormal || status == reading.StatusIdle || status == reading.StatusOff {
		r.CurrentAmps = &amps
	}
	return r
}

func TestAppendAndGetUnsynced(t *testing.T) {
	s := newReadingStorage(t)
	now := time.Now().UTC().Truncate(time.Second)

	id, err := s.Append(sampleReading(now, reading.StatusNormal))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a row id")
	}

	rows, err := s.GetUnsynced(10)
	if err != nil {
		t.Fatalf("get unsynced failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 unsynced row, got %d", len(rows))
	}
	got := rows[0]
	if got.Status != reading.StatusNormal {
		t.Fatalf("expected Normal, got %s", got.Status)
	}
	if got.CurrentAmps == nil || *got.CurrentAmps != 4.2 {
		t.Fatalf("expected current 4.2, got %v", got.CurrentAmps)
	}
	if !got.Timestamp.Equal(now) {
		t.Fatalf("timestamp mismatch: want %v, got %v", now, got.Timestamp)
	}
	if got.Synced {
		t.Fatal("fresh row must not be synced")
	}
}

func TestNullCurrentRoundTrip(t *testing.T) {
	s := newReadingStorage(t)

	if _, err := s.Append(sampleReading(time.Now().UTC(), reading.StatusDry)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	rows, err := s.GetUnsynced(10)
	if err != nil {
		t.Fatalf("get unsynced failed: %v", err)
	}
	if rows[0].CurrentAmps != nil {
		t.Fatalf("Dry reading must have nil current, got %v", *rows[0].CurrentAmps)
	}
}

func TestMarkSyncedIsIdempotent(t *testing.T) {
	s := newReadingStorage(t)

	id, err := s.Append(sampleReading(time.Now().UTC(), reading.StatusNormal))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := s.MarkSynced([]int64{id}); err != nil {
		t.Fatalf("mark synced failed: %v", err)
	}
	// Second call on the same ids has no additional effect.
	if err := s.MarkSynced([]int64{id}); err != nil {
		t.Fatalf("second mark synced failed: %v", err)
	}

	rows, err := s.GetUnsynced(10)
	if err != nil {
		t.Fatalf("get unsynced failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no unsynced rows, got %d", len(rows))
	}
}

func TestMarkSyncedEmptySetIsNoop(t *testing.T) {
	s := newReadingStorage(t)
	if err := s.MarkSynced(nil); err != nil {
		t.Fatalf("empty mark synced failed: %v", err)
	}
}

func TestCleanupNeverDeletesUnsyncedRows(t *testing.T) {
	s := newReadingStorage(t)
	old := time.Now().UTC().Add(-90 * 24 * time.Hour)

	unsyncedID, err := s.Append(sampleReading(old, reading.StatusNormal))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	syncedID, err := s.Append(sampleReading(old, reading.StatusNormal))
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := s.MarkSynced([]int64{syncedID}); err != nil {
		t.Fatalf("mark synced failed: %v", err)
	}

	deleted, err := s.Cleanup(time.Now().UTC().Add(-30 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected only the synced row deleted, got %d", deleted)
	}

	rows, err := s.GetUnsynced(10)
	if err != nil {
		t.Fatalf("get unsynced failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != unsyncedID {
		t.Fatalf("unsynced row must survive cleanup regardless of age, got %v", rows)
	}
}

func TestGetSinceOrdersOldestFirst(t *testing.T) {
	s := newReadingStorage(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		if _, err := s.Append(sampleReading(base.Add(time.Duration(i)*time.Minute), reading.StatusNormal)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	rows, err := s.GetSince(base.Add(30 * time.Second))
	if err != nil {
		t.Fatalf("get since failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows in window, got %d", len(rows))
	}
	if !rows[0].Timestamp.Before(rows[1].Timestamp) {
		t.Fatal("expected oldest-first ordering")
	}
}

func TestRelayActionLifecycle(t *testing.T) {
	db := testDB(t)
	s, err := NewRelayActionStorage(db, testLogger(t))
	if err != nil {
		t.Fatalf("failed to create relay action storage: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)

	startID, err := s.Append(&RelayActionRecord{Timestamp: now, Action: ActionCycleStart, Reason: "rapid cycle"})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := s.Append(&RelayActionRecord{Timestamp: now.Add(10 * time.Second), Action: ActionCycleEnd, Reason: "rapid cycle"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	unsynced, err := s.GetUnsynced(10)
	if err != nil {
		t.Fatalf("get unsynced failed: %v", err)
	}
	if len(unsynced) != 2 {
		t.Fatalf("expected 2 unsynced actions, got %d", len(unsynced))
	}
	if unsynced[0].Action != ActionCycleStart || unsynced[1].Action != ActionCycleEnd {
		t.Fatalf("unexpected action order: %s, %s", unsynced[0].Action, unsynced[1].Action)
	}

	if err := s.MarkSynced([]int64{startID}); err != nil {
		t.Fatalf("mark synced failed: %v", err)
	}
	unsynced, err = s.GetUnsynced(10)
	if err != nil {
		t.Fatalf("get unsynced failed: %v", err)
	}
	if len(unsynced) != 1 || unsynced[0].Action != ActionCycleEnd {
		t.Fatalf("expected only CycleEnd left unsynced, got %v", unsynced)
	}

	// Old but unsynced survives cleanup; synced old row does not.
	deleted, err := s.Cleanup(now.Add(time.Hour))
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted action, got %d", deleted)
	}
}
