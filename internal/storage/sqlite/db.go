package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens (creating if necessary) the local database file and applies
// the pragmas the agent needs on flash storage: WAL keeps the reconciler
// readers from blocking the monitor writer, and a busy timeout absorbs
// the brief writer overlap between the loops.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma: %w", err)
		}
	}

	// The agent is the only writer; a single connection sidesteps
	// SQLITE_BUSY between the monitor and reconciler goroutines.
	db.SetMaxOpenConns(1)

	return db, nil
}
