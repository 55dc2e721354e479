// Package db is the local SQLite journal of uploaded readings and device
// events. It is an audit trail for maintenance; nothing is ever re-sent from it.
package db

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/terrarium-controller/internal/model"
)

// timeLayout is fixed-width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		celsius REAL NOT NULL,
		humidity REAL NOT NULL,
		unit TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		delivered BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS device_events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		event TEXT NOT NULL,
		occurred_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_recorded_at ON readings(recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_device_events_occurred_at ON device_events(occurred_at)`,
}

// Journal serializes writes; SQLite allows one writer at a time.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the journal at path. ":memory:" is accepted.
func Open(path string) (*Journal, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	j := &Journal{db: conn}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("Journal opened")
	return j, nil
}

func (j *Journal) migrate() error {
	tx, err := StartTransaction(j.db)
	if err != nil {
		return err
	}
	for _, stmt := range migrations {
		if _, err := tx.Exec(stmt); err != nil {
			RollbackTransaction(tx)
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return CommitTransaction(tx)
}

// DeviceEvent journals e. It satisfies actuator.EventSink; failures are logged.
func (j *Journal) DeviceEvent(e model.DeviceEvent) {
	if err := j.RecordEvent(e); err != nil {
		log.Error().Err(err).Str("device", e.Name).Msg("Failed to journal device event")
	}
}

func (j *Journal) Close() error {
	return j.db.Close()
}
