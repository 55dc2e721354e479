package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/terrarium-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// RecordReading journals an averaged reading and whether the collector accepted it.
func (j *Journal) RecordReading(r model.Reading, delivered bool) error {
	if !r.Valid {
		return fmt.Errorf("refusing to journal a fault reading")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`INSERT INTO readings (celsius, humidity, unit, recorded_at, delivered) VALUES (?, ?, ?, ?, ?)`,
		r.Celsius, r.Humidity, string(r.Unit), r.Time.UTC().Format(timeLayout), delivered)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// RecordEvent journals a device event. A duplicate id is ignored.
func (j *Journal) RecordEvent(e model.DeviceEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`INSERT OR IGNORE INTO device_events (id, name, event, occurred_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.Name, string(e.Event), e.Time.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert device event %s: %w", e.ID, err)
	}
	return nil
}

// Prune deletes entries older than cutoff and returns how many rows were removed.
func (j *Journal) Prune(cutoff time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := StartTransaction(j.db)
	if err != nil {
		return 0, err
	}
	ts := cutoff.UTC().Format(timeLayout)

	res, err := tx.Exec(`DELETE FROM readings WHERE recorded_at < ?`, ts)
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	readings, _ := res.RowsAffected()

	res, err = tx.Exec(`DELETE FROM device_events WHERE occurred_at < ?`, ts)
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("prune device events: %w", err)
	}
	events, _ := res.RowsAffected()

	if err := CommitTransaction(tx); err != nil {
		return 0, err
	}
	return readings + events, nil
}
