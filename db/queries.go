package db

import (
	"fmt"
	"time"

	"github.com/thatsimonsguy/terrarium-controller/internal/model"
)

// JournaledReading is a reading row plus its delivery outcome.
type JournaledReading struct {
	model.Reading
	Delivered bool
}

// RecentReadings returns up to limit readings, newest first.
func (j *Journal) RecentReadings(limit int) ([]JournaledReading, error) {
	rows, err := j.db.Query(`SELECT celsius, humidity, unit, recorded_at, delivered FROM readings ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []JournaledReading
	for rows.Next() {
		var (
			jr   JournaledReading
			unit string
			at   string
		)
		if err := rows.Scan(&jr.Celsius, &jr.Humidity, &unit, &at, &jr.Delivered); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		jr.Unit = model.Unit(unit)
		jr.Valid = true
		jr.Time, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("bad reading timestamp %q: %w", at, err)
		}
		out = append(out, jr)
	}
	return out, rows.Err()
}

// RecentEvents returns up to limit device events, newest first.
func (j *Journal) RecentEvents(limit int) ([]model.DeviceEvent, error) {
	rows, err := j.db.Query(`SELECT id, name, event, occurred_at FROM device_events ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query device events: %w", err)
	}
	defer rows.Close()

	var out []model.DeviceEvent
	for rows.Next() {
		var (
			e     model.DeviceEvent
			event string
			at    string
		)
		if err := rows.Scan(&e.ID, &e.Name, &event, &at); err != nil {
			return nil, fmt.Errorf("failed to scan device event: %w", err)
		}
		e.Event = model.EventType(event)
		e.Time, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("bad event timestamp %q: %w", at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
