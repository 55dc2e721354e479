// Package sensor reads temperature and humidity and feeds the sample window.
package sensor

import (
	"errors"
	"fmt"
)

// Sensor is a single temperature/humidity probe. Read returns degrees Celsius and
// relative humidity in percent.
type Sensor interface {
	Read() (celsius, humidity float64, err error)
	Close() error
}

var ErrChecksum = errors.New("checksum mismatch")

const (
	minCelsius = -40.0
	maxCelsius = 80.0
)

// validate rejects values outside what the probe can physically report.
func validate(celsius, humidity float64) error {
	if celsius < minCelsius || celsius > maxCelsius {
		return fmt.Errorf("temperature %.1f°C outside %.0f..%.0f", celsius, minCelsius, maxCelsius)
	}
	if humidity < 0 || humidity > 100 {
		return fmt.Errorf("humidity %.1f%% outside 0..100", humidity)
	}
	return nil
}
