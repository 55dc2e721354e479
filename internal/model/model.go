package model

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

type Unit string

const (
	Celsius    Unit = "C"
	Fahrenheit Unit = "F"
)

// Reading is a single sensor observation. Temperature is always held in Celsius;
// Unit only controls how it is displayed and reported.
type Reading struct {
	Celsius  float64
	Humidity float64
	Time     time.Time
	Unit     Unit
	Valid    bool // false when the sensor returned no data
}

func NewReading(celsius, humidity float64, at time.Time, unit Unit) Reading {
	return Reading{
		Celsius:  celsius,
		Humidity: humidity,
		Time:     at,
		Unit:     unit,
		Valid:    true,
	}
}

// FaultReading marks a poll where the sensor produced nothing usable.
func FaultReading(at time.Time, unit Unit) Reading {
	return Reading{Time: at, Unit: unit}
}

func CelsiusToFahrenheit(c float64) float64 {
	return c*9.0/5.0 + 32.0
}

func FahrenheitToCelsius(f float64) float64 {
	return (f - 32.0) * 5.0 / 9.0
}

// ToCelsius converts a value expressed in unit into Celsius.
func ToCelsius(v float64, unit Unit) float64 {
	if unit == Fahrenheit {
		return FahrenheitToCelsius(v)
	}
	return v
}

// In returns the temperature expressed in unit.
func (r Reading) In(unit Unit) float64 {
	if unit == Fahrenheit {
		return CelsiusToFahrenheit(r.Celsius)
	}
	return r.Celsius
}

// Temperature returns the temperature in the reading's display unit.
func (r Reading) Temperature() float64 {
	return r.In(r.Unit)
}

func (r Reading) String() string {
	if !r.Valid {
		return "Read error."
	}
	unit := r.Unit
	if unit == "" {
		unit = Celsius
	}
	return fmt.Sprintf("%.2f°%s %.2f%% %s", round2(r.Temperature()), unit, round2(r.Humidity), r.Time.Format("15:04:05"))
}

// Payload is the climate body posted to the collector.
func (r Reading) Payload() map[string]any {
	return map[string]any{
		"temperature": round2(r.Temperature()),
		"humidity":    round2(r.Humidity),
		"time":        r.Time.Format(time.RFC3339),
	}
}

type EventType string

const (
	EventOn  EventType = "ON"
	EventOff EventType = "OFF"
)

// DeviceEvent records a relay state change.
type DeviceEvent struct {
	ID    string
	Name  string
	Event EventType
	Time  time.Time
}

func NewDeviceEvent(name string, event EventType, at time.Time) DeviceEvent {
	return DeviceEvent{
		ID:    uuid.NewString(),
		Name:  name,
		Event: event,
		Time:  at,
	}
}

func (e DeviceEvent) Payload() map[string]any {
	return map[string]any{
		"id":    e.ID,
		"name":  e.Name,
		"event": string(e.Event),
		"time":  e.Time.Format(time.RFC3339),
	}
}

type Polarity string

const (
	// NormallyOpen relays energize the device when the pin is driven high.
	NormallyOpen Polarity = "normally_open"
	// NormallyClosed relays power the device while the pin is low.
	NormallyClosed Polarity = "normally_closed"
)

type RelayPin struct {
	Number   int
	Polarity Polarity
}

// LevelFor returns the pin level that puts the device in the requested state.
func (p RelayPin) LevelFor(on bool) bool {
	return on != (p.Polarity == NormallyClosed)
}

// IsOn interprets a raw pin level through the relay polarity.
func (p RelayPin) IsOn(level bool) bool {
	return level != (p.Polarity == NormallyClosed)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
