// Package gpio drives relay pins through one of several hardware backends.
// Callers deal only in raw pin levels; polarity is applied by the actuator layer.
package gpio

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/terrarium-controller/internal/pinctrl"
)

// Driver reads and writes raw GPIO levels.
type Driver interface {
	Read(pin int) (bool, error)
	Write(pin int, high bool) error
	Close() error
}

type Backend string

const (
	BackendPinctrl  Backend = "pinctrl"
	BackendRPIO     Backend = "rpio"
	BackendGPIOCDev Backend = "gpiocdev"
	BackendFake     Backend = "fake"
)

// Open returns the driver for the named backend. chip is only used by gpiocdev.
func Open(backend Backend, chip string) (Driver, error) {
	switch backend {
	case BackendPinctrl, "":
		return PinctrlDriver{}, nil
	case BackendRPIO:
		return NewRPIODriver()
	case BackendGPIOCDev:
		return NewCDevDriver(chip)
	case BackendFake:
		return NewFakeDriver(), nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
}

// PinctrlDriver shells out to the Raspberry Pi `pinctrl` utility.
type PinctrlDriver struct{}

func (PinctrlDriver) Read(pin int) (bool, error) {
	return pinctrl.ReadLevel(pin)
}

func (PinctrlDriver) Write(pin int, high bool) error {
	return pinctrl.DriveOutput(pin, high)
}

func (PinctrlDriver) Close() error { return nil }

// ErrWriteSuppressed is returned by every write while safe mode is active.
var ErrWriteSuppressed = errors.New("gpio: write suppressed in safe mode")

type safeModeDriver struct {
	Driver
}

// WithSafeMode wraps d so that writes are dropped system-wide and report
// ErrWriteSuppressed. Reads still reach the hardware.
func WithSafeMode(d Driver) Driver {
	return safeModeDriver{Driver: d}
}

func (s safeModeDriver) Write(pin int, high bool) error {
	log.Debug().Int("pin", pin).Bool("high", high).Msg("Safe mode: GPIO write suppressed")
	return ErrWriteSuppressed
}
