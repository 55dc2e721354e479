// Package shutdown drives every relay to its fail-safe state.
package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Switch is the part of an actuator shutdown needs.
type Switch interface {
	TurnOn() bool
	TurnOff() bool
}

// Target pairs a device with the state it must be left in.
type Target struct {
	Name   string
	Switch Switch
	On     bool
}

var exit = os.Exit

// FailSafe applies every target in order. It never stops early: a failure on one
// relay must not leave the others unattended.
func FailSafe(targets []Target) {
	for _, t := range targets {
		if t.Switch == nil {
			log.Error().Str("device", t.Name).Msg("Fail-safe target has no switch")
			continue
		}
		if t.On {
			t.Switch.TurnOn()
		} else {
			t.Switch.TurnOff()
		}
		log.Info().Str("device", t.Name).Bool("on", t.On).Msg("Fail-safe state applied")
	}
}

// Shutdown applies the fail-safe and exits the process.
func Shutdown(targets []Target, code int) {
	FailSafe(targets)
	exit(code)
}

func ShutdownWithError(err error, msg string, targets []Target) {
	log.Error().Err(err).Msg(msg)
	Shutdown(targets, 1)
}
