// Package thermostat decides which devices to switch given the averaged climate,
// the current device states and the time of day.
//
// During the day the lamp is the primary heat source and the heater a second
// stage; at night the lamp is forced off and only the heater is used.
package thermostat

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/terrarium-controller/internal/model"
)

type Device string

const (
	Heater     Device = "heater"
	Lamp       Device = "lamp"
	Humidifier Device = "humidifier"
)

type Op int

const (
	On Op = iota
	Off
	Pulse
)

func (o Op) String() string {
	switch o {
	case On:
		return "on"
	case Off:
		return "off"
	case Pulse:
		return "pulse"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

type Command struct {
	Device   Device
	Op       Op
	Duration time.Duration // Pulse only
}

func (c Command) String() string {
	if c.Op == Pulse {
		return fmt.Sprintf("%s %s %s", c.Device, c.Op, c.Duration)
	}
	return fmt.Sprintf("%s %s", c.Device, c.Op)
}

// Settings are expressed in Unit; readings are converted before comparison.
type Settings struct {
	DesiredTemp     float64
	TempRange       float64
	DesiredHumidity float64
	HumidityRange   float64
	DayStart        int
	DayEnd          int
	SprayDuration   time.Duration
	Unit            model.Unit
}

// State is the snapshot of device states a decision is based on.
type State struct {
	HeaterOn bool
	LampOn   bool
}

// IsDaytime uses exclusive bounds. A schedule that spans midnight
// (start > end) is never daytime.
func IsDaytime(hour, start, end int) bool {
	return start < hour && hour < end
}

// Decide returns the commands to apply, in order. It is pure: the same inputs
// always give the same commands.
func Decide(avg model.Reading, st State, hour int, s Settings) []Command {
	var cmds []Command

	day := IsDaytime(hour, s.DayStart, s.DayEnd)
	if !day {
		cmds = append(cmds, Command{Device: Lamp, Op: Off})
	}

	temp := avg.In(s.Unit)
	switch {
	case temp < s.DesiredTemp-s.TempRange:
		if day && !st.LampOn {
			cmds = append(cmds, Command{Device: Lamp, Op: On})
		} else {
			cmds = append(cmds, Command{Device: Heater, Op: On})
		}
	case temp > s.DesiredTemp+s.TempRange:
		if day && !st.HeaterOn {
			cmds = append(cmds, Command{Device: Lamp, Op: Off})
		} else {
			cmds = append(cmds, Command{Device: Heater, Op: Off})
		}
	}

	h := avg.Humidity
	if h >= 0 && h <= 100 && h < s.DesiredHumidity-s.HumidityRange {
		cmds = append(cmds, Command{Device: Humidifier, Op: Pulse, Duration: s.SprayDuration})
	}
	return cmds
}

// Switch is the subset of an actuator the controller drives.
type Switch interface {
	IsOn() bool
	TurnOn() bool
	TurnOff() bool
	Pulse(d time.Duration)
}

type Controller struct {
	switches map[Device]Switch
	settings Settings
	now      func() time.Time
}

func NewController(heater, lamp, humidifier Switch, settings Settings) *Controller {
	return &Controller{
		switches: map[Device]Switch{
			Heater:     heater,
			Lamp:       lamp,
			Humidifier: humidifier,
		},
		settings: settings,
		now:      time.Now,
	}
}

func (c *Controller) Settings() Settings { return c.settings }

// Evaluate reads the live device states, decides, and applies the result.
func (c *Controller) Evaluate(avg model.Reading) []Command {
	hour := c.now().Hour()
	st := State{
		HeaterOn: c.switches[Heater].IsOn(),
		LampOn:   c.switches[Lamp].IsOn(),
	}

	cmds := Decide(avg, st, hour, c.settings)

	log.Debug().
		Float64("temp", avg.In(c.settings.Unit)).
		Float64("humidity", avg.Humidity).
		Int("hour", hour).
		Bool("daytime", IsDaytime(hour, c.settings.DayStart, c.settings.DayEnd)).
		Int("commands", len(cmds)).
		Msg("Evaluated climate")

	for _, cmd := range cmds {
		c.apply(cmd)
	}
	return cmds
}

func (c *Controller) apply(cmd Command) {
	sw, ok := c.switches[cmd.Device]
	if !ok || sw == nil {
		log.Error().Str("device", string(cmd.Device)).Msg("No switch for device")
		return
	}
	switch cmd.Op {
	case On:
		sw.TurnOn()
	case Off:
		sw.TurnOff()
	case Pulse:
		sw.Pulse(cmd.Duration)
	}
}
