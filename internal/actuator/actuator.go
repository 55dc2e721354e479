// Package actuator controls relay-switched devices (heater, lamp, humidifier).
//
// An Actuator never caches its own state: every query reads the pin and applies
// the relay polarity, so software and hardware cannot drift apart.
package actuator

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/terrarium-controller/internal/gpio"
	"github.com/thatsimonsguy/terrarium-controller/internal/model"
)

// PulseHistory is how long pulse start times are remembered for reporting.
const PulseHistory = 2 * time.Hour

// EventSink receives every state change. It is called while the transition lock
// is held, so implementations must hand slow work (network I/O) off to another
// goroutine.
type EventSink interface {
	DeviceEvent(e model.DeviceEvent)
}

type Actuator struct {
	name   string
	pin    model.RelayPin
	driver gpio.Driver
	sink   EventSink
	now    func() time.Time

	mu sync.Mutex // serializes transitions

	pulseMu  sync.Mutex // guards pending and pulseLog; taken before mu
	pending  int
	pulseLog []time.Time
	pulses   sync.WaitGroup
}

func New(name string, pin model.RelayPin, driver gpio.Driver, sink EventSink) *Actuator {
	return &Actuator{
		name:   name,
		pin:    pin,
		driver: driver,
		sink:   sink,
		now:    time.Now,
	}
}

func (a *Actuator) Name() string { return a.name }

func (a *Actuator) Pin() model.RelayPin { return a.pin }

// State reads the live pin level and interprets it through the relay polarity.
func (a *Actuator) State() (bool, error) {
	level, err := a.driver.Read(a.pin.Number)
	if err != nil {
		return false, err
	}
	return a.pin.IsOn(level), nil
}

// IsOn reports the live device state. An unreadable pin reports off.
func (a *Actuator) IsOn() bool {
	on, err := a.State()
	if err != nil {
		log.Error().Err(err).Str("device", a.name).Int("pin", a.pin.Number).Msg("Failed to read device state")
		return false
	}
	return on
}

// TurnOn energizes the device. Returns false when it was already on or the write failed.
func (a *Actuator) TurnOn() bool {
	return a.set(true)
}

// TurnOff de-energizes the device. Returns false when it was already off or the write failed.
func (a *Actuator) TurnOff() bool {
	return a.set(false)
}

func (a *Actuator) set(on bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.State()
	if err != nil {
		log.Warn().Err(err).Str("device", a.name).Msg("Device state unreadable, driving relay anyway")
	} else if current == on {
		return false
	}

	if err := a.driver.Write(a.pin.Number, a.pin.LevelFor(on)); err != nil {
		if errors.Is(err, gpio.ErrWriteSuppressed) {
			log.Info().Str("device", a.name).Bool("on", on).Msg("Safe mode: device left unchanged")
			return false
		}
		log.Error().Err(err).Str("device", a.name).Int("pin", a.pin.Number).Bool("on", on).Msg("Failed to switch device")
		return false
	}

	event := model.EventOff
	msg := "Deactivating device"
	if on {
		event = model.EventOn
		msg = "Activating device"
	}
	log.Info().Str("device", a.name).Int("pin", a.pin.Number).Msg(msg)

	if a.sink != nil {
		a.sink.DeviceEvent(model.NewDeviceEvent(a.name, event, a.now()))
	}
	return true
}

// Pulse turns the device on and schedules it off after d without blocking.
// Pulses never cancel each other; the device is switched off when the last
// outstanding pulse expires.
func (a *Actuator) Pulse(d time.Duration) {
	a.pulseMu.Lock()
	defer a.pulseMu.Unlock()

	now := a.now()
	a.pending++
	a.pulseLog = append(prunePulses(a.pulseLog, now), now)
	a.pulses.Add(1)

	log.Info().Str("device", a.name).Dur("duration", d).Int("in_flight", a.pending).Msg("Pulsing device")
	a.TurnOn()

	time.AfterFunc(d, a.expirePulse)
}

func (a *Actuator) expirePulse() {
	defer a.pulses.Done()

	a.pulseMu.Lock()
	defer a.pulseMu.Unlock()

	a.pending--
	if a.pending > 0 {
		return
	}
	a.TurnOff()
}

// PulsesInFlight returns the number of pulses that have not yet expired.
func (a *Actuator) PulsesInFlight() int {
	a.pulseMu.Lock()
	defer a.pulseMu.Unlock()
	return a.pending
}

// RecentPulses returns the start times of pulses within PulseHistory.
func (a *Actuator) RecentPulses() []time.Time {
	a.pulseMu.Lock()
	defer a.pulseMu.Unlock()

	a.pulseLog = prunePulses(a.pulseLog, a.now())
	out := make([]time.Time, len(a.pulseLog))
	copy(out, a.pulseLog)
	return out
}

// Wait blocks until every scheduled pulse has expired.
func (a *Actuator) Wait() {
	a.pulses.Wait()
}

func prunePulses(times []time.Time, now time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if now.Sub(t) <= PulseHistory {
			kept = append(kept, t)
		}
	}
	return kept
}
