// Package service runs the controller: it owns the sensor loop, evaluates the
// thermostat on the hardware cadence, uploads on the upload cadence, and leaves
// the relays in their fail-safe states whenever it stops.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/terrarium-controller/internal/actuator"
	"github.com/thatsimonsguy/terrarium-controller/internal/api"
	"github.com/thatsimonsguy/terrarium-controller/internal/config"
	"github.com/thatsimonsguy/terrarium-controller/internal/datadog"
	"github.com/thatsimonsguy/terrarium-controller/internal/model"
	"github.com/thatsimonsguy/terrarium-controller/internal/sensor"
	"github.com/thatsimonsguy/terrarium-controller/internal/thermostat"
	"github.com/thatsimonsguy/terrarium-controller/system/shutdown"
)

const startupPollInterval = 100 * time.Millisecond

type Sensor interface {
	Run(ctx context.Context) error
	Available() bool
	Average() (model.Reading, bool)
	Readings() []model.Reading
	Latest() (model.Reading, bool)
	State() sensor.State
	ConsecutiveFailures() int
	RejectedSpikes() int
}

type Controller interface {
	Evaluate(avg model.Reading) []thermostat.Command
}

type Uplink interface {
	PostClimate(ctx context.Context, r model.Reading) bool
}

type ReadingJournal interface {
	RecordReading(r model.Reading, delivered bool) error
}

type Notifier interface {
	Alert(ctx context.Context, title, message string)
}

// Deps are the collaborators the service drives. Journal, Notifier and
// Metrics may be nil.
type Deps struct {
	Heater     *actuator.Actuator
	Lamp       *actuator.Actuator
	Humidifier *actuator.Actuator
	Sensor     Sensor
	Controller Controller
	Uplink     Uplink
	Journal    ReadingJournal
	Notifier   Notifier
	Metrics    *datadog.Metrics
}

type Options struct {
	Relays              []config.Relay
	LoopInterval        time.Duration
	HardwareInterval    time.Duration
	UploadInterval      time.Duration
	OutageAlertFailures int
	SafeMode            bool
}

type Service struct {
	deps        Deps
	opts        Options
	actuators   map[string]*actuator.Actuator
	now         func() time.Time
	startupPoll time.Duration

	stopping atomic.Bool

	// tickMu keeps hardware control and the fail-safe from interleaving.
	tickMu sync.Mutex

	mu            sync.Mutex
	cancel        context.CancelFunc
	lastHardware  time.Time
	lastUpload    time.Time
	outageAlerted bool
}

func New(deps Deps, opts Options) *Service {
	return &Service{
		deps: deps,
		opts: opts,
		actuators: map[string]*actuator.Actuator{
			config.HeaterName:     deps.Heater,
			config.LampName:       deps.Lamp,
			config.HumidifierName: deps.Humidifier,
		},
		now:         time.Now,
		startupPoll: startupPollInterval,
	}
}

// Run blocks until ctx is cancelled or Stop is called. The fail-safe is applied
// on the way out regardless of how the loop ended.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if s.stopping.Load() {
		s.FailSafe()
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.deps.Sensor.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Sensor loop exited")
		}
	}()

	log.Info().
		Dur("loop_interval", s.opts.LoopInterval).
		Dur("hardware_interval", s.opts.HardwareInterval).
		Dur("upload_interval", s.opts.UploadInterval).
		Bool("safe_mode", s.opts.SafeMode).
		Msg("Starting terrarium controller")

	if s.waitForSensor(ctx) {
		s.loop(ctx)
	}

	cancel()
	wg.Wait()

	s.tickMu.Lock()
	s.FailSafe()
	s.tickMu.Unlock()

	s.notify("Terrarium controller stopped", "Fail-safe applied: heater on, lamp and humidifier off.")
	log.Info().Msg("Terrarium controller stopped")
	return nil
}

func (s *Service) waitForSensor(ctx context.Context) bool {
	if s.deps.Sensor.Available() {
		return true
	}
	log.Info().Msg("Waiting for first sensor reading")

	ticker := time.NewTicker(s.startupPoll)
	defer ticker.Stop()
	for !s.deps.Sensor.Available() {
		if s.stopping.Load() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	log.Info().Msg("Sensor available")
	return true
}

func (s *Service) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil || s.stopping.Load() {
			return
		}

		start := s.now()
		s.tick(ctx)

		wait := s.opts.LoopInterval - s.now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic during control tick")
		}
	}()

	s.checkSensorHealth(ctx)

	avg, ok := s.deps.Sensor.Average()
	if !ok {
		log.Error().Msg("No average reading available, skipping tick")
		return
	}

	now := s.now()
	if s.due(&s.lastHardware, s.opts.HardwareInterval, now) {
		s.control(avg)
	}
	if s.due(&s.lastUpload, s.opts.UploadInterval, now) {
		s.upload(ctx, avg)
	}
	s.emitMetrics(avg)
}

// due reports whether interval has passed since *last, and if so advances it.
func (s *Service) due(last *time.Time, interval time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !last.IsZero() && now.Sub(*last) < interval {
		return false
	}
	*last = now
	return true
}

func (s *Service) control(avg model.Reading) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if s.stopping.Load() {
		return
	}
	cmds := s.deps.Controller.Evaluate(avg)
	log.Info().Str("average", avg.String()).Int("commands", len(cmds)).Msg("Hardware evaluated")
}

func (s *Service) upload(ctx context.Context, avg model.Reading) {
	delivered := s.deps.Uplink.PostClimate(ctx, avg)
	if !delivered {
		log.Warn().Str("average", avg.String()).Msg("Climate upload dropped")
	}
	if s.deps.Journal == nil {
		return
	}
	if err := s.deps.Journal.RecordReading(avg, delivered); err != nil {
		log.Error().Err(err).Msg("Failed to journal reading")
	}
}

func (s *Service) checkSensorHealth(ctx context.Context) {
	failures := s.deps.Sensor.ConsecutiveFailures()
	s.deps.Metrics.Gauge("sensor.consecutive_failures", float64(failures))

	threshold := s.opts.OutageAlertFailures
	if threshold <= 0 {
		return
	}

	s.mu.Lock()
	alert := failures >= threshold && !s.outageAlerted
	if alert {
		s.outageAlerted = true
	}
	if failures == 0 {
		s.outageAlerted = false
	}
	s.mu.Unlock()

	if alert {
		log.Error().Int("consecutive_failures", failures).Msg("Sensor outage")
		s.notifyCtx(ctx, "Terrarium sensor outage", fmt.Sprintf("%d consecutive sensor reads have failed.", failures))
	}
}

func (s *Service) emitMetrics(avg model.Reading) {
	m := s.deps.Metrics
	if m == nil {
		return
	}
	unit := "unit:" + string(avg.Unit)
	m.Gauge("climate.temperature", avg.Temperature(), unit)
	m.Gauge("climate.humidity", avg.Humidity)
	m.Gauge("sensor.rejected_spikes", float64(s.deps.Sensor.RejectedSpikes()))
	for _, r := range s.opts.Relays {
		if a := s.actuators[r.Name]; a != nil {
			m.Bool("device.on", a.IsOn(), "device:"+r.Name)
		}
	}
}

// Stop applies the fail-safe and then signals every loop to end. It is safe to
// call more than once and from any goroutine.
func (s *Service) Stop() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	log.Warn().Msg("Stopping terrarium controller")

	s.tickMu.Lock()
	s.FailSafe()
	s.tickMu.Unlock()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// FailSafe drives every relay to its configured safe state.
func (s *Service) FailSafe() {
	shutdown.FailSafe(s.Targets())
}

func (s *Service) Targets() []shutdown.Target {
	targets := make([]shutdown.Target, 0, len(s.opts.Relays))
	for _, r := range s.opts.Relays {
		t := shutdown.Target{Name: r.Name, On: r.SafeOn}
		if a := s.actuators[r.Name]; a != nil {
			t.Switch = a
		}
		targets = append(targets, t)
	}
	return targets
}

func (s *Service) Stopping() bool {
	return s.stopping.Load()
}

func (s *Service) notify(title, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.notifyCtx(ctx, title, message)
}

func (s *Service) notifyCtx(ctx context.Context, title, message string) {
	if s.deps.Notifier == nil {
		return
	}
	s.deps.Notifier.Alert(ctx, title, message)
}

// Status implements api.StatusProvider.
func (s *Service) Status() api.Status {
	st := api.Status{
		SafeMode: s.opts.SafeMode,
		Stopping: s.stopping.Load(),
		Sensor: api.SensorStatus{
			State:               s.deps.Sensor.State().String(),
			ConsecutiveFailures: s.deps.Sensor.ConsecutiveFailures(),
			WindowReadings:      len(s.deps.Sensor.Readings()),
			RejectedSpikes:      s.deps.Sensor.RejectedSpikes(),
		},
	}
	if avg, ok := s.deps.Sensor.Average(); ok {
		st.Average = api.NewReadingStatus(avg)
	}
	if latest, ok := s.deps.Sensor.Latest(); ok {
		st.Latest = api.NewReadingStatus(latest)
	}
	for _, r := range s.opts.Relays {
		a := s.actuators[r.Name]
		if a == nil {
			continue
		}
		st.Devices = append(st.Devices, api.DeviceStatus{Name: r.Name, On: a.IsOn(), Pin: r.Pin.Number})
	}
	if s.deps.Humidifier != nil {
		st.RecentSprays = s.deps.Humidifier.RecentPulses()
	}
	return st
}
