package sensor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/terrarium-controller/internal/model"
	"github.com/thatsimonsguy/terrarium-controller/internal/window"
)

// MinDwell is the shortest pause between two polls. The DHT22 cannot be sampled
// faster than once every two seconds.
const MinDwell = 2 * time.Second

type State int32

const (
	Idle State = iota
	Polling
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LiveSink receives the rolling average after every poll.
type LiveSink interface {
	SendLive(ctx context.Context, avg model.Reading) bool
}

var ErrAlreadyStarted = errors.New("sensor driver already started")

// Driver polls a Sensor on its own goroutine and keeps a SampleWindow current.
type Driver struct {
	sensor Sensor
	window *window.Window
	live   LiveSink
	unit   model.Unit
	dwell  time.Duration
	spikes *SpikeFilter
	now    func() time.Time

	state    atomic.Int32
	failures atomic.Int64
}

// NewDriver builds a driver. live may be nil. dwell is raised to MinDwell when shorter.
func NewDriver(s Sensor, w *window.Window, live LiveSink, unit model.Unit, dwell time.Duration) *Driver {
	if dwell < MinDwell {
		dwell = MinDwell
	}
	return &Driver{
		sensor: s,
		window: w,
		live:   live,
		unit:   unit,
		dwell:  dwell,
		now:    time.Now,
	}
}

// WithSpikeFilter drops temperature spikes before they reach the window.
func (d *Driver) WithSpikeFilter(f *SpikeFilter) *Driver {
	d.spikes = f
	return d
}

// Run polls until ctx is cancelled. Cancellation is observed before every poll
// and during the dwell, never in the middle of a read.
func (d *Driver) Run(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(Idle), int32(Polling)) {
		return ErrAlreadyStarted
	}
	defer d.state.Store(int32(Stopped))

	log.Info().Dur("dwell", d.dwell).Dur("window", d.window.Duration()).Msg("Sensor polling started")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("Sensor polling stopped")
			return nil
		}

		d.poll(ctx)

		timer := time.NewTimer(d.dwell)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Sensor polling stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (d *Driver) poll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.failures.Add(1)
			log.Error().Interface("panic", r).Msg("Recovered from panic during sensor poll")
		}
	}()

	celsius, humidity, err := d.sensor.Read()
	at := d.now()
	if err != nil {
		n := d.failures.Add(1)
		log.Warn().Err(err).Int64("consecutive_failures", n).Msg("Sensor read failed")
		d.window.Add(model.FaultReading(at, d.unit))
	} else {
		d.failures.Store(0)
		if d.spikes.Accept(celsius) {
			r := model.NewReading(celsius, humidity, at, d.unit)
			d.window.Add(r)
			log.Debug().Str("reading", r.String()).Int("window_len", d.window.Len()).Msg("Sensor reading")
		}
	}

	// the current average goes out even when this read produced nothing new
	avg, ok := d.window.Average()
	if !ok || d.live == nil {
		return
	}
	if !d.live.SendLive(ctx, avg) {
		log.Debug().Msg("Live telemetry not delivered")
	}
}

// Available reports whether the window holds at least one valid reading.
func (d *Driver) Available() bool {
	_, ok := d.window.Average()
	return ok
}

func (d *Driver) Average() (model.Reading, bool) {
	return d.window.Average()
}

func (d *Driver) Readings() []model.Reading {
	return d.window.All()
}

// Latest returns the newest reading in the window.
func (d *Driver) Latest() (model.Reading, bool) {
	return d.window.Latest()
}

// RejectedSpikes counts readings the spike filter has dropped.
func (d *Driver) RejectedSpikes() int {
	return d.spikes.Rejected()
}

func (d *Driver) State() State {
	return State(d.state.Load())
}

// ConsecutiveFailures counts reads that failed since the last good one.
func (d *Driver) ConsecutiveFailures() int {
	return int(d.failures.Load())
}
