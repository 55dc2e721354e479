// Package window holds the time-bounded reading buffer used to smooth sensor data.
package window

import (
	"sync"
	"time"

	"github.com/thatsimonsguy/terrarium-controller/internal/model"
)

// Window keeps readings no older than its duration, oldest first. Stale entries are
// dropped whenever the window is touched.
type Window struct {
	mu       sync.Mutex
	duration time.Duration
	readings []model.Reading

	now func() time.Time
}

func New(duration time.Duration) *Window {
	return &Window{
		duration: duration,
		now:      time.Now,
	}
}

func (w *Window) Duration() time.Duration {
	return w.duration
}

// Add appends a valid reading. Faulted readings are rejected but still prune.
func (w *Window) Add(r model.Reading) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !r.Valid {
		w.prune()
		return false
	}
	w.readings = append(w.readings, r)
	w.prune()
	return true
}

// Average returns the mean of the retained readings, stamped with the newest
// reading's time. ok is false when the window is empty.
func (w *Window) Average() (avg model.Reading, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune()
	if len(w.readings) == 0 {
		return model.Reading{}, false
	}

	var tSum, hSum float64
	for _, r := range w.readings {
		tSum += r.Celsius
		hSum += r.Humidity
	}
	n := float64(len(w.readings))
	latest := w.readings[len(w.readings)-1]

	return model.NewReading(tSum/n, hSum/n, latest.Time, latest.Unit), true
}

// All returns a copy of the retained readings.
func (w *Window) All() []model.Reading {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune()
	out := make([]model.Reading, len(w.readings))
	copy(out, w.readings)
	return out
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune()
	return len(w.readings)
}

// Latest returns the newest retained reading.
func (w *Window) Latest() (model.Reading, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune()
	if len(w.readings) == 0 {
		return model.Reading{}, false
	}
	return w.readings[len(w.readings)-1], true
}

// prune must be called with mu held. Order of survivors is preserved.
func (w *Window) prune() {
	if len(w.readings) == 0 {
		return
	}
	now := w.now()
	kept := w.readings[:0]
	for _, r := range w.readings {
		if now.Sub(r.Time) <= w.duration {
			kept = append(kept, r)
		}
	}
	// clear the tail so dropped readings are not pinned by the backing array
	for i := len(kept); i < len(w.readings); i++ {
		w.readings[i] = model.Reading{}
	}
	w.readings = kept
}
