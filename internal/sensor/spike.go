package sensor

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"
)

// SpikeFilter rejects single-sample temperature jumps that the DHT22 produces
// on a noisy data line. A jump larger than MaxDelta from the last accepted
// value is dropped unless Confirm consecutive readings agree on the new level,
// in which case the new level becomes the baseline.
type SpikeFilter struct {
	MaxDelta float64 // degrees Celsius
	Confirm  int

	mu        sync.Mutex
	last      float64
	primed    bool
	candidate []float64
	rejected  int
}

func NewSpikeFilter(maxDelta float64, confirm int) *SpikeFilter {
	if confirm < 1 {
		confirm = 1
	}
	return &SpikeFilter{MaxDelta: maxDelta, Confirm: confirm}
}

// Accept reports whether celsius should enter the window.
func (f *SpikeFilter) Accept(celsius float64) bool {
	if f == nil || f.MaxDelta <= 0 {
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.primed || math.Abs(celsius-f.last) <= f.MaxDelta {
		f.primed = true
		f.last = celsius
		f.candidate = f.candidate[:0]
		return true
	}

	f.candidate = append(f.candidate, celsius)
	if len(f.candidate) >= f.Confirm && stable(f.candidate, f.MaxDelta) {
		log.Info().
			Float64("previous_c", f.last).
			Float64("new_c", celsius).
			Int("samples", len(f.candidate)).
			Msg("Stable new temperature baseline detected")
		f.last = celsius
		f.candidate = f.candidate[:0]
		return true
	}
	if len(f.candidate) >= f.Confirm {
		// drop the oldest so a later run of agreeing samples can still confirm
		f.candidate = f.candidate[1:]
	}

	f.rejected++
	log.Warn().
		Float64("temp_c", celsius).
		Float64("baseline_c", f.last).
		Float64("max_delta_c", f.MaxDelta).
		Msg("Temperature reading rejected as spike")
	return false
}

// Rejected counts readings dropped since the filter was created.
func (f *SpikeFilter) Rejected() int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rejected
}

func stable(samples []float64, maxDelta float64) bool {
	lo, hi := samples[0], samples[0]
	for _, s := range samples[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	return hi-lo <= maxDelta
}
