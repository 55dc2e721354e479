package window

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/terrarium-controller/internal/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestWindow(d time.Duration) (*Window, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	w := New(d)
	w.now = clock.Now
	return w, clock
}

func TestAverage_Empty(t *testing.T) {
	w, _ := newTestWindow(30 * time.Second)

	_, ok := w.Average()
	assert.False(t, ok)
	assert.Empty(t, w.All())
}

func TestAverage_TwoReadings(t *testing.T) {
	w, clock := newTestWindow(30 * time.Second)

	first := clock.Now()
	w.Add(model.NewReading(20, 50, first, model.Celsius))
	clock.Advance(2 * time.Second)
	second := clock.Now()
	w.Add(model.NewReading(22, 52, second, model.Celsius))

	avg, ok := w.Average()
	require.True(t, ok)
	assert.InDelta(t, 21.0, avg.Celsius, 0.0001)
	assert.InDelta(t, 51.0, avg.Humidity, 0.0001)
	assert.Equal(t, second, avg.Time)
	assert.True(t, avg.Valid)
}

func TestAverage_TimestampIsNewestNotNow(t *testing.T) {
	w, clock := newTestWindow(30 * time.Second)

	at := clock.Now()
	w.Add(model.NewReading(20, 50, at, model.Fahrenheit))
	clock.Advance(10 * time.Second)

	avg, ok := w.Average()
	require.True(t, ok)
	assert.Equal(t, at, avg.Time)
	assert.Equal(t, model.Fahrenheit, avg.Unit)
}

func TestAdd_RejectsFaultButPrunes(t *testing.T) {
	w, clock := newTestWindow(5 * time.Second)

	w.Add(model.NewReading(20, 50, clock.Now(), model.Celsius))
	clock.Advance(6 * time.Second)

	added := w.Add(model.FaultReading(clock.Now(), model.Celsius))
	assert.False(t, added)

	w.mu.Lock()
	remaining := len(w.readings)
	w.mu.Unlock()
	assert.Equal(t, 0, remaining, "fault reading should still trigger pruning")
}

func TestAll_ReturnsSnapshot(t *testing.T) {
	w, clock := newTestWindow(30 * time.Second)
	w.Add(model.NewReading(20, 50, clock.Now(), model.Celsius))

	snap := w.All()
	require.Len(t, snap, 1)
	snap[0].Celsius = 99

	again := w.All()
	assert.InDelta(t, 20.0, again[0].Celsius, 0.0001)
}

func TestPrune_PreservesOrder(t *testing.T) {
	w, clock := newTestWindow(10 * time.Second)

	for i := 0; i < 5; i++ {
		w.Add(model.NewReading(float64(i), 50, clock.Now(), model.Celsius))
		clock.Advance(3 * time.Second)
	}

	all := w.All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Celsius, all[i].Celsius)
	}
	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, all[len(all)-1], latest)
}

func TestPrune_AgeBoundHolds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		d := time.Duration(1+rng.Intn(30)) * time.Second
		w, clock := newTestWindow(d)

		for i := 0; i < 40; i++ {
			// timestamps may lag the clock to simulate slow reads
			at := clock.Now().Add(-time.Duration(rng.Intn(5000)) * time.Millisecond)
			w.Add(model.NewReading(rng.Float64()*40, rng.Float64()*100, at, model.Celsius))
			clock.Advance(time.Duration(rng.Intn(4000)) * time.Millisecond)

			var retained []model.Reading
			if rng.Intn(2) == 0 {
				retained = w.All()
			} else {
				w.Average()
				w.mu.Lock()
				retained = append(retained, w.readings...)
				w.mu.Unlock()
			}
			for _, r := range retained {
				assert.LessOrEqual(t, clock.Now().Sub(r.Time), d)
			}
		}
	}
}

func TestLen(t *testing.T) {
	w, clock := newTestWindow(4 * time.Second)
	w.Add(model.NewReading(20, 50, clock.Now(), model.Celsius))
	w.Add(model.NewReading(21, 50, clock.Now(), model.Celsius))
	assert.Equal(t, 2, w.Len())

	clock.Advance(5 * time.Second)
	assert.Equal(t, 0, w.Len())
}
