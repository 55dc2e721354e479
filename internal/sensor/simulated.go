package sensor

import (
	"math/rand"
	"sync"
	"time"
)

// Simulated produces plausible terrarium values for bench runs without a probe.
type Simulated struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulated() *Simulated {
	return &Simulated{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *Simulated) Read() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return 20 + s.rnd.Float64()*10, 60 + s.rnd.Float64()*10, nil
}

func (s *Simulated) Close() error { return nil }
