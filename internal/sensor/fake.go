package sensor

import "sync"

// Sample is one scripted FakeSensor result.
type Sample struct {
	Celsius  float64
	Humidity float64
	Err      error
}

// FakeSensor replays scripted samples, repeating the last one once exhausted.
type FakeSensor struct {
	mu      sync.Mutex
	samples []Sample
	next    int
	reads   int
	closed  bool
}

func NewFakeSensor(samples ...Sample) *FakeSensor {
	return &FakeSensor{samples: samples}
}

// Script replaces the remaining samples.
func (f *FakeSensor) Script(samples ...Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = samples
	f.next = 0
}

func (f *FakeSensor) Read() (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if len(f.samples) == 0 {
		return 0, 0, nil
	}
	s := f.samples[f.next]
	if f.next < len(f.samples)-1 {
		f.next++
	}
	return s.Celsius, s.Humidity, s.Err
}

func (f *FakeSensor) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *FakeSensor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeSensor) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
