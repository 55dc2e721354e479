package gpio

import (
	"sync"
)

// FakeDriver is an in-memory Driver for tests and bench runs without hardware.
type FakeDriver struct {
	mu     sync.Mutex
	levels map[int]bool
	writes []WriteCall

	// ReadError and WriteError, when set, are returned by every call.
	ReadError  error
	WriteError error

	Closed bool
}

// WriteCall records one call to FakeDriver.Write.
type WriteCall struct {
	Pin  int
	High bool
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{levels: map[int]bool{}}
}

// SetLevel forces a pin level without recording a write.
func (f *FakeDriver) SetLevel(pin int, high bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[pin] = high
}

func (f *FakeDriver) Level(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

func (f *FakeDriver) Writes() []WriteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WriteCall, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *FakeDriver) Read(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return false, f.ReadError
	}
	return f.levels[pin], nil
}

func (f *FakeDriver) Write(pin int, high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	f.levels[pin] = high
	f.writes = append(f.writes, WriteCall{Pin: pin, High: high})
	return nil
}

func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
