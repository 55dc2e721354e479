package gpio

import (
	"fmt"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// RPIODriver drives pins through /dev/gpiomem using go-rpio.
type RPIODriver struct {
	mu      sync.Mutex
	outputs map[int]bool
}

func NewRPIODriver() (*RPIODriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio memory: %w", err)
	}
	return &RPIODriver{outputs: map[int]bool{}}, nil
}

func (d *RPIODriver) Read(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return rpio.Pin(pin).Read() == rpio.High, nil
}

func (d *RPIODriver) Write(pin int, high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := rpio.Pin(pin)
	if !d.outputs[pin] {
		p.Output()
		d.outputs[pin] = true
	}
	if high {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (d *RPIODriver) Close() error {
	return rpio.Close()
}
