//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// CDevDriver drives pins through the Linux GPIO character device.
type CDevDriver struct {
	mu      sync.Mutex
	chip    *gpiocdev.Chip
	lines   map[int]*gpiocdev.Line
	outputs map[int]bool
}

func NewCDevDriver(chipName string) (*CDevDriver, error) {
	if chipName == "" {
		chipName = "gpiochip0"
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &CDevDriver{
		chip:    chip,
		lines:   map[int]*gpiocdev.Line{},
		outputs: map[int]bool{},
	}, nil
}

// line requests the pin as-is so that reading it never disturbs a relay.
func (d *CDevDriver) line(pin int) (*gpiocdev.Line, error) {
	if l, ok := d.lines[pin]; ok {
		return l, nil
	}
	l, err := d.chip.RequestLine(pin, gpiocdev.AsIs)
	if err != nil {
		return nil, fmt.Errorf("request pin %d: %w", pin, err)
	}
	d.lines[pin] = l
	return l, nil
}

func (d *CDevDriver) Read(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, err := d.line(pin)
	if err != nil {
		return false, err
	}
	v, err := l.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v == 1, nil
}

func (d *CDevDriver) Write(pin int, high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, err := d.line(pin)
	if err != nil {
		return err
	}
	v := 0
	if high {
		v = 1
	}
	if !d.outputs[pin] {
		if err := l.Reconfigure(gpiocdev.AsOutput(v)); err != nil {
			return fmt.Errorf("configure pin %d as output: %w", pin, err)
		}
		d.outputs[pin] = true
		return nil
	}
	if err := l.SetValue(v); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Close releases the lines without reconfiguring them, so relays keep the level
// they were last driven to.
func (d *CDevDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for pin, l := range d.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	d.lines = map[int]*gpiocdev.Line{}
	if err := d.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
