//go:build !linux

package gpio

import "errors"

// CDevDriver is not available on non-Linux platforms.
type CDevDriver struct{}

func NewCDevDriver(chipName string) (*CDevDriver, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

func (d *CDevDriver) Read(pin int) (bool, error) {
	return false, errors.New("gpio: not supported")
}

func (d *CDevDriver) Write(pin int, high bool) error {
	return errors.New("gpio: not supported")
}

func (d *CDevDriver) Close() error {
	return nil
}
