package sensor

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
	rpio "github.com/stianeikeland/go-rpio/v4"
)

const (
	maxPulseSpins = int64(time.Millisecond) // busy-loop iterations before a pulse is abandoned
	dhtRetries    = 3
	dhtRetryDelay = 2 * time.Second
)

// DHT22 bit-bangs an AM2302/DHT22 on a single data pin through /dev/gpiomem.
type DHT22 struct {
	pin     rpio.Pin
	retries int
}

func NewDHT22(pin int) (*DHT22, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio memory: %w", err)
	}
	return &DHT22{pin: rpio.Pin(pin), retries: dhtRetries}, nil
}

// Read attempts a measurement, retrying failed frames. The GC is paused for the
// duration because a collection mid-frame corrupts the pulse timings.
func (d *DHT22) Read() (float64, float64, error) {
	defer pauseGC()()

	var lastErr error
	for attempt := 0; attempt < d.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(dhtRetryDelay)
		}
		pulses, err := d.capture()
		if err != nil {
			lastErr = err
			continue
		}
		celsius, humidity, err := decodePulses(pulses)
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Int("attempt", attempt+1).Msg("Discarding DHT22 frame")
			continue
		}
		return celsius, humidity, nil
	}
	return 0, 0, fmt.Errorf("dht22 on pin %d: %w", int(d.pin), lastErr)
}

// capture sends the start signal and records the length of the 41 low/high pulse pairs.
func (d *DHT22) capture() ([]int64, error) {
	pulses := make([]int64, 82)

	d.pin.Mode(rpio.Output)
	d.pin.High()
	time.Sleep(250 * time.Millisecond)
	d.pin.Low()

	// hold low to request a reading
	start := time.Now()
	for time.Since(start) < 1100*time.Microsecond {
	}
	d.pin.Mode(rpio.Input)
	d.pin.PullUp()
	defer d.pin.PullOff()

	start = time.Now()
	for d.pin.Read() == rpio.High {
		if time.Since(start) > 5*time.Millisecond {
			return nil, fmt.Errorf("sensor did not respond")
		}
	}

	for i := 0; i < 82; i += 2 {
		var n int64
		for d.pin.Read() == rpio.Low {
			if n > maxPulseSpins {
				return nil, fmt.Errorf("pulse %d stuck low", i/2)
			}
			n++
		}
		pulses[i] = n

		n = 0
		for d.pin.Read() == rpio.High {
			if n > maxPulseSpins {
				if i == 80 {
					break // line idles high after the final bit
				}
				return nil, fmt.Errorf("pulse %d stuck high", i/2)
			}
			n++
		}
		pulses[i+1] = n
	}
	return pulses, nil
}

func (d *DHT22) Close() error {
	// /dev/gpiomem stays mapped; the relay backend may share it.
	return nil
}

// decodePulses turns captured pulse lengths into a reading. Index 0/1 is the
// sensor's response pulse; each following pair is one bit whose high length is
// compared against the mean low length.
func decodePulses(pulses []int64) (float64, float64, error) {
	if len(pulses) < 82 {
		return 0, 0, fmt.Errorf("short frame: %d pulses", len(pulses))
	}

	var threshold int64
	for i := 2; i < 82; i += 2 {
		threshold += pulses[i]
	}
	threshold /= 40

	var frame [5]byte
	for i := 3; i < 82; i += 2 {
		b := (i - 3) / 16
		frame[b] <<= 1
		if pulses[i] > threshold {
			frame[b] |= 0x01
		}
	}
	return decodeFrame(frame)
}

func decodeFrame(frame [5]byte) (float64, float64, error) {
	if frame[0]+frame[1]+frame[2]+frame[3] != frame[4] {
		return 0, 0, ErrChecksum
	}

	humidity := float64(uint16(frame[0])<<8|uint16(frame[1])) / 10.0
	celsius := float64(uint16(frame[2]&0x7F)<<8|uint16(frame[3])) / 10.0
	if frame[2]&0x80 != 0 {
		celsius = -celsius
	}

	if err := validate(celsius, humidity); err != nil {
		return 0, 0, err
	}
	return celsius, humidity, nil
}

// pauseGC disables collection and returns a func restoring the previous setting.
func pauseGC() func() {
	prev := debug.SetGCPercent(-1)
	return func() { debug.SetGCPercent(prev) }
}
