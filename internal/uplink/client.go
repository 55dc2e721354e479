// Package uplink reports climate readings and device events to the remote
// collector. Nothing here ever blocks control of the hardware: failures are
// logged, counted and dropped.
package uplink

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/terrarium-controller/internal/datadog"
	"github.com/thatsimonsguy/terrarium-controller/internal/model"
)

type Options struct {
	BaseURL         string // http://host:port
	SocketURL       string // ws://host:port/endpoint; empty disables live telemetry
	ClimateEndpoint string
	DeviceEndpoint  string
	User            string
	Password        string
	Timeout         time.Duration
}

type Client struct {
	poster          *Poster
	socket          *Socket
	mirror          Publisher
	metrics         *datadog.Metrics
	climateEndpoint string
	deviceEndpoint  string
	timeout         time.Duration

	pending sync.WaitGroup
}

// New builds a client. mirror and metrics may be nil.
func New(opts Options, mirror Publisher, metrics *datadog.Metrics) *Client {
	c := &Client{
		poster:          NewPoster(opts.BaseURL, opts.User, opts.Password, opts.Timeout),
		mirror:          mirror,
		metrics:         metrics,
		climateEndpoint: opts.ClimateEndpoint,
		deviceEndpoint:  opts.DeviceEndpoint,
		timeout:         opts.Timeout,
	}
	if opts.SocketURL != "" {
		c.socket = NewSocket(opts.SocketURL, opts.User, opts.Password, opts.Timeout)
	}
	return c
}

// PostClimate uploads an averaged reading.
func (c *Client) PostClimate(ctx context.Context, r model.Reading) bool {
	payload := r.Payload()
	c.publish("climate", payload)

	ok := c.poster.Post(ctx, c.climateEndpoint, payload)
	if !ok {
		c.metrics.Incr("uplink.post.failed", "endpoint:climate")
	}
	return ok
}

// PostDeviceEvent uploads a device state change.
func (c *Client) PostDeviceEvent(ctx context.Context, e model.DeviceEvent) bool {
	payload := e.Payload()
	c.publish("device", payload)

	ok := c.poster.Post(ctx, c.deviceEndpoint, payload)
	if !ok {
		c.metrics.Incr("uplink.post.failed", "endpoint:device")
	}
	return ok
}

// DeviceEvent reports e in the background so the actuator that produced it is
// never held up by the network.
func (c *Client) DeviceEvent(e model.DeviceEvent) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.PostDeviceEvent(ctx, e)
	}()
}

// SendLive pushes an averaged reading over the WebSocket channel.
func (c *Client) SendLive(ctx context.Context, r model.Reading) bool {
	if c.socket == nil {
		return false
	}
	ok := c.socket.Send(ctx, r.Payload())
	if !ok {
		c.metrics.Incr("uplink.socket.failed")
	}
	return ok
}

func (c *Client) publish(subtopic string, payload map[string]any) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.Publish(subtopic, payload); err != nil {
		log.Warn().Err(err).Str("subtopic", subtopic).Msg("Failed to mirror payload")
	}
}

// Flush waits for background device-event uploads to finish.
func (c *Client) Flush() {
	c.pending.Wait()
}

// Close flushes outstanding uploads and releases the socket and mirror.
func (c *Client) Close() error {
	c.Flush()
	if c.socket != nil {
		if err := c.socket.Close(); err != nil {
			log.Debug().Err(err).Msg("Socket close")
		}
	}
	if c.mirror != nil {
		return c.mirror.Close()
	}
	return nil
}
