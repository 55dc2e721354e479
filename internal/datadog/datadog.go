package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"
)

type statsdClient interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Incr(name string, tags []string, rate float64) error
	Close() error
}

// Metrics emits DogStatsD metrics. A nil *Metrics is valid and drops everything,
// so callers never need to check whether metrics are enabled.
type Metrics struct {
	client statsdClient
}

func New(addr, namespace string, tags []string) (*Metrics, error) {
	c, err := statsd.New(addr)
	if err != nil {
		return nil, err
	}
	c.Namespace = namespace
	c.Tags = tags

	log.Info().
		Str("addr", addr).
		Str("namespace", namespace).
		Strs("tags", tags).
		Msg("Datadog metrics initialized")

	return &Metrics{client: c}, nil
}

func (m *Metrics) Gauge(name string, value float64, tags ...string) {
	if m == nil || m.client == nil {
		return
	}
	if err := m.client.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (m *Metrics) Incr(name string, tags ...string) {
	if m == nil || m.client == nil {
		return
	}
	if err := m.client.Incr(name, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
	}
}

// Bool gauges a boolean as 1 or 0.
func (m *Metrics) Bool(name string, v bool, tags ...string) {
	value := 0.0
	if v {
		value = 1
	}
	m.Gauge(name, value, tags...)
}

func (m *Metrics) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}
