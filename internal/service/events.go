package service

import (
	"github.com/thatsimonsguy/terrarium-controller/internal/actuator"
	"github.com/thatsimonsguy/terrarium-controller/internal/datadog"
	"github.com/thatsimonsguy/terrarium-controller/internal/model"
)

// Fanout delivers each device event to every sink in order.
type Fanout []actuator.EventSink

func (f Fanout) DeviceEvent(e model.DeviceEvent) {
	for _, sink := range f {
		if sink != nil {
			sink.DeviceEvent(e)
		}
	}
}

// MetricsSink counts device transitions.
type MetricsSink struct {
	Metrics *datadog.Metrics
}

func (m MetricsSink) DeviceEvent(e model.DeviceEvent) {
	m.Metrics.Incr("device.transition", "device:"+e.Name, "event:"+string(e.Event))
}
