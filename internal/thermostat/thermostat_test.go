package thermostat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/terrarium-controller/internal/actuator"
	"github.com/thatsimonsguy/terrarium-controller/internal/gpio"
	"github.com/thatsimonsguy/terrarium-controller/internal/model"
)

var testSettings = Settings{
	DesiredTemp:     75,
	TempRange:       3,
	DesiredHumidity: 55,
	HumidityRange:   10,
	DayStart:        8,
	DayEnd:          20,
	SprayDuration:   10 * time.Second,
	Unit:            model.Fahrenheit,
}

func readingF(f, humidity float64) model.Reading {
	return model.NewReading(model.FahrenheitToCelsius(f), humidity, time.Now(), model.Fahrenheit)
}

func TestIsDaytime(t *testing.T) {
	tests := []struct {
		hour int
		want bool
	}{
		{7, false},
		{8, false},
		{9, true},
		{19, true},
		{20, false},
		{23, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsDaytime(tt.hour, 8, 20), "hour %d", tt.hour)
	}

	// midnight-spanning schedules are not supported
	assert.False(t, IsDaytime(23, 22, 6))
	assert.False(t, IsDaytime(2, 22, 6))
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		temp  float64
		hum   float64
		state State
		hour  int
		want  []Command
	}{
		{
			name: "day cold lamp off turns lamp on",
			temp: 70, hum: 55, hour: 12,
			want: []Command{{Device: Lamp, Op: On}},
		},
		{
			name: "day cold lamp on turns heater on",
			temp: 70, hum: 55, hour: 12,
			state: State{LampOn: true},
			want:  []Command{{Device: Heater, Op: On}},
		},
		{
			name: "night cold forces lamp off then heater on",
			temp: 70, hum: 55, hour: 22,
			state: State{LampOn: true},
			want:  []Command{{Device: Lamp, Op: Off}, {Device: Heater, Op: On}},
		},
		{
			name: "day hot heater on turns heater off",
			temp: 80, hum: 55, hour: 12,
			state: State{LampOn: true, HeaterOn: true},
			want:  []Command{{Device: Heater, Op: Off}},
		},
		{
			name: "day hot heater off turns lamp off",
			temp: 80, hum: 55, hour: 12,
			state: State{LampOn: true},
			want:  []Command{{Device: Lamp, Op: Off}},
		},
		{
			name: "night hot turns heater off",
			temp: 80, hum: 55, hour: 2,
			state: State{HeaterOn: true},
			want:  []Command{{Device: Lamp, Op: Off}, {Device: Heater, Op: Off}},
		},
		{
			name: "day in range does nothing",
			temp: 75, hum: 55, hour: 12,
			state: State{LampOn: true},
			want:  nil,
		},
		{
			name: "humidity bound is exclusive",
			temp: 74, hum: 45, hour: 12,
			want: nil,
		},
		{
			name: "dry sprays regardless of temperature",
			temp: 70, hum: 40, hour: 12,
			state: State{LampOn: true},
			want: []Command{
				{Device: Heater, Op: On},
				{Device: Humidifier, Op: Pulse, Duration: 10 * time.Second},
			},
		},
		{
			name: "impossible humidity ignored",
			temp: 75, hum: -1, hour: 12,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(readingF(tt.temp, tt.hum), tt.state, tt.hour, testSettings)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecide_ComparesInSettingsUnit(t *testing.T) {
	s := testSettings
	s.Unit = model.Celsius
	s.DesiredTemp = 24
	s.TempRange = 1

	// 21°C is too cold against 24±1°C
	cmds := Decide(model.NewReading(21, 60, time.Now(), model.Celsius), State{}, 12, s)
	assert.Equal(t, []Command{{Device: Lamp, Op: On}}, cmds)

	// exactly desired-range is not too cold
	cmds = Decide(model.NewReading(23, 60, time.Now(), model.Celsius), State{}, 12, s)
	assert.Empty(t, cmds)
	cmds = Decide(model.NewReading(25, 60, time.Now(), model.Celsius), State{}, 12, s)
	assert.Empty(t, cmds)
}

type fakeSwitch struct {
	on     bool
	pulses []time.Duration
	events int
}

func (f *fakeSwitch) IsOn() bool { return f.on }

func (f *fakeSwitch) TurnOn() bool {
	if f.on {
		return false
	}
	f.on = true
	f.events++
	return true
}

func (f *fakeSwitch) TurnOff() bool {
	if !f.on {
		return false
	}
	f.on = false
	f.events++
	return true
}

func (f *fakeSwitch) Pulse(d time.Duration) { f.pulses = append(f.pulses, d) }

func newTestController(hour int) (*Controller, *fakeSwitch, *fakeSwitch, *fakeSwitch) {
	heater, lamp, hum := &fakeSwitch{}, &fakeSwitch{}, &fakeSwitch{}
	c := NewController(heater, lamp, hum, testSettings)
	c.now = func() time.Time { return time.Date(2024, 6, 1, hour, 30, 0, 0, time.Local) }
	return c, heater, lamp, hum
}

func TestController_DayEscalatesOverTwoTicks(t *testing.T) {
	c, heater, lamp, _ := newTestController(12)
	cold := readingF(70, 55)

	c.Evaluate(cold)
	assert.True(t, lamp.on)
	assert.False(t, heater.on)

	c.Evaluate(cold)
	assert.True(t, lamp.on)
	assert.True(t, heater.on)
}

func TestController_DayDeescalatesOverTwoTicks(t *testing.T) {
	c, heater, lamp, _ := newTestController(12)
	heater.on, lamp.on = true, true
	hot := readingF(80, 55)

	c.Evaluate(hot)
	assert.False(t, heater.on)
	assert.True(t, lamp.on)

	c.Evaluate(hot)
	assert.False(t, lamp.on)
}

func TestController_NightUsesHeaterOnly(t *testing.T) {
	c, heater, lamp, _ := newTestController(22)
	lamp.on = true

	c.Evaluate(readingF(70, 55))
	assert.False(t, lamp.on)
	assert.True(t, heater.on)
}

func TestController_Humidity(t *testing.T) {
	c, _, _, hum := newTestController(12)

	c.Evaluate(readingF(75, 40))
	require.Len(t, hum.pulses, 1)
	assert.Equal(t, 10*time.Second, hum.pulses[0])

	c.Evaluate(readingF(75, 55))
	assert.Len(t, hum.pulses, 1, "in-range humidity does not spray")
}

func TestController_WithActuators(t *testing.T) {
	driver := gpio.NewFakeDriver()
	heater := actuator.New("Heater", model.RelayPin{Number: 17, Polarity: model.NormallyOpen}, driver, nil)
	lamp := actuator.New("Lamp", model.RelayPin{Number: 27, Polarity: model.NormallyClosed}, driver, nil)
	hum := actuator.New("Humidifier", model.RelayPin{Number: 22, Polarity: model.NormallyOpen}, driver, nil)
	driver.SetLevel(27, true) // lamp off

	c := NewController(heater, lamp, hum, testSettings)
	c.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local) }

	c.Evaluate(readingF(70, 55))
	assert.True(t, lamp.IsOn())
	assert.False(t, driver.Level(27), "normally closed lamp is on when the pin is low")
	assert.False(t, heater.IsOn())

	c.Evaluate(readingF(70, 55))
	assert.True(t, heater.IsOn())
}
