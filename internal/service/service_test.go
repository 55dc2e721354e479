package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/terrarium-controller/internal/actuator"
	"github.com/thatsimonsguy/terrarium-controller/internal/config"
	"github.com/thatsimonsguy/terrarium-controller/internal/gpio"
	"github.com/thatsimonsguy/terrarium-controller/internal/model"
	"github.com/thatsimonsguy/terrarium-controller/internal/sensor"
	"github.com/thatsimonsguy/terrarium-controller/internal/thermostat"
)

type fakeSensor struct {
	mu       sync.Mutex
	avg      model.Reading
	ok       bool
	failures int
	spikes   int
	state    sensor.State
	running  atomic.Bool
}

func (f *fakeSensor) Run(ctx context.Context) error {
	f.running.Store(true)
	<-ctx.Done()
	f.running.Store(false)
	return nil
}

func (f *fakeSensor) set(avg model.Reading, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.avg, f.ok = avg, ok
}

func (f *fakeSensor) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *fakeSensor) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ok
}

func (f *fakeSensor) Average() (model.Reading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.avg, f.ok
}

func (f *fakeSensor) Readings() []model.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ok {
		return nil
	}
	return []model.Reading{f.avg}
}

func (f *fakeSensor) Latest() (model.Reading, bool) {
	return f.Average()
}

func (f *fakeSensor) RejectedSpikes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spikes
}

func (f *fakeSensor) State() sensor.State { return sensor.Polling }

func (f *fakeSensor) ConsecutiveFailures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

type countingController struct {
	evaluations atomic.Int32
}

func (c *countingController) Evaluate(model.Reading) []thermostat.Command {
	c.evaluations.Add(1)
	return nil
}

type fakeUplink struct {
	posts  atomic.Int32
	result bool
}

func (f *fakeUplink) PostClimate(context.Context, model.Reading) bool {
	f.posts.Add(1)
	return f.result
}

type fakeJournal struct {
	mu        sync.Mutex
	delivered []bool
}

func (f *fakeJournal) RecordReading(_ model.Reading, delivered bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, delivered)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeNotifier) Alert(_ context.Context, title, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
}

func (f *fakeNotifier) Titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...)
}

var testRelays = []config.Relay{
	{Name: config.HeaterName, Pin: model.RelayPin{Number: 17, Polarity: model.NormallyOpen}, SafeOn: true},
	{Name: config.HumidifierName, Pin: model.RelayPin{Number: 22, Polarity: model.NormallyOpen}, SafeOn: false},
	{Name: config.LampName, Pin: model.RelayPin{Number: 27, Polarity: model.NormallyClosed}, SafeOn: false},
}

type harness struct {
	svc        *Service
	driver     *gpio.FakeDriver
	heater     *actuator.Actuator
	lamp       *actuator.Actuator
	humidifier *actuator.Actuator
	sensor     *fakeSensor
	uplink     *fakeUplink
	journal    *fakeJournal
	notifier   *fakeNotifier
}

func newHarness(controller Controller, opts Options) *harness {
	h := &harness{
		driver:   gpio.NewFakeDriver(),
		sensor:   &fakeSensor{},
		uplink:   &fakeUplink{result: true},
		journal:  &fakeJournal{},
		notifier: &fakeNotifier{},
	}
	h.heater = actuator.New(config.HeaterName, testRelays[0].Pin, h.driver, nil)
	h.humidifier = actuator.New(config.HumidifierName, testRelays[1].Pin, h.driver, nil)
	h.lamp = actuator.New(config.LampName, testRelays[2].Pin, h.driver, nil)

	if controller == nil {
		controller = &countingController{}
	}
	opts.Relays = testRelays
	h.svc = New(Deps{
		Heater:     h.heater,
		Lamp:       h.lamp,
		Humidifier: h.humidifier,
		Sensor:     h.sensor,
		Controller: controller,
		Uplink:     h.uplink,
		Journal:    h.journal,
		Notifier:   h.notifier,
	}, opts)
	h.svc.startupPoll = 5 * time.Millisecond
	return h
}

// unsafe puts every relay in the opposite of its fail-safe state.
func (h *harness) unsafe() {
	h.heater.TurnOff()
	h.lamp.TurnOn()
	h.humidifier.TurnOn()
}

func (h *harness) assertSafe(t *testing.T) {
	t.Helper()
	assert.True(t, h.heater.IsOn(), "heater")
	assert.False(t, h.lamp.IsOn(), "lamp")
	assert.False(t, h.humidifier.IsOn(), "humidifier")
}

func reading(c, hum float64) model.Reading {
	return model.NewReading(c, hum, time.Now(), model.Fahrenheit)
}

func TestStop_AppliesFailSafe(t *testing.T) {
	h := newHarness(nil, Options{LoopInterval: time.Millisecond})
	h.unsafe()

	h.svc.Stop()
	h.assertSafe(t)
	assert.True(t, h.svc.Stopping())

	h.svc.Stop() // idempotent
	h.assertSafe(t)
}

func TestRun_StopEndsLoopSafely(t *testing.T) {
	ctrl := &countingController{}
	h := newHarness(ctrl, Options{LoopInterval: 5 * time.Millisecond})
	h.sensor.set(reading(24, 60), true)

	done := make(chan error, 1)
	go func() { done <- h.svc.Run(context.Background()) }()

	require.Eventually(t, func() bool { return ctrl.evaluations.Load() >= 3 }, time.Second, time.Millisecond)
	h.lamp.TurnOn()

	h.svc.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	h.assertSafe(t)
	n := ctrl.evaluations.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, ctrl.evaluations.Load(), "no ticks after stop")
	assert.False(t, h.sensor.running.Load(), "sensor loop stopped")
	assert.Contains(t, h.notifier.Titles(), "Terrarium controller stopped")
}

func TestRun_ContextCancelAppliesFailSafe(t *testing.T) {
	h := newHarness(nil, Options{LoopInterval: 5 * time.Millisecond})
	h.sensor.set(reading(24, 60), true)
	h.unsafe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	require.Eventually(t, h.sensor.running.Load, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	h.assertSafe(t)
}

func TestRun_WaitsForSensor(t *testing.T) {
	ctrl := &countingController{}
	h := newHarness(ctrl, Options{LoopInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), ctrl.evaluations.Load(), "no control before the first reading")

	h.sensor.set(reading(24, 60), true)
	require.Eventually(t, func() bool { return ctrl.evaluations.Load() >= 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_StopBeforeRun(t *testing.T) {
	h := newHarness(nil, Options{LoopInterval: time.Millisecond})
	h.svc.Stop()
	h.unsafe()

	require.NoError(t, h.svc.Run(context.Background()))
	h.assertSafe(t)
	assert.Equal(t, int32(0), h.uplink.posts.Load())
}

func TestTick_Cadence(t *testing.T) {
	ctrl := &countingController{}
	h := newHarness(ctrl, Options{
		LoopInterval:     time.Minute,
		HardwareInterval: time.Minute,
		UploadInterval:   5 * time.Minute,
	})
	h.sensor.set(reading(24, 60), true)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	h.svc.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i <= 5; i++ {
		now = base.Add(time.Duration(i) * time.Minute)
		h.svc.tick(ctx)
	}

	assert.Equal(t, int32(6), ctrl.evaluations.Load())
	assert.Equal(t, int32(2), h.uplink.posts.Load(), "uploads at 0 and 5 minutes")
	assert.Equal(t, []bool{true, true}, h.journal.delivered)
}

func TestTick_NoAverageSkips(t *testing.T) {
	ctrl := &countingController{}
	h := newHarness(ctrl, Options{})

	h.svc.tick(context.Background())
	assert.Equal(t, int32(0), ctrl.evaluations.Load())
	assert.Equal(t, int32(0), h.uplink.posts.Load())
}

func TestTick_UplinkFailureLeavesActuators(t *testing.T) {
	settings := thermostat.Settings{
		DesiredTemp: 75, TempRange: 3,
		DesiredHumidity: 55, HumidityRange: 10,
		DayStart: 8, DayEnd: 20,
		SprayDuration: time.Millisecond,
		Unit:          model.Fahrenheit,
	}
	h := newHarness(nil, Options{})
	ctrl := thermostat.NewController(h.heater, h.lamp, h.humidifier, settings)
	h.svc.deps.Controller = ctrl
	h.uplink.result = false
	h.sensor.set(reading(30, 60), true)

	h.heater.TurnOn()
	h.lamp.TurnOff()

	// 30°C is 86°F: too hot at any hour, heater goes off first
	h.svc.tick(context.Background())

	assert.False(t, h.heater.IsOn())
	assert.False(t, h.lamp.IsOn())
	assert.Equal(t, int32(1), h.uplink.posts.Load())
	assert.Equal(t, []bool{false}, h.journal.delivered)
}

func TestTick_RecoversFromPanic(t *testing.T) {
	h := newHarness(panicController{}, Options{})
	h.sensor.set(reading(24, 60), true)

	assert.NotPanics(t, func() { h.svc.tick(context.Background()) })
}

type panicController struct{}

func (panicController) Evaluate(model.Reading) []thermostat.Command { panic("bad relay map") }

func TestCheckSensorHealth_AlertsOnce(t *testing.T) {
	h := newHarness(nil, Options{OutageAlertFailures: 3})
	ctx := context.Background()

	h.sensor.setFailures(2)
	h.svc.tick(ctx)
	assert.Empty(t, h.notifier.Titles())

	h.sensor.setFailures(3)
	h.svc.tick(ctx)
	h.sensor.setFailures(4)
	h.svc.tick(ctx)
	assert.Equal(t, []string{"Terrarium sensor outage"}, h.notifier.Titles())

	h.sensor.setFailures(0)
	h.svc.tick(ctx)
	h.sensor.setFailures(5)
	h.svc.tick(ctx)
	assert.Len(t, h.notifier.Titles(), 2, "alert re-arms after recovery")
}

func TestStatus(t *testing.T) {
	h := newHarness(nil, Options{SafeMode: true})
	h.sensor.set(model.NewReading(24, 60, time.Now(), model.Fahrenheit), true)
	h.sensor.spikes = 2
	h.lamp.TurnOn()

	st := h.svc.Status()
	assert.True(t, st.SafeMode)
	assert.False(t, st.Stopping)
	require.NotNil(t, st.Average)
	assert.Equal(t, 75.2, st.Average.Temperature)
	assert.Equal(t, "polling", st.Sensor.State)
	assert.Equal(t, 1, st.Sensor.WindowReadings)
	assert.Equal(t, 2, st.Sensor.RejectedSpikes)
	require.NotNil(t, st.Latest)
	assert.Equal(t, 75.2, st.Latest.Temperature)

	require.Len(t, st.Devices, 3)
	assert.Equal(t, config.HeaterName, st.Devices[0].Name)
	assert.Equal(t, config.LampName, st.Devices[2].Name)
	assert.True(t, st.Devices[2].On)
}

type recordingSink struct {
	events []model.DeviceEvent
}

func (r *recordingSink) DeviceEvent(e model.DeviceEvent) { r.events = append(r.events, e) }

func TestFanout(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := Fanout{a, nil, b, MetricsSink{}}

	e := model.NewDeviceEvent("Lamp", model.EventOn, time.Now())
	f.DeviceEvent(e)

	assert.Equal(t, []model.DeviceEvent{e}, a.events)
	assert.Equal(t, []model.DeviceEvent{e}, b.events)
}
