package shutdown

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSwitch struct {
	name string
	log  *[]string
}

func (r recordingSwitch) TurnOn() bool {
	*r.log = append(*r.log, r.name+":on")
	return true
}

func (r recordingSwitch) TurnOff() bool {
	*r.log = append(*r.log, r.name+":off")
	return true
}

func TestFailSafe_AppliesInOrder(t *testing.T) {
	var calls []string
	targets := []Target{
		{Name: "Heater", Switch: recordingSwitch{"heater", &calls}, On: true},
		{Name: "Missing"},
		{Name: "Humidifier", Switch: recordingSwitch{"humidifier", &calls}},
		{Name: "Lamp", Switch: recordingSwitch{"lamp", &calls}},
	}

	FailSafe(targets)
	assert.Equal(t, []string{"heater:on", "humidifier:off", "lamp:off"}, calls)
}

func TestShutdownWithError_Exits(t *testing.T) {
	prev := exit
	defer func() { exit = prev }()

	var code int
	exit = func(c int) { code = c }

	var calls []string
	ShutdownWithError(errors.New("boom"), "Startup failed", []Target{
		{Name: "Heater", Switch: recordingSwitch{"heater", &calls}, On: true},
	})

	assert.Equal(t, 1, code)
	assert.Equal(t, []string{"heater:on"}, calls)
}
