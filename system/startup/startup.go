// Package startup writes the boot-time pin script and systemd units.
package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/terrarium-controller/internal/config"
	"github.com/thatsimonsguy/terrarium-controller/internal/gpio"
	"github.com/thatsimonsguy/terrarium-controller/internal/pinctrl"
)

// BootScript renders a script that drives every relay to its fail-safe level
// before the controller starts.
func BootScript(relays []config.Relay) string {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# Terrarium relay fail-safe levels at boot", "")

	for _, r := range relays {
		args := pinctrl.OutputArgs(r.Pin.LevelFor(r.SafeOn))
		state := "off"
		if r.SafeOn {
			state = "on"
		}
		lines = append(lines, fmt.Sprintf("# %s (%s, safe %s)", r.Name, r.Pin.Polarity, state))
		lines = append(lines, fmt.Sprintf("pinctrl set %d %s", r.Pin.Number, strings.Join(args, " ")))
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n") + "\n"
}

func WriteBootScript(path string, relays []config.Relay) error {
	return os.WriteFile(path, []byte(BootScript(relays)), 0755)
}

func BootUnit(scriptPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Drive terrarium relays to fail-safe levels at boot
After=local-fs.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, scriptPath)
}

func InstallBootService(unitPath, scriptPath string) error {
	return os.WriteFile(unitPath, []byte(BootUnit(scriptPath)), 0644)
}

type ServiceOptions struct {
	User      string
	WorkDir   string
	ExecStart string
	BootUnit  string // path or name of the boot unit this service requires
}

func ControllerUnit(opts ServiceOptions) string {
	bootUnit := filepath.Base(opts.BootUnit)

	return fmt.Sprintf(`[Unit]
Description=Terrarium climate controller
After=%s network-online.target
Requires=%s
Wants=network-online.target

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStart=%s
KillSignal=SIGTERM
TimeoutStopSec=30s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, bootUnit, bootUnit, opts.User, opts.WorkDir, opts.ExecStart)
}

func InstallControllerService(unitPath string, opts ServiceOptions) error {
	return os.WriteFile(unitPath, []byte(ControllerUnit(opts)), 0644)
}

var runScript = func(path string) error {
	cmd := exec.Command("/bin/bash", path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func RunBootScript(path string) error {
	return runScript(path)
}

// CheckSafeLevels reports relays whose current level differs from their
// fail-safe level, which means the boot script did not run.
func CheckSafeLevels(d gpio.Driver, relays []config.Relay) ([]string, error) {
	var unsafe []string
	for _, r := range relays {
		level, err := d.Read(r.Pin.Number)
		if err != nil {
			return nil, fmt.Errorf("read %s pin %d: %w", r.Name, r.Pin.Number, err)
		}
		if r.Pin.IsOn(level) != r.SafeOn {
			log.Warn().Str("device", r.Name).Int("pin", r.Pin.Number).Bool("safe_on", r.SafeOn).Msg("Relay not at fail-safe level")
			unsafe = append(unsafe, r.Name)
		}
	}
	return unsafe, nil
}
