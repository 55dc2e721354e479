package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/terrarium-controller/db"
	"github.com/thatsimonsguy/terrarium-controller/internal/actuator"
	"github.com/thatsimonsguy/terrarium-controller/internal/config"
	"github.com/thatsimonsguy/terrarium-controller/internal/gpio"
	"github.com/thatsimonsguy/terrarium-controller/internal/logging"
	"github.com/thatsimonsguy/terrarium-controller/internal/model"
	"github.com/thatsimonsguy/terrarium-controller/internal/pinctrl"
	"github.com/thatsimonsguy/terrarium-controller/internal/sensor"
	"github.com/thatsimonsguy/terrarium-controller/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var configFile, command, device, state, dbPath, scriptPath, bootUnit, mainUnit, user, workdir, execStart string
	var seconds, limit, pin int
	var apply bool
	flag.StringVar(&configFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&command, "cmd", "", "Command to run: read-sensor, set-actuator, pulse, dump-pins, tail-journal, write-boot-script, install-services")
	flag.StringVar(&device, "device", "", "Device for actuator commands: heater, lamp, humidifier")
	flag.StringVar(&state, "state", "", "State for set-actuator: on, off")
	flag.IntVar(&seconds, "seconds", 5, "Pulse length in seconds")
	flag.StringVar(&dbPath, "db", "", "Journal path (defaults to journal_path from config)")
	flag.IntVar(&limit, "limit", 20, "Rows to show for tail-journal")
	flag.IntVar(&pin, "pin", -1, "GPIO pin for dump-pins (all pins when negative)")
	flag.BoolVar(&apply, "apply", false, "Run the boot script after write-boot-script")
	flag.StringVar(&scriptPath, "script", "/usr/local/bin/terrarium-gpio.sh", "Boot script path")
	flag.StringVar(&bootUnit, "boot-unit", "/etc/systemd/system/terrarium-gpio.service", "Boot unit path")
	flag.StringVar(&mainUnit, "main-unit", "/etc/systemd/system/terrarium-controller.service", "Controller unit path")
	flag.StringVar(&user, "user", "pi", "User the controller service runs as")
	flag.StringVar(&workdir, "workdir", "/home/pi/terrarium-controller", "Controller working directory")
	flag.StringVar(&execStart, "exec", "/usr/local/bin/terrarium-controller -config-file /etc/terrarium/config.json", "Controller command line")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of terrarium-debug:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	logging.Init(zerolog.WarnLevel, "")
	cfg := config.LoadFile(configFile)

	var err error
	switch command {
	case "read-sensor":
		err = readSensor(cfg)
	case "set-actuator":
		err = setActuator(cfg, device, state)
	case "pulse":
		err = pulse(cfg, device, time.Duration(seconds)*time.Second)
	case "dump-pins":
		err = dumpPins(pin)
	case "tail-journal":
		if dbPath == "" {
			dbPath = cfg.JournalPath
		}
		if dbPath == "" {
			fmt.Println("Error: no journal path configured")
			os.Exit(1)
		}
		err = db.TailCLI(dbPath, limit, os.Stdout)
	case "write-boot-script":
		err = startup.WriteBootScript(scriptPath, cfg.GPIO.Relays())
		if err == nil && apply {
			if cfg.SafeMode {
				fmt.Println("Safe mode enabled, boot script written but not applied")
			} else {
				err = startup.RunBootScript(scriptPath)
			}
		}
	case "install-services":
		err = installServices(scriptPath, bootUnit, mainUnit, startup.ServiceOptions{
			User:      user,
			WorkDir:   workdir,
			ExecStart: execStart,
			BootUnit:  bootUnit,
		})
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", command)
}

func readSensor(cfg config.Config) error {
	var probe sensor.Sensor
	if cfg.Sensor.Simulate {
		probe = sensor.NewSimulated()
	} else {
		dht, err := sensor.NewDHT22(*cfg.GPIO.DHT22)
		if err != nil {
			return err
		}
		probe = dht
	}
	defer probe.Close()

	c, h, err := probe.Read()
	if err != nil {
		return err
	}
	fmt.Println(model.NewReading(c, h, time.Now(), cfg.Unit()))
	return nil
}

func openActuator(cfg config.Config, device string) (*actuator.Actuator, gpio.Driver, error) {
	var pin *config.Pin
	var name string
	switch device {
	case "heater":
		pin, name = cfg.GPIO.Heater, config.HeaterName
	case "lamp":
		pin, name = cfg.GPIO.Lamp, config.LampName
	case "humidifier":
		pin, name = cfg.GPIO.Humidifier, config.HumidifierName
	default:
		return nil, nil, fmt.Errorf("unknown device %q", device)
	}

	driver, err := gpio.Open(gpio.Backend(cfg.GPIO.Backend), cfg.GPIO.Chip)
	if err != nil {
		return nil, nil, err
	}
	if cfg.SafeMode {
		driver = gpio.WithSafeMode(driver)
	}
	return actuator.New(name, pin.RelayPin(), driver, nil), driver, nil
}

func setActuator(cfg config.Config, device, state string) error {
	a, driver, err := openActuator(cfg, device)
	if err != nil {
		return err
	}
	defer driver.Close()

	switch state {
	case "on":
		a.TurnOn()
	case "off":
		a.TurnOff()
	default:
		return fmt.Errorf("state must be on or off, got %q", state)
	}
	fmt.Printf("%s is now %s\n", a.Name(), onOff(a.IsOn()))
	return nil
}

func pulse(cfg config.Config, device string, d time.Duration) error {
	a, driver, err := openActuator(cfg, device)
	if err != nil {
		return err
	}
	defer driver.Close()

	a.Pulse(d)
	fmt.Printf("%s pulsed for %s\n", a.Name(), d)
	a.Wait()
	fmt.Printf("%s is now %s\n", a.Name(), onOff(a.IsOn()))
	return nil
}

func dumpPins(pin int) error {
	if pin >= 0 {
		st, err := pinctrl.ReadPin(pin)
		if err != nil {
			return err
		}
		printPin(*st)
		return nil
	}

	all, err := pinctrl.ReadAllPins()
	if err != nil {
		return err
	}
	pins := make([]int, 0, len(all))
	for p := range all {
		pins = append(pins, p)
	}
	sort.Ints(pins)
	for _, p := range pins {
		printPin(all[p])
	}
	return nil
}

func printPin(st pinctrl.PinState) {
	fmt.Printf("GPIO%-3d mode=%s pull=%s drive=%s level=%s\n", st.Pin, st.Mode, st.Pull, st.Drive, st.Level)
}

func installServices(scriptPath, bootUnit, mainUnit string, opts startup.ServiceOptions) error {
	if err := startup.InstallBootService(bootUnit, scriptPath); err != nil {
		return err
	}
	return startup.InstallControllerService(mainUnit, opts)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
