package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/terrarium-controller/db"
	"github.com/thatsimonsguy/terrarium-controller/internal/actuator"
	"github.com/thatsimonsguy/terrarium-controller/internal/api"
	"github.com/thatsimonsguy/terrarium-controller/internal/config"
	"github.com/thatsimonsguy/terrarium-controller/internal/datadog"
	"github.com/thatsimonsguy/terrarium-controller/internal/gpio"
	"github.com/thatsimonsguy/terrarium-controller/internal/logging"
	"github.com/thatsimonsguy/terrarium-controller/internal/notifications"
	"github.com/thatsimonsguy/terrarium-controller/internal/sensor"
	"github.com/thatsimonsguy/terrarium-controller/internal/service"
	"github.com/thatsimonsguy/terrarium-controller/internal/thermostat"
	"github.com/thatsimonsguy/terrarium-controller/internal/uplink"
	"github.com/thatsimonsguy/terrarium-controller/internal/window"
	"github.com/thatsimonsguy/terrarium-controller/system/shutdown"
	"github.com/thatsimonsguy/terrarium-controller/system/startup"
)

const journalRetention = 30 * 24 * time.Hour

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("gpio_backend", cfg.GPIO.Backend).
		Str("units", string(cfg.Unit())).
		Msg("Starting terrarium controller")

	driver, err := gpio.Open(gpio.Backend(cfg.GPIO.Backend), cfg.GPIO.Chip)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open GPIO backend")
	}
	defer driver.Close()

	if cfg.SafeMode {
		driver = gpio.WithSafeMode(driver)
		log.Warn().Msg("SAFE MODE ENABLED - GPIO writes are disabled system-wide")
	}

	relays := cfg.GPIO.Relays()
	if unsafe, err := startup.CheckSafeLevels(driver, relays); err != nil {
		log.Warn().Err(err).Msg("Could not verify boot relay levels")
	} else if len(unsafe) > 0 {
		log.Warn().Strs("devices", unsafe).Msg("Relays were not at fail-safe levels at startup; is the boot service installed?")
	}

	metrics := openMetrics(cfg)
	defer metrics.Close()

	up := uplink.New(uplink.Options{
		BaseURL:         cfg.BaseURL(),
		SocketURL:       cfg.SocketURL(),
		ClimateEndpoint: cfg.Server.ClimateEndpoint,
		DeviceEndpoint:  cfg.Server.DeviceEndpoint,
		User:            cfg.Server.User,
		Password:        cfg.Server.Password,
		Timeout:         cfg.Timeout(),
	}, openMirror(cfg), metrics)

	sinks := service.Fanout{up, service.MetricsSink{Metrics: metrics}}

	journal := openJournal(cfg)
	if journal != nil {
		defer journal.Close()
		sinks = append(sinks, journal)
	}

	heater := actuator.New(config.HeaterName, cfg.GPIO.Heater.RelayPin(), driver, sinks)
	lamp := actuator.New(config.LampName, cfg.GPIO.Lamp.RelayPin(), driver, sinks)
	humidifier := actuator.New(config.HumidifierName, cfg.GPIO.Humidifier.RelayPin(), driver, sinks)

	probe := openSensor(cfg)
	defer probe.Close()
	readings := sensor.NewDriver(probe, window.New(cfg.BufferDuration()), up, cfg.Unit(), cfg.PollInterval()).
		WithSpikeFilter(sensor.NewSpikeFilter(cfg.Sensor.SpikeDeltaC, cfg.Sensor.SpikeConfirmations))

	deps := service.Deps{
		Heater:     heater,
		Lamp:       lamp,
		Humidifier: humidifier,
		Sensor:     readings,
		Controller: thermostat.NewController(heater, lamp, humidifier, cfg.ThermostatSettings()),
		Uplink:     up,
		Metrics:    metrics,
	}
	if journal != nil {
		deps.Journal = journal
	}
	if n := notifications.New(cfg.NtfyTopic); n != nil {
		deps.Notifier = n
	}

	svc := service.New(deps, service.Options{
		Relays:              relays,
		LoopInterval:        cfg.LoopInterval(),
		HardwareInterval:    cfg.HardwareInterval(),
		UploadInterval:      cfg.UploadInterval(),
		OutageAlertFailures: cfg.Sensor.OutageAlertFailures,
		SafeMode:            cfg.SafeMode,
	})

	defer func() {
		if r := recover(); r != nil {
			shutdown.ShutdownWithError(fmt.Errorf("panic: %v", r), "Controller crashed", svc.Targets())
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Warn().Str("signal", sig.String()).Msg("Received signal")
		svc.Stop()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.StatusAddr != "" {
		var events api.EventSource
		if journal != nil {
			events = journal
		}
		go func() {
			if err := api.NewServer(svc, events).Start(ctx, cfg.StatusAddr); err != nil {
				log.Error().Err(err).Msg("Status server failed")
			}
		}()
	}

	runErr := svc.Run(ctx)

	if err := up.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close uplink")
	}
	if runErr != nil {
		shutdown.ShutdownWithError(runErr, "Controller exited with error", svc.Targets())
	}
}

func openMetrics(cfg config.Config) *datadog.Metrics {
	if !cfg.Datadog.Enabled {
		return nil
	}
	m, err := datadog.New(cfg.Datadog.AgentAddr, cfg.Datadog.Namespace, cfg.Datadog.Tags)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return nil
	}
	return m
}

func openMirror(cfg config.Config) uplink.Publisher {
	if cfg.MQTT.Broker == "" {
		return nil
	}
	m, err := uplink.NewMQTTMirror(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.TopicPrefix)
	if err != nil {
		log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT mirror unavailable")
		return nil
	}
	log.Info().Str("broker", cfg.MQTT.Broker).Str("prefix", cfg.MQTT.TopicPrefix).Msg("MQTT mirror connected")
	return m
}

func openJournal(cfg config.Config) *db.Journal {
	if cfg.JournalPath == "" {
		return nil
	}
	j, err := db.Open(cfg.JournalPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.JournalPath).Msg("Journal unavailable")
		return nil
	}
	if n, err := j.Prune(time.Now().Add(-journalRetention)); err != nil {
		log.Warn().Err(err).Msg("Failed to prune journal")
	} else if n > 0 {
		log.Info().Int64("rows", n).Msg("Pruned journal")
	}
	return j
}

func openSensor(cfg config.Config) sensor.Sensor {
	if cfg.Sensor.Simulate {
		log.Warn().Msg("Using simulated sensor")
		return sensor.NewSimulated()
	}
	dht, err := sensor.NewDHT22(*cfg.GPIO.DHT22)
	if err != nil {
		log.Warn().Err(err).Msg("DHT22 unavailable, falling back to simulated sensor")
		return sensor.NewSimulated()
	}
	return dht
}
