package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/terrarium-controller/internal/model"
	"github.com/thatsimonsguy/terrarium-controller/internal/thermostat"
)

// Pin is a relay output. SafeState is the state the device is forced to on
// shutdown and at boot. It may only restate the device's default.
type Pin struct {
	Pin            *int  `json:"pin"`
	NormallyClosed bool  `json:"normally_closed"`
	SafeState      *bool `json:"safe_state"`
}

func (p *Pin) RelayPin() model.RelayPin {
	polarity := model.NormallyOpen
	if p.NormallyClosed {
		polarity = model.NormallyClosed
	}
	return model.RelayPin{Number: *p.Pin, Polarity: polarity}
}

// SafeOn reports the fail-safe state, falling back to def.
func (p *Pin) SafeOn(def bool) bool {
	if p.SafeState == nil {
		return def
	}
	return *p.SafeState
}

// Relay names, used for device events and logs.
const (
	HeaterName     = "Heater"
	LampName       = "Lamp"
	HumidifierName = "Humidifier"
)

// Relay is a configured output with its resolved fail-safe state.
type Relay struct {
	Name   string
	Pin    model.RelayPin
	SafeOn bool
}

type GPIO struct {
	Backend string `json:"backend"`
	Chip    string `json:"chip"`

	Heater     *Pin `json:"heater"`
	Lamp       *Pin `json:"lamp"`
	Humidifier *Pin `json:"humidifier"`
	DHT22      *int `json:"dht22"`
}

// Relays lists the outputs in fail-safe order: heat stays on, water and light go off.
func (g GPIO) Relays() []Relay {
	return []Relay{
		{Name: HeaterName, Pin: g.Heater.RelayPin(), SafeOn: g.Heater.SafeOn(true)},
		{Name: HumidifierName, Pin: g.Humidifier.RelayPin(), SafeOn: g.Humidifier.SafeOn(false)},
		{Name: LampName, Pin: g.Lamp.RelayPin(), SafeOn: g.Lamp.SafeOn(false)},
	}
}

type Thermostat struct {
	DesiredTemp             float64 `json:"desired_temp"`
	TempRange               float64 `json:"temp_range"`
	DesiredHumidity         float64 `json:"desired_humidity"`
	HumidityRange           float64 `json:"humidity_range"`
	BufferDurationSeconds   int     `json:"buffer_duration_seconds"`
	SpraySeconds            int     `json:"spray_seconds"`
	HardwareIntervalSeconds int     `json:"hardware_interval_seconds"`
	Units                   string  `json:"units"`
}

type Schedule struct {
	DayStart int `json:"day_start"`
	DayEnd   int `json:"day_end"`
}

type Server struct {
	Hostname                  string `json:"hostname"`
	Port                      int    `json:"port"`
	TLS                       bool   `json:"tls"`
	User                      string `json:"user"`
	Password                  string `json:"password"`
	SocketEndpoint            string `json:"socket_endpoint"`
	ClimateEndpoint           string `json:"climate_endpoint"`
	DeviceEndpoint            string `json:"device_endpoint"`
	DataUpdateIntervalSeconds int    `json:"data_update_interval_seconds"`
	TimeoutSeconds            int    `json:"timeout_seconds"`
}

type Sensor struct {
	Simulate            bool `json:"simulate"`
	PollSeconds         int  `json:"poll_seconds"`
	OutageAlertFailures int  `json:"outage_alert_failures"`

	// SpikeDeltaC is the largest accepted jump between readings; negative disables the filter.
	SpikeDeltaC        float64 `json:"spike_delta_c"`
	SpikeConfirmations int     `json:"spike_confirmations"`
}

type MQTT struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

type Datadog struct {
	Enabled   bool     `json:"enabled"`
	AgentAddr string   `json:"agent_addr"`
	Namespace string   `json:"namespace"`
	Tags      []string `json:"tags"`
}

type Config struct {
	ConfigFile string        `json:"-"`
	LogLevel   zerolog.Level `json:"-"`

	SafeMode            bool   `json:"safe_mode"`
	LogFile             string `json:"log_file"`
	LoopIntervalSeconds int    `json:"loop_interval_seconds"`
	JournalPath         string `json:"journal_path"`
	StatusAddr          string `json:"status_addr"`
	NtfyTopic           string `json:"ntfy_topic"`

	Thermostat Thermostat `json:"thermostat"`
	Schedule   Schedule   `json:"schedule"`
	Server     Server     `json:"server"`
	GPIO       GPIO       `json:"gpio"`
	Sensor     Sensor     `json:"sensor"`
	MQTT       MQTT       `json:"mqtt"`
	Datadog    Datadog    `json:"datadog"`
}

// Load parses the process flags and then the config file they name.
func Load() Config {
	var configFile, logLevel string
	var safeMode bool

	flag.StringVar(&configFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&safeMode, "safe-mode", false, "Suppress all GPIO writes")
	flag.Parse()

	cfg := LoadFile(configFile)
	cfg.LogLevel = parseLogLevel(logLevel)
	if safeMode {
		cfg.SafeMode = true
	}
	return cfg
}

// LoadFile decodes, defaults and validates a config file. It panics on any
// problem: the controller must not start half-configured.
func LoadFile(path string) Config {
	var cfg Config

	file, err := os.Open(path)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	cfg.ConfigFile = path
	cfg.LogLevel = zerolog.InfoLevel
	cfg.applyDefaults()
	cfg.validate()
	return cfg
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) applyDefaults() {
	setDefault(&cfg.LoopIntervalSeconds, 60)

	t := &cfg.Thermostat
	setDefault(&t.BufferDurationSeconds, 300)
	setDefault(&t.SpraySeconds, 10)
	setDefault(&t.HardwareIntervalSeconds, 60)
	if t.Units == "" {
		t.Units = string(model.Fahrenheit)
	}
	t.Units = strings.ToUpper(t.Units)

	s := &cfg.Server
	setDefault(&s.Port, 80)
	setDefault(&s.DataUpdateIntervalSeconds, 300)
	setDefault(&s.TimeoutSeconds, 10)
	if s.ClimateEndpoint == "" {
		s.ClimateEndpoint = "/api/data/"
	}
	if s.DeviceEndpoint == "" {
		s.DeviceEndpoint = "/api/device/"
	}
	if s.SocketEndpoint == "" {
		s.SocketEndpoint = "/ws/broadcastData/"
	}

	setDefault(&cfg.Sensor.PollSeconds, 2)
	setDefault(&cfg.Sensor.OutageAlertFailures, 30)
	setDefault(&cfg.Sensor.SpikeConfirmations, 3)
	if cfg.Sensor.SpikeDeltaC == 0 {
		cfg.Sensor.SpikeDeltaC = 3
	}

	if cfg.GPIO.Backend == "" {
		cfg.GPIO.Backend = "pinctrl"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "terrarium-controller"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "terrarium"
	}
	if cfg.Datadog.AgentAddr == "" {
		cfg.Datadog.AgentAddr = "127.0.0.1:8125"
	}
	if cfg.Datadog.Namespace == "" {
		cfg.Datadog.Namespace = "terrarium."
	}
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func (cfg *Config) validate() {
	var (
		missingFields []string
		usedPins      = map[int]string{}
		conflicts     []string
		problems      []string
	)

	v := reflect.ValueOf(cfg.GPIO)
	t := reflect.TypeOf(cfg.GPIO)

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() != reflect.Pointer {
			continue
		}
		fieldName := t.Field(i).Tag.Get("json")

		if field.IsNil() {
			missingFields = append(missingFields, "gpio."+fieldName)
			continue
		}

		var pin int
		switch p := field.Interface().(type) {
		case *Pin:
			if p.Pin == nil {
				missingFields = append(missingFields, "gpio."+fieldName+".pin")
				continue
			}
			pin = *p.Pin
		case *int:
			pin = *p
		}

		if other, exists := usedPins[pin]; exists {
			conflicts = append(conflicts, fmt.Sprintf("gpio.%s and gpio.%s both use pin %d", fieldName, other, pin))
		} else {
			usedPins[pin] = fieldName
		}
	}

	if len(missingFields) > 0 {
		panic("Missing required GPIO config fields: " + strings.Join(missingFields, ", "))
	}
	if len(conflicts) > 0 {
		panic("Conflicting GPIO pins: " + strings.Join(conflicts, ", "))
	}

	// heat stays on, water and light go off; an override may only restate that
	for _, r := range cfg.GPIO.Relays() {
		want := r.Name == HeaterName
		if r.SafeOn != want {
			problems = append(problems, fmt.Sprintf("gpio.%s.safe_state must be %t", strings.ToLower(r.Name), want))
		}
	}
	if cfg.Server.Hostname == "" {
		problems = append(problems, "server.hostname is required")
	}
	if cfg.Thermostat.TempRange <= 0 {
		problems = append(problems, "thermostat.temp_range must be positive")
	}
	if cfg.Thermostat.HumidityRange <= 0 {
		problems = append(problems, "thermostat.humidity_range must be positive")
	}
	if cfg.Thermostat.Units != string(model.Fahrenheit) && cfg.Thermostat.Units != string(model.Celsius) {
		problems = append(problems, "thermostat.units must be F or C")
	}
	if !validHour(cfg.Schedule.DayStart) || !validHour(cfg.Schedule.DayEnd) {
		problems = append(problems, "schedule hours must be within 0-23")
	}
	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, ", "))
	}
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (cfg Config) Unit() model.Unit {
	return model.Unit(cfg.Thermostat.Units)
}

func (cfg Config) BufferDuration() time.Duration   { return seconds(cfg.Thermostat.BufferDurationSeconds) }
func (cfg Config) HardwareInterval() time.Duration { return seconds(cfg.Thermostat.HardwareIntervalSeconds) }
func (cfg Config) UploadInterval() time.Duration   { return seconds(cfg.Server.DataUpdateIntervalSeconds) }
func (cfg Config) LoopInterval() time.Duration     { return seconds(cfg.LoopIntervalSeconds) }
func (cfg Config) PollInterval() time.Duration     { return seconds(cfg.Sensor.PollSeconds) }
func (cfg Config) Timeout() time.Duration          { return seconds(cfg.Server.TimeoutSeconds) }

func (cfg Config) ThermostatSettings() thermostat.Settings {
	return thermostat.Settings{
		DesiredTemp:     cfg.Thermostat.DesiredTemp,
		TempRange:       cfg.Thermostat.TempRange,
		DesiredHumidity: cfg.Thermostat.DesiredHumidity,
		HumidityRange:   cfg.Thermostat.HumidityRange,
		DayStart:        cfg.Schedule.DayStart,
		DayEnd:          cfg.Schedule.DayEnd,
		SprayDuration:   seconds(cfg.Thermostat.SpraySeconds),
		Unit:            cfg.Unit(),
	}
}

// BaseURL is the collector's HTTP root, e.g. http://collector.local:8000.
func (cfg Config) BaseURL() string {
	scheme := "http"
	if cfg.Server.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Server.Hostname, cfg.Server.Port)
}

// SocketURL is the collector's live telemetry WebSocket.
func (cfg Config) SocketURL() string {
	scheme := "ws"
	if cfg.Server.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, cfg.Server.Hostname, cfg.Server.Port, cfg.Server.SocketEndpoint)
}
