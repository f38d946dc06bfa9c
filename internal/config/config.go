package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

const (
	RendererChrome = "chrome"
	RendererHTTP   = "http"

	TransportNone = ""
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

// Device is one metered plug. URL is used by the HTTP transport, Topic by
// the MQTT transport.
type Device struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Topic string `json:"topic"`
}

// Group is a set of devices powered from one backup battery.
type Group struct {
	ID        string   `json:"id"`
	BatteryAh float64  `json:"battery_ah"`
	Devices   []Device `json:"devices"`
}

type Observation struct {
	UptimeRobotAPIKey   string `json:"uptimerobot_api_key"`
	UptimeRobotEndpoint string `json:"uptimerobot_endpoint"`
	// HouseStateURL is the public status page to probe, and the monitor id
	// passed to UptimeRobot when an API key is set.
	HouseStateURL   string `json:"house_state_url"`
	OutageWindowURL string `json:"outage_window_url"`
	SkipWindowCheck bool   `json:"skip_window_check"`
	Renderer        string `json:"renderer"`

	AttemptTimeoutSeconds int  `json:"attempt_timeout_seconds"`
	MaxAttempts           int  `json:"max_attempts"`
	RetryDelaySeconds     int  `json:"retry_delay_seconds"`
	AmbiguousState        *int `json:"ambiguous_state"`
}

type MQTT struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Energy struct {
	Transport      string  `json:"transport"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	MQTT           MQTT    `json:"mqtt"`
	Groups         []Group `json:"groups"`
}

// Cadence holds cron expressions (minute hour dom month dow).
type Cadence struct {
	Check           string   `json:"check"`
	ScheduleRefresh string   `json:"schedule_refresh"`
	WindowRefresh   []string `json:"window_refresh"`
}

type Metrics struct {
	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`
}

type API struct {
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type Config struct {
	ConfigFile string
	EnvFile    string
	LogLevel   zerolog.Level
	CheckOnly  bool
	// InstallService is a systemd unit path to write before exiting.
	InstallService string

	LogFile      string `json:"log_file"`
	GroupNumber  string `json:"group_number"`
	ScheduleFile string `json:"schedule_file"`
	DBDriver     string `json:"db_driver"`
	DBPath       string `json:"db_path"`
	ExportDir    string `json:"export_dir"`

	// AttributeAllOutages counts every outage run of the day instead of
	// only the first.
	AttributeAllOutages bool `json:"attribute_all_outages"`

	Observation Observation `json:"observation"`
	Energy      Energy      `json:"energy"`
	Cadence     Cadence     `json:"cadence"`
	Metrics     Metrics     `json:"metrics"`
	API         API         `json:"api"`
}

// Load parses command-line flags, reads the JSON config file and applies
// .env and environment overrides.
func Load() (Config, error) {
	var configFile, envFile, logLevel string
	var checkOnly bool
	var installService string

	flag.StringVar(&configFile, "config-file", "config.json", "Path to monitor config file")
	flag.StringVar(&envFile, "env-file", ".env", "Path to .env file with secrets")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&checkOnly, "check-only", false, "Run a single check without recording it, then exit")
	flag.StringVar(&installService, "install-service", "", "Write a systemd unit for this binary to the given path, then exit")
	flag.Parse()

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg, err := FromFile(configFile)
	if err != nil {
		return Config{}, err
	}
	cfg.EnvFile = envFile
	cfg.CheckOnly = checkOnly
	cfg.InstallService = installService
	if logLevel != "" {
		cfg.LogLevel = ParseLogLevel(logLevel)
	}
	return cfg, nil
}

// FromFile decodes the config file at path, then applies environment
// overrides and defaults and validates the result.
func FromFile(path string) (Config, error) {
	var cfg Config

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ConfigFile = path

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("GROUP_NUMBER"); v != "" {
		cfg.GroupNumber = v
	}
	if v := os.Getenv("UPTIMEROBOT_API_KEY"); v != "" {
		cfg.Observation.UptimeRobotAPIKey = v
	}
	if v := os.Getenv("URL_HOUSE_STATE"); v != "" {
		cfg.Observation.HouseStateURL = v
	}
	if v := os.Getenv("DTEK_URL"); v != "" {
		cfg.Observation.OutageWindowURL = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.Energy.MQTT.Password = v
	}
	cfg.LogLevel = ParseLogLevel(os.Getenv("LOG_LEVEL"))

	// the literal "none" is how an unset key is written in existing .env files
	if strings.EqualFold(cfg.Observation.UptimeRobotAPIKey, "none") {
		cfg.Observation.UptimeRobotAPIKey = ""
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.LogFile == "" {
		cfg.LogFile = "/var/log/blackout-monitor.log"
	}
	if cfg.ScheduleFile == "" {
		cfg.ScheduleFile = "schedule.json"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/blackout.db"
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "data/exports"
	}

	o := &cfg.Observation
	if o.UptimeRobotEndpoint == "" {
		o.UptimeRobotEndpoint = "https://api.uptimerobot.com/v2/getMonitors"
	}
	if o.Renderer == "" {
		o.Renderer = RendererChrome
	}
	if o.AttemptTimeoutSeconds == 0 {
		o.AttemptTimeoutSeconds = 20
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.RetryDelaySeconds == 0 {
		o.RetryDelaySeconds = 10
	}
	if o.AmbiguousState == nil {
		ambiguous := int(model.StatePossibleOutage)
		o.AmbiguousState = &ambiguous
	}

	if cfg.Energy.TimeoutSeconds == 0 {
		cfg.Energy.TimeoutSeconds = 10
	}
	if cfg.Energy.MQTT.ClientID == "" {
		cfg.Energy.MQTT.ClientID = "blackout-monitor"
	}

	if cfg.Cadence.Check == "" {
		cfg.Cadence.Check = "30 * * * *"
	}
	if cfg.Cadence.ScheduleRefresh == "" {
		cfg.Cadence.ScheduleRefresh = "20 0 * * *"
	}
	if len(cfg.Cadence.WindowRefresh) == 0 {
		cfg.Cadence.WindowRefresh = []string{"15 0 * * *", "15 12 * * *"}
	}

	if cfg.Metrics.DDAgentAddr == "" {
		cfg.Metrics.DDAgentAddr = "127.0.0.1:8125"
	}
	if cfg.Metrics.DDNamespace == "" {
		cfg.Metrics.DDNamespace = "blackout_monitor."
	}
}

// Ambiguous returns the state recorded when a probed page shows neither the
// outage nor the operational marker.
func (o Observation) Ambiguous() model.PowerState {
	if o.AmbiguousState == nil {
		return model.StatePossibleOutage
	}
	return model.PowerState(*o.AmbiguousState)
}

func (cfg *Config) validate() error {
	var problems []string

	if cfg.GroupNumber == "" {
		problems = append(problems, "group_number is required (or GROUP_NUMBER)")
	}
	switch cfg.DBDriver {
	case "", "sqlite3", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("db_driver %q is not one of sqlite3, sqlite", cfg.DBDriver))
	}

	o := cfg.Observation
	if o.MaxAttempts < 3 || o.MaxAttempts > 5 {
		problems = append(problems, fmt.Sprintf("observation.max_attempts must be between 3 and 5, got %d", o.MaxAttempts))
	}
	if o.Renderer != RendererChrome && o.Renderer != RendererHTTP {
		problems = append(problems, fmt.Sprintf("observation.renderer %q is not one of chrome, http", o.Renderer))
	}
	// an unclear page may only be recorded as unknown or possible outage
	switch model.PowerState(*o.AmbiguousState) {
	case model.StateUnknown, model.StatePossibleOutage:
	default:
		problems = append(problems, fmt.Sprintf("observation.ambiguous_state %d is not -1 or 1", *o.AmbiguousState))
	}

	switch cfg.Energy.Transport {
	case TransportNone, TransportHTTP:
	case TransportMQTT:
		if cfg.Energy.MQTT.Broker == "" {
			problems = append(problems, "energy.mqtt.broker is required for the mqtt transport")
		}
	default:
		problems = append(problems, fmt.Sprintf("energy.transport %q is not one of http, mqtt", cfg.Energy.Transport))
	}

	seenGroups := map[string]bool{}
	seenDevices := map[string]string{}
	for _, g := range cfg.Energy.Groups {
		if g.ID == "" {
			problems = append(problems, "energy group with empty id")
			continue
		}
		if seenGroups[g.ID] {
			problems = append(problems, fmt.Sprintf("energy group %s defined twice", g.ID))
		}
		seenGroups[g.ID] = true
		if g.BatteryAh <= 0 {
			problems = append(problems, fmt.Sprintf("energy group %s needs a positive battery_ah", g.ID))
		}
		for _, d := range g.Devices {
			if other, ok := seenDevices[d.ID]; ok {
				problems = append(problems, fmt.Sprintf("device %s appears in groups %s and %s", d.ID, other, g.ID))
				continue
			}
			seenDevices[d.ID] = g.ID
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DeviceGroups returns the configured groups in config order.
func (cfg Config) DeviceGroups() []model.DeviceGroup {
	groups := make([]model.DeviceGroup, 0, len(cfg.Energy.Groups))
	for _, g := range cfg.Energy.Groups {
		groups = append(groups, model.DeviceGroup{ID: g.ID, BatteryAh: g.BatteryAh})
	}
	return groups
}

func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
