package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor HALIRC_CONFIG is set.
const DefaultPath = "configs/halirc.yaml"

// Config is the root configuration structure for halirc.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Logging  LoggingConfig   `yaml:"logging"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	InfluxDB InfluxDBConfig  `yaml:"influxdb"`
	Database DatabaseConfig  `yaml:"database"`
	API      APIConfig       `yaml:"api"`
	Hal      HalConfig       `yaml:"hal"`
	OSD      OSDConfig       `yaml:"osd"`
	Devices  []DeviceConfig  `yaml:"devices"`
	Triggers []TriggerConfig `yaml:"triggers"`
	Timers   []TimerConfig   `yaml:"timers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains the SQLite journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention is how long journal entries are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// HalConfig contains the event router and dispatcher settings.
type HalConfig struct {
	HistorySize      int           `yaml:"history_size"`
	TimerInterval    time.Duration `yaml:"timer_interval"`
	CheckQueues      bool          `yaml:"check_queues"`
	Debounce         time.Duration `yaml:"debounce"`
	ActionTimeout    time.Duration `yaml:"action_timeout"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
}

// OSDConfig contains the on-screen display settings.
type OSDConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Binary      string        `yaml:"binary"`
	Display     string        `yaml:"display"`
	Font        string        `yaml:"font"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Driver names accepted in DeviceConfig.Driver.
const (
	DriverDenon   = "denon"
	DriverGembird = "gembird"
	DriverLGTV    = "lgtv"
	DriverLirc    = "lirc"
	DriverPioneer = "pioneer"
	DriverVDR     = "vdr"
	DriverYamaha  = "yamaha"
)

var knownDrivers = map[string]bool{
	DriverDenon: true, DriverGembird: true, DriverLGTV: true, DriverLirc: true,
	DriverPioneer: true, DriverVDR: true, DriverYamaha: true,
}

// DeviceConfig describes one appliance. Which connection fields apply
// depends on the driver; empty fields take the driver defaults.
type DeviceConfig struct {
	// Name defaults to the driver name.
	Name   string `yaml:"name"`
	Driver string `yaml:"driver"`

	// Serial drivers (denon, lgtv).
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`

	// Network drivers (pioneer, vdr, yamaha).
	Host    string `yaml:"host"`
	TCPPort int    `yaml:"tcp_port"`

	// Socket is the lircd socket path.
	Socket string `yaml:"socket"`

	// Binary and USBDevice configure sispmctl for gembird.
	Binary    string `yaml:"binary"`
	USBDevice string `yaml:"usb_device"`

	Timeout     time.Duration `yaml:"timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	KeepAlive   time.Duration `yaml:"keep_alive"`

	// Outlet names the power socket, as "<gembird device>:<number>".
	Outlet string `yaml:"outlet"`

	// Companion names a device powered on together with this one.
	Companion string `yaml:"companion"`
}

// DeviceName returns the configured name, or the driver name.
func (d DeviceConfig) DeviceName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Driver
}

// OutletRef splits Outlet into the switching device and socket number.
func (d DeviceConfig) OutletRef() (string, int, error) {
	dev, num, ok := strings.Cut(d.Outlet, ":")
	if !ok || dev == "" {
		return "", 0, fmt.Errorf("outlet %q must be <device>:<number>", d.Outlet)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return "", 0, fmt.Errorf("outlet %q: %w", d.Outlet, err)
	}
	return dev, n, nil
}

// PatternConfig is one event a trigger waits for. Message is the human
// form, decoded with the codec of the Source device. An empty Message
// matches anything from Source.
type PatternConfig struct {
	Source  string `yaml:"source"`
	Message string `yaml:"message"`
}

// TriggerConfig binds a sequence of events to an action.
type TriggerConfig struct {
	Name     string          `yaml:"name"`
	Patterns []PatternConfig `yaml:"patterns"`

	// Action is "<device>.<action>" or "osd".
	Action string   `yaml:"action"`
	Args   []string `yaml:"args"`

	// Repeat lets the trigger fire again within the debounce window.
	Repeat bool `yaml:"repeat"`

	// StopIfMatch keeps later triggers from seeing an event this one matched.
	StopIfMatch bool `yaml:"stop_if_match"`

	// MaxTime bounds the span of the matched events. Zero means one
	// second per pattern after the first.
	MaxTime time.Duration `yaml:"max_time"`
}

// ScheduleConfig lists accepted values per field; an empty list accepts
// any value. Weekday counts Monday as 0.
type ScheduleConfig struct {
	Minute  []int `yaml:"minute"`
	Hour    []int `yaml:"hour"`
	Day     []int `yaml:"day"`
	Month   []int `yaml:"month"`
	Weekday []int `yaml:"weekday"`
}

// TimerConfig runs an action on a schedule.
type TimerConfig struct {
	Name     string         `yaml:"name"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Action   string         `yaml:"action"`
	Args     []string       `yaml:"args"`
}

// ResolvePath returns flag if set, else HALIRC_CONFIG, else DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("HALIRC_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HALIRC_SECTION_KEY
// For example: HALIRC_DATABASE_PATH, HALIRC_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for configuration already in memory.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "halirc",
			},
			QoS:         1,
			TopicPrefix: "halirc",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "halirc",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/halirc.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   30 * 24 * time.Hour,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 30,
				Idle:  60,
			},
		},
		Hal: HalConfig{
			HistorySize:      10,
			TimerInterval:    20 * time.Second,
			Debounce:         500 * time.Millisecond,
			ActionTimeout:    10 * time.Second,
			WatchdogInterval: time.Second,
		},
		OSD: OSDConfig{
			Binary:      "/usr/bin/osd_cat",
			Display:     ":0",
			IdleTimeout: 5 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HALIRC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Logging
	if v := os.Getenv("HALIRC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Database
	if v := os.Getenv("HALIRC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HALIRC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HALIRC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HALIRC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("HALIRC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("HALIRC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// OSD
	if v := os.Getenv("HALIRC_OSD_DISPLAY"); v != "" {
		cfg.OSD.Display = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.Retention < 0 {
		errs = append(errs, "database.retention must not be negative")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required")
	}
	if c.Hal.Debounce < 0 || c.Hal.ActionTimeout <= 0 || c.Hal.WatchdogInterval <= 0 {
		errs = append(errs, "hal.debounce must not be negative, hal.action_timeout and hal.watchdog_interval must be positive")
	}

	devices := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if !knownDrivers[d.Driver] {
			errs = append(errs, fmt.Sprintf("devices[%d]: unknown driver %q", i, d.Driver))
			continue
		}
		name := d.DeviceName()
		if devices[name] {
			errs = append(errs, fmt.Sprintf("devices[%d]: duplicate device %q", i, name))
		}
		devices[name] = true
	}
	for i, d := range c.Devices {
		if d.Outlet != "" {
			if dev, _, err := d.OutletRef(); err != nil {
				errs = append(errs, fmt.Sprintf("devices[%d]: %v", i, err))
			} else if !devices[dev] {
				errs = append(errs, fmt.Sprintf("devices[%d]: outlet device %q is not configured", i, dev))
			}
		}
		if d.Companion != "" && !devices[d.Companion] {
			errs = append(errs, fmt.Sprintf("devices[%d]: companion %q is not configured", i, d.Companion))
		}
	}

	for i, t := range c.Triggers {
		if len(t.Patterns) == 0 {
			errs = append(errs, fmt.Sprintf("triggers[%d] %q: at least one pattern is required", i, t.Name))
		}
		for _, p := range t.Patterns {
			if p.Source != "" && !devices[p.Source] {
				errs = append(errs, fmt.Sprintf("triggers[%d] %q: unknown source %q", i, t.Name, p.Source))
			}
		}
		if t.MaxTime < 0 {
			errs = append(errs, fmt.Sprintf("triggers[%d] %q: max_time must not be negative", i, t.Name))
		}
		if err := c.checkAction(t.Action, devices); err != nil {
			errs = append(errs, fmt.Sprintf("triggers[%d] %q: %v", i, t.Name, err))
		}
	}
	for i, t := range c.Timers {
		if err := c.checkAction(t.Action, devices); err != nil {
			errs = append(errs, fmt.Sprintf("timers[%d] %q: %v", i, t.Name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) checkAction(action string, devices map[string]bool) error {
	if action == "osd" {
		if !c.OSD.Enabled {
			return fmt.Errorf("action osd needs osd.enabled")
		}
		return nil
	}
	dev, name, ok := strings.Cut(action, ".")
	if !ok || name == "" {
		return fmt.Errorf("action %q must be <device>.<action> or osd", action)
	}
	if !devices[dev] {
		return fmt.Errorf("action %q names unknown device %q", action, dev)
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
