package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCommand           = "meshtastic"
	DefaultFetchTimeoutSec   = 30
	DefaultAlertIntervalSec  = 300
	DefaultDashIntervalSec   = 30
	DefaultBatteryThreshold  = 20
	DefaultSignalThresholdDB = -10.0
	DefaultCooldownSec       = 3600
	DefaultDashboardAddr     = ":8080"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
	DefaultMeshName          = "default"
)

// Config holds the monitor settings. Every scalar can be overridden from
// the environment with the MESHMON_ prefix.
type Config struct {
	Command         string          `yaml:"command" env:"MESHMON_COMMAND"`
	Port            string          `yaml:"port" env:"MESHMON_PORT"`
	FetchTimeoutSec int             `yaml:"fetch_timeout_sec" env:"MESHMON_FETCH_TIMEOUT_SEC"`
	Alert           AlertConfig     `yaml:"alert"`
	Dashboard       DashboardConfig `yaml:"dashboard"`
	Listen          ListenConfig    `yaml:"listen"`
	Storage         StorageConfig   `yaml:"storage"`
	Log             LogConfig       `yaml:"log"`
	Meshes          []MeshConfig    `yaml:"meshes,omitempty"`
}

// AlertConfig drives the health alerting loop.
type AlertConfig struct {
	IntervalSec      int      `yaml:"interval_sec" env:"MESHMON_ALERT_INTERVAL_SEC"`
	BatteryThreshold int      `yaml:"battery_threshold" env:"MESHMON_BATTERY_THRESHOLD"`
	SignalThreshold  float64  `yaml:"signal_threshold_db" env:"MESHMON_SIGNAL_THRESHOLD_DB"`
	CooldownSec      int      `yaml:"cooldown_sec" env:"MESHMON_COOLDOWN_SEC"`
	NotifyRecovery   bool     `yaml:"notify_recovery" env:"MESHMON_NOTIFY_RECOVERY"`
	Nodes            []string `yaml:"nodes" env:"MESHMON_NODES" env-separator:","`
	LogPath          string   `yaml:"log_path" env:"MESHMON_ALERT_LOG"`
}

// DashboardConfig drives the all-nodes dashboard and its HTTP feed.
type DashboardConfig struct {
	IntervalSec int    `yaml:"interval_sec" env:"MESHMON_DASHBOARD_INTERVAL_SEC"`
	Addr        string `yaml:"addr" env:"MESHMON_DASHBOARD_ADDR"`
}

// ListenConfig drives the message logger.
type ListenConfig struct {
	LogPath string `yaml:"log_path" env:"MESHMON_MESSAGE_LOG"`
}

// StorageConfig points at optional persistent sinks. Empty paths disable them.
type StorageConfig struct {
	DBPath         string `yaml:"db_path" env:"MESHMON_DB_PATH"`
	MetricsPath    string `yaml:"metrics_path" env:"MESHMON_METRICS_PATH"`
	RetentionHours int    `yaml:"retention_hours" env:"MESHMON_RETENTION_HOURS"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"MESHMON_LOG_LEVEL"`
	Format string `yaml:"format" env:"MESHMON_LOG_FORMAT"`
}

// MeshConfig is one independently monitored radio.
type MeshConfig struct {
	Name  string   `yaml:"name"`
	Port  string   `yaml:"port"`
	Nodes []string `yaml:"nodes"`
}

// Load reads a YAML config file, applies environment overrides and fills
// defaults. An empty path yields defaults plus environment.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate rejects settings that cannot produce a working monitor.
func Validate(cfg Config) error {
	if cfg.FetchTimeoutSec < 0 {
		return fmt.Errorf("fetch_timeout_sec must not be negative")
	}
	if cfg.Alert.IntervalSec <= 0 {
		return fmt.Errorf("alert.interval_sec must be positive")
	}
	if cfg.Dashboard.IntervalSec <= 0 {
		return fmt.Errorf("dashboard.interval_sec must be positive")
	}
	if cfg.Alert.CooldownSec < 0 {
		return fmt.Errorf("alert.cooldown_sec must not be negative")
	}
	if cfg.Alert.BatteryThreshold < 0 || cfg.Alert.BatteryThreshold > 100 {
		return fmt.Errorf("alert.battery_threshold must be within 0-100")
	}
	if cfg.Storage.RetentionHours < 0 {
		return fmt.Errorf("storage.retention_hours must not be negative")
	}
	if err := validateNodeIDs("alert.nodes", cfg.Alert.Nodes); err != nil {
		return err
	}

	names := map[string]struct{}{}
	for i, mesh := range cfg.Meshes {
		if mesh.Name == "" {
			return fmt.Errorf("meshes[%d].name is required", i)
		}
		if _, dup := names[mesh.Name]; dup {
			return fmt.Errorf("meshes[%d].name %q is duplicated", i, mesh.Name)
		}
		names[mesh.Name] = struct{}{}
		if len(cfg.Meshes) > 1 && mesh.Port == "" {
			return fmt.Errorf("meshes[%d].port is required when monitoring more than one mesh", i)
		}
		if err := validateNodeIDs(fmt.Sprintf("meshes[%d].nodes", i), mesh.Nodes); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAlerting additionally requires at least one node to watch.
func ValidateAlerting(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	for _, mesh := range MeshesOrDefault(cfg) {
		if len(mesh.Nodes) == 0 {
			return fmt.Errorf("mesh %q: at least one node id to monitor is required", mesh.Name)
		}
	}
	return nil
}

func validateNodeIDs(field string, ids []string) error {
	for _, id := range ids {
		if !strings.HasPrefix(id, "!") {
			return fmt.Errorf("%s: node id %q must start with '!'", field, id)
		}
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.FetchTimeoutSec == 0 {
		cfg.FetchTimeoutSec = DefaultFetchTimeoutSec
	}
	if cfg.Alert.IntervalSec == 0 {
		cfg.Alert.IntervalSec = DefaultAlertIntervalSec
	}
	if cfg.Alert.BatteryThreshold == 0 {
		cfg.Alert.BatteryThreshold = DefaultBatteryThreshold
	}
	if cfg.Alert.SignalThreshold == 0 {
		cfg.Alert.SignalThreshold = DefaultSignalThresholdDB
	}
	if cfg.Alert.CooldownSec == 0 {
		cfg.Alert.CooldownSec = DefaultCooldownSec
	}
	if cfg.Dashboard.IntervalSec == 0 {
		cfg.Dashboard.IntervalSec = DefaultDashIntervalSec
	}
	if cfg.Dashboard.Addr == "" {
		cfg.Dashboard.Addr = DefaultDashboardAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// MeshesOrDefault returns the configured meshes, or a single mesh built
// from the top-level port and alert node list.
func MeshesOrDefault(cfg Config) []MeshConfig {
	if len(cfg.Meshes) > 0 {
		return cfg.Meshes
	}
	return []MeshConfig{{Name: DefaultMeshName, Port: cfg.Port, Nodes: cfg.Alert.Nodes}}
}

// FetchTimeout returns the node-list fetch bound.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// Cooldown returns the alert suppression window.
func (c AlertConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSec) * time.Second
}

func (c AlertConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

func (c DashboardConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}
