// Package config provides YAML configuration loading, PIDA_-prefixed
// environment overrides, and validation for the agent. It follows the
// teacher's three-step LoadConfig/applyDefaults/validate pattern
// (internal/config/config.go in the retrieved TripWire agent), with the
// settings themselves and their PIDA_ environment prefix drawn from the
// original Python agent's pydantic Settings (agent/config.py).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abi50/pida/internal/model"
)

// Config is the top-level configuration for the pida agent process.
type Config struct {
	// Host is the bind address for the HTTP/WebSocket server. Defaults to
	// "127.0.0.1" when omitted. Overridable with PIDA_HOST.
	Host string `yaml:"host"`

	// Port is the HTTP/WebSocket listen port. Defaults to 8765 when
	// omitted. Overridable with PIDA_PORT.
	Port int `yaml:"port"`

	// DBPath is the path to the SQLite database file. Defaults to
	// "pida.db" when omitted. Overridable with PIDA_DB_PATH.
	DBPath string `yaml:"db_path"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// CORSOrigins lists origins allowed to call the HTTP API. Defaults to
	// empty (no cross-origin access). Overridable with PIDA_CORS_ORIGINS
	// as a comma-separated list.
	CORSOrigins []string `yaml:"cors_origins"`

	// InputPollInterval is how often the input producer samples idle
	// state. Defaults to 5s. Overridable with PIDA_INPUT_POLL_INTERVAL
	// (a Go duration string, e.g. "5s").
	InputPollInterval time.Duration `yaml:"input_poll_interval"`

	// SessionPollInterval is how often the session producer polls the OS
	// event log. Defaults to 30s. Overridable with
	// PIDA_SESSION_POLL_INTERVAL.
	SessionPollInterval time.Duration `yaml:"session_poll_interval"`

	// IdleThreshold defaults to 5m but is not read by any component: the
	// input producer emits idle_started on the first idle sample after
	// activity, whatever this value is.
	IdleThreshold time.Duration `yaml:"idle_threshold"`

	// BusCapacity bounds the event bus queue. Defaults to 4096 when <= 0.
	BusCapacity int `yaml:"bus_capacity"`

	// JWTPublicKeyPath, if set, enables bearer-token authentication on the
	// HTTP API using the RS256 public key at this path. Empty disables
	// auth (the teacher's optional-middleware pattern).
	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`

	// Folders lists the directories the folder producer watches.
	Folders []model.MonitoredFolder `yaml:"folders"`

	// AwayWindows lists the user-declared unattended intervals consulted
	// by the input producer (active_during_away) and by the engine's rules
	// R1 and R4.
	AwayWindows []model.AwayWindow `yaml:"away_windows"`

	// Alerts configures severity-to-notifier routing and the notifiers
	// themselves.
	Alerts AlertConfig `yaml:"alerts"`
}

// AlertConfig configures the dispatcher's routes and the notifiers they
// target, mirroring the original's AlertConfig (agent/models/config.py).
type AlertConfig struct {
	// LogThreshold is the minimum severity routed to the log notifier.
	// Defaults to "INFO".
	LogThreshold string `yaml:"log_threshold"`

	// ToastThreshold is the minimum severity routed to the toast notifier.
	// Defaults to "MEDIUM".
	ToastThreshold string `yaml:"toast_threshold"`

	// EmailThreshold is the minimum severity routed to the email notifier.
	// Defaults to "HIGH".
	EmailThreshold string `yaml:"email_threshold"`

	Email EmailConfig `yaml:"email"`
}

// EmailConfig holds SMTP settings for the email notifier.
type EmailConfig struct {
	// Enabled toggles the email notifier regardless of threshold.
	Enabled bool `yaml:"enabled"`

	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	From         string `yaml:"from"`
	To           []string `yaml:"to"`

	// BatchWindow is the email notifier's throttle interval: an alert that
	// arrives within this long of the last successful send is held in the
	// pending batch until the next Notify after the interval, or a Flush.
	// Defaults to 5m.
	BatchWindow time.Duration `yaml:"batch_window"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config,
// applies PIDA_-prefixed environment overrides, fills defaults, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config: environment override: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyEnvOverrides mirrors the original agent's PIDA_-prefixed pydantic
// Settings: a handful of operational knobs may be overridden without
// touching the YAML file, which is useful for container deployment.
func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv("PIDA_HOST"); ok {
		cfg.Host = v
	}
	if v, ok := os.LookupEnv("PIDA_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PIDA_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v, ok := os.LookupEnv("PIDA_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("PIDA_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("PIDA_CORS_ORIGINS"); ok {
		cfg.CORSOrigins = splitAndTrim(v)
	}
	if v, ok := os.LookupEnv("PIDA_INPUT_POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PIDA_INPUT_POLL_INTERVAL: %w", err)
		}
		cfg.InputPollInterval = d
	}
	if v, ok := os.LookupEnv("PIDA_SESSION_POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PIDA_SESSION_POLL_INTERVAL: %w", err)
		}
		cfg.SessionPollInterval = d
	}
	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyDefaults fills in zero-value optional fields with sensible
// defaults.
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8765
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "pida.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.InputPollInterval == 0 {
		cfg.InputPollInterval = 5 * time.Second
	}
	if cfg.SessionPollInterval == 0 {
		cfg.SessionPollInterval = 30 * time.Second
	}
	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = 5 * time.Minute
	}
	if cfg.BusCapacity <= 0 {
		cfg.BusCapacity = 4096
	}
	if cfg.Alerts.LogThreshold == "" {
		cfg.Alerts.LogThreshold = "INFO"
	}
	if cfg.Alerts.ToastThreshold == "" {
		cfg.Alerts.ToastThreshold = "MEDIUM"
	}
	if cfg.Alerts.EmailThreshold == "" {
		cfg.Alerts.EmailThreshold = "HIGH"
	}
	if cfg.Alerts.Email.BatchWindow == 0 {
		cfg.Alerts.Email.BatchWindow = 5 * time.Minute
	}
	for i := range cfg.Folders {
		if !cfg.Folders[i].Enabled {
			cfg.Folders[i].Enabled = true
		}
	}
}

// validate checks that required fields are populated and enumerated
// fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d must be between 1 and 65535", cfg.Port))
	}

	for _, threshold := range []struct {
		name  string
		value string
	}{
		{"alerts.log_threshold", cfg.Alerts.LogThreshold},
		{"alerts.toast_threshold", cfg.Alerts.ToastThreshold},
		{"alerts.email_threshold", cfg.Alerts.EmailThreshold},
	} {
		if !model.ValidSeverity(model.Severity(threshold.value)) {
			errs = append(errs, fmt.Errorf("%s %q must be one of INFO, LOW, MEDIUM, HIGH, CRITICAL", threshold.name, threshold.value))
		}
	}

	if cfg.Alerts.Email.Enabled {
		if cfg.Alerts.Email.SMTPHost == "" {
			errs = append(errs, errors.New("alerts.email.smtp_host is required when alerts.email.enabled is true"))
		}
		if cfg.Alerts.Email.From == "" {
			errs = append(errs, errors.New("alerts.email.from is required when alerts.email.enabled is true"))
		}
		if len(cfg.Alerts.Email.To) == 0 {
			errs = append(errs, errors.New("alerts.email.to must list at least one recipient when alerts.email.enabled is true"))
		}
	}

	for i, f := range cfg.Folders {
		if f.Path == "" {
			errs = append(errs, fmt.Errorf("folders[%d]: path is required", i))
		}
	}

	for i, w := range cfg.AwayWindows {
		prefix := fmt.Sprintf("away_windows[%d]", i)
		for _, d := range w.Days {
			if d < 0 || d > 6 {
				errs = append(errs, fmt.Errorf("%s: day %d must be between 0 (Monday) and 6 (Sunday)", prefix, d))
			}
		}
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
			errs = append(errs, fmt.Errorf("%s: start_hour/end_hour must be between 0 and 23", prefix))
		}
		if w.StartMinute < 0 || w.StartMinute > 59 || w.EndMinute < 0 || w.EndMinute > 59 {
			errs = append(errs, fmt.Errorf("%s: start_minute/end_minute must be between 0 and 59", prefix))
		}
	}

	return errors.Join(errs...)
}
