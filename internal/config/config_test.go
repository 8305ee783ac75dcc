package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abi50/pida/internal/config"
)

const minimalYAML = `
db_path: test.db
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 8765 {
		t.Errorf("Port = %d, want 8765", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.InputPollInterval != 5*time.Second {
		t.Errorf("InputPollInterval = %v, want 5s", cfg.InputPollInterval)
	}
	if cfg.SessionPollInterval != 30*time.Second {
		t.Errorf("SessionPollInterval = %v, want 30s", cfg.SessionPollInterval)
	}
	if cfg.Alerts.LogThreshold != "INFO" {
		t.Errorf("Alerts.LogThreshold = %q, want INFO", cfg.Alerts.LogThreshold)
	}
	if cfg.BusCapacity != 4096 {
		t.Errorf("BusCapacity = %d, want 4096", cfg.BusCapacity)
	}
}

func TestLoadConfig_EnvOverridesTakePrecedence(t *testing.T) {
	path := writeConfig(t, "db_path: test.db\nhost: 0.0.0.0\nport: 1\n")

	t.Setenv("PIDA_HOST", "192.168.1.1")
	t.Setenv("PIDA_PORT", "9999")

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Host != "192.168.1.1" {
		t.Errorf("Host = %q, want env override 192.168.1.1", cfg.Host)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want env override 9999", cfg.Port)
	}
}

func TestLoadConfig_InvalidEnvDuration(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	t.Setenv("PIDA_INPUT_POLL_INTERVAL", "not-a-duration")

	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("LoadConfig with an invalid PIDA_INPUT_POLL_INTERVAL should fail")
	}
}

func TestLoadConfig_RejectsInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, "db_path: test.db\nlog_level: verbose\n")
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("LoadConfig with log_level=verbose should fail validation")
	}
}

func TestLoadConfig_RejectsOutOfRangePort(t *testing.T) {
	path := writeConfig(t, "db_path: test.db\nport: 70000\n")
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("LoadConfig with port=70000 should fail validation")
	}
}

func TestLoadConfig_RejectsInvalidSeverityThreshold(t *testing.T) {
	path := writeConfig(t, "db_path: test.db\nalerts:\n  log_threshold: SUPER_BAD\n")
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("LoadConfig with an invalid alerts.log_threshold should fail validation")
	}
}

func TestLoadConfig_EmailEnabledRequiresFields(t *testing.T) {
	path := writeConfig(t, "db_path: test.db\nalerts:\n  email:\n    enabled: true\n")
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("LoadConfig with alerts.email.enabled=true but no smtp_host/from/to should fail validation")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadConfig for a missing file should fail")
	}
}

func TestLoadConfig_RejectsOutOfRangeAwayWindow(t *testing.T) {
	path := writeConfig(t, "db_path: test.db\naway_windows:\n  - days: [9]\n    start_hour: 0\n    end_hour: 1\n    enabled: true\n")
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("LoadConfig with an away window day of 9 should fail validation")
	}
}
