package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all conveyor process configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath                  string `json:"db_path"`
	LogLevel                string `json:"log_level"`
	LogFormat               string `json:"log_format"` // text or json
	MaxConcurrentExecutions int    `json:"max_concurrent_executions"`
	QueueCapacity           int    `json:"queue_capacity"`
	SchedulerEnabled        bool   `json:"scheduler_enabled"`
	FilesRoot               string `json:"files_root"`
	VaultPassphrase         string `json:"vault_passphrase"`
	VaultSalt               string `json:"vault_salt"`
	DrainTimeoutSeconds     int    `json:"drain_timeout_seconds"`
}

func defaultConfig() Config {
	return Config{
		DBPath:                  filepath.Join(conveyorDir(), "conveyor.db"),
		LogLevel:                "info",
		LogFormat:               "text",
		MaxConcurrentExecutions: 10,
		QueueCapacity:           1024,
		SchedulerEnabled:        true,
		FilesRoot:               filepath.Join(conveyorDir(), "files"),
		DrainTimeoutSeconds:     30,
	}
}

func conveyorDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conveyor"
	}
	return filepath.Join(home, ".conveyor")
}

func settingsPath() string {
	return filepath.Join(conveyorDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CONVEYOR_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONVEYOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CONVEYOR_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("CONVEYOR_MAX_CONCURRENT_EXECUTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentExecutions = n
		}
	}
	if v := os.Getenv("CONVEYOR_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueCapacity = n
		}
	}
	if v := os.Getenv("CONVEYOR_SCHEDULER_ENABLED"); v != "" {
		cfg.SchedulerEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CONVEYOR_FILES_ROOT"); v != "" {
		cfg.FilesRoot = v
	}
	if v := os.Getenv("CONVEYOR_VAULT_PASSPHRASE"); v != "" {
		cfg.VaultPassphrase = v
	}
	if v := os.Getenv("CONVEYOR_VAULT_SALT"); v != "" {
		cfg.VaultSalt = v
	}
	if v := os.Getenv("CONVEYOR_DRAIN_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DrainTimeoutSeconds = n
		}
	}

	return cfg
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged  bool
	SchedulerChanged bool
	RestartNeeded    []string // fields that require a process restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.SchedulerEnabled != new.SchedulerEnabled {
		d.SchedulerChanged = true
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.LogFormat != new.LogFormat {
		d.RestartNeeded = append(d.RestartNeeded, "log_format")
	}
	if old.MaxConcurrentExecutions != new.MaxConcurrentExecutions {
		d.RestartNeeded = append(d.RestartNeeded, "max_concurrent_executions")
	}
	if old.QueueCapacity != new.QueueCapacity {
		d.RestartNeeded = append(d.RestartNeeded, "queue_capacity")
	}
	if old.FilesRoot != new.FilesRoot {
		d.RestartNeeded = append(d.RestartNeeded, "files_root")
	}
	if old.VaultPassphrase != new.VaultPassphrase || old.VaultSalt != new.VaultSalt {
		d.RestartNeeded = append(d.RestartNeeded, "vault")
	}
	if old.DrainTimeoutSeconds != new.DrainTimeoutSeconds {
		d.RestartNeeded = append(d.RestartNeeded, "drain_timeout_seconds")
	}
	return d
}

func pidPath() string {
	return filepath.Join(conveyorDir(), "conveyor.pid")
}
