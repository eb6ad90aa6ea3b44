package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for the file-based configuration.
const (
	// DefaultConfigPath is used when no path is given on the command line.
	DefaultConfigPath = "tabguard.yaml"
	// DefaultListenAddr binds the agent API to loopback only.
	DefaultListenAddr = "127.0.0.1:8321"
	// DefaultDatabaseDSN is the SQLite file next to the agent.
	DefaultDatabaseDSN = "tabguard.db"
	// DefaultUpstreamBaseURL targets the policy provider API.
	DefaultUpstreamBaseURL = "https://api.controld.com"
	// DefaultUpstreamTimeoutSeconds bounds one policy API round trip.
	DefaultUpstreamTimeoutSeconds = 20

	// configPathEnv overrides the config path when set.
	configPathEnv = "TABGUARD_CONFIG"
)

// Config is the file-based agent configuration. Runtime-tunable values live
// in DB-backed settings instead.
type Config struct {
	Listen   string         `yaml:"listen"`
	Database string         `yaml:"database"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Log      LogConfig      `yaml:"log"`
}

// UpstreamConfig locates the remote policy API.
type UpstreamConfig struct {
	BaseURL        string `yaml:"base-url"`
	TimeoutSeconds int    `yaml:"timeout-seconds"`
}

// LogConfig controls log level and optional rotating file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
}

// ResolveConfigPath applies the environment override and default.
func ResolveConfigPath(path string) string {
	if env := strings.TrimSpace(os.Getenv(configPathEnv)); env != "" {
		return env
	}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	return DefaultConfigPath
}

// Load reads the YAML config file. A missing file yields the defaults so a
// fresh install runs without any setup beyond pairing.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, errRead := os.ReadFile(path)
	if errRead != nil {
		if os.IsNotExist(errRead) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, errRead)
	}
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
	}

	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = DefaultListenAddr
	}
	if strings.TrimSpace(cfg.Database) == "" {
		cfg.Database = DefaultDatabaseDSN
	}
	if strings.TrimSpace(cfg.Upstream.BaseURL) == "" {
		cfg.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	if cfg.Upstream.TimeoutSeconds <= 0 {
		cfg.Upstream.TimeoutSeconds = DefaultUpstreamTimeoutSeconds
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Listen:   DefaultListenAddr,
		Database: DefaultDatabaseDSN,
		Upstream: UpstreamConfig{
			BaseURL:        DefaultUpstreamBaseURL,
			TimeoutSeconds: DefaultUpstreamTimeoutSeconds,
		},
		Log: LogConfig{Level: "info"},
	}
}
