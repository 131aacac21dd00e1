// Package config provides centralized configuration management using Viper.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for consolewiz.
type Config struct {
	APIURL       string        `mapstructure:"api_url" yaml:"api_url"`
	APIToken     string        `mapstructure:"api_token" yaml:"api_token,omitempty"`
	CSRFToken    string        `mapstructure:"csrf_token" yaml:"csrf_token,omitempty"`
	DataDir      string        `mapstructure:"data_dir" yaml:"data_dir"`
	NATSURL      string        `mapstructure:"nats_url" yaml:"nats_url"`           // Empty runs an embedded server
	TaskEvent    string        `mapstructure:"task_event" yaml:"task_event"`       // Event name carrying task outcomes
	TaskTimeout  time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`   // 0 waits forever
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"` // 0 disables the status poller
	RequestRate  float64       `mapstructure:"request_rate" yaml:"request_rate"`   // API requests per second
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`     // Retries for idempotent API calls
	LogLevel     string        `mapstructure:"log_level" yaml:"log_level"`
	LogFile      string        `mapstructure:"log_file" yaml:"log_file"`
	MetricsAddr  string        `mapstructure:"metrics_addr" yaml:"metrics_addr"` // Empty disables /metrics
}

// Defaults returns a config populated with default values.
func Defaults() *Config {
	return &Config{
		APIURL:      "http://localhost:8080",
		DataDir:     ".consolewiz",
		TaskEvent:   "task_complete",
		RequestRate: 10,
		MaxRetries:  3,
		LogLevel:    "info",
	}
}

var envKeys = []string{
	"api_url",
	"api_token",
	"csrf_token",
	"data_dir",
	"nats_url",
	"task_event",
	"task_timeout",
	"poll_interval",
	"request_rate",
	"max_retries",
	"log_level",
	"log_file",
	"metrics_addr",
}

// Load loads configuration with full precedence:
// ENV vars > project config > XDG global config > defaults
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("consolewiz")

	// Set defaults (tokens and log file are empty unless configured)
	d := Defaults()
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("api_token", "")
	v.SetDefault("csrf_token", "")
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("nats_url", "")
	v.SetDefault("task_event", d.TaskEvent)
	v.SetDefault("task_timeout", "0s")
	v.SetDefault("poll_interval", "0s")
	v.SetDefault("request_rate", d.RequestRate)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", "")
	v.SetDefault("metrics_addr", "")

	// Setup ENV binding with CONSOLEWIZ_ prefix
	v.SetEnvPrefix("CONSOLEWIZ")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Explicit bindings so Unmarshal sees env-only keys
	for _, key := range envKeys {
		if err := v.BindEnv(key, "CONSOLEWIZ_"+strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("binding %s env: %w", key, err)
		}
	}

	// Load global config first (if exists)
	globalPath := GlobalPath()
	if fileExists(globalPath) {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading global config: %w", err)
		}
	}

	// Merge project config on top (if exists)
	projectPath := ProjectPath()
	if fileExists(projectPath) {
		// Need to set config file explicitly for merge
		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail later at connect time.
func (c *Config) Validate() error {
	// The backend client joins paths onto this, it must be absolute
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api_url must be an absolute URL, got %q", c.APIURL)
	}
	if c.NATSURL != "" {
		if _, err := url.Parse(c.NATSURL); err != nil {
			return fmt.Errorf("invalid nats_url: %w", err)
		}
	}
	if c.TaskEvent == "" {
		return fmt.Errorf("task_event is required")
	}
	if c.TaskTimeout < 0 {
		return fmt.Errorf("task_timeout must not be negative")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	if c.RequestRate < 0 {
		return fmt.Errorf("request_rate must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// Exists returns true if any config file exists (global or project).
func Exists() bool {
	return fileExists(GlobalPath()) || fileExists(ProjectPath())
}

// GlobalPath returns the XDG global config path.
// Returns ~/.config/consolewiz/consolewiz.yml or $XDG_CONFIG_HOME/consolewiz/consolewiz.yml.
func GlobalPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "consolewiz", "consolewiz.yml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "consolewiz", "consolewiz.yml")
}

// ProjectPath returns the project-local config path.
// Returns ./consolewiz.yml in the current working directory.
func ProjectPath() string {
	return "consolewiz.yml"
}

// WriteGlobal writes the config to the XDG global location.
func WriteGlobal(cfg *Config) error {
	path := GlobalPath()

	// Create parent directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return write(path, cfg)
}

// WriteProject writes the config to the project-local location.
func WriteProject(cfg *Config) error {
	return write(ProjectPath(), cfg)
}

func write(path string, cfg *Config) error {
	// Marshal to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Write file, private since it may hold tokens
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
