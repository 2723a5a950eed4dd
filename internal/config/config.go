// Package config loads convoetl configuration from YAML and resolves storage
// credentials from the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "convoetl.yaml"

// Stage names, in pipeline order.
const (
	StageLocate   = "locate"
	StageFetch    = "fetch"
	StageValidate = "validate"
	StageLoad     = "load"
)

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// ConfigError reports a missing or invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Config is the full configuration file.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Schedule ScheduleConfig `yaml:"schedule"`

	// Source is the file the configuration was read from, empty for defaults.
	Source string `yaml:"-"`
}

// StorageConfig locates the snapshot container.
type StorageConfig struct {
	// ContainerURL, when set, is used instead of the ContainerURLEnv variable.
	ContainerURL    string `yaml:"container_url,omitempty"`
	ContainerURLEnv string `yaml:"container_url_env"`
	SASTokenEnv     string `yaml:"sas_token_env"`
	Prefix          string `yaml:"prefix"`
}

// DatabaseConfig locates the local store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig tunes a pipeline run.
type IngestConfig struct {
	StagingDir    string `yaml:"staging_dir"`
	Contract      string `yaml:"contract"`
	Replace       bool   `yaml:"replace"`
	FetchAttempts int    `yaml:"fetch_attempts"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string      `yaml:"level"`
	File       string      `yaml:"file"`
	MaxSizeMB  int         `yaml:"max_size_mb"`
	MaxBackups int         `yaml:"max_backups"`
	Stages     StageLevels `yaml:"stages"`
}

// StageLevels holds the level each pipeline stage logs its boundaries at.
type StageLevels struct {
	Locate   string `yaml:"locate"`
	Fetch    string `yaml:"fetch"`
	Validate string `yaml:"validate"`
	Load     string `yaml:"load"`
}

// For returns the level configured for stage, "info" when unknown.
func (s StageLevels) For(stage string) string {
	var level string
	switch stage {
	case StageLocate:
		level = s.Locate
	case StageFetch:
		level = s.Fetch
	case StageValidate:
		level = s.Validate
	case StageLoad:
		level = s.Load
	}
	if level == "" {
		return "info"
	}
	return level
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// ScheduleConfig configures the periodic trigger.
type ScheduleConfig struct {
	Name    string `yaml:"name"`
	Every   string `yaml:"every"`
	Crontab string `yaml:"crontab"`
}

// Default returns the configuration used for absent keys.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			ContainerURLEnv: "CHAT_DB_CONTAINER_URL",
			SASTokenEnv:     "CHAT_DB_CONTAINER_SAS_TOKEN",
			Prefix:          "backup_",
		},
		Database: DatabaseConfig{Path: "local.db"},
		Ingest:   IngestConfig{FetchAttempts: 3},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Stages:     StageLevels{Locate: "info", Fetch: "info", Validate: "info", Load: "info"},
		},
		Schedule: ScheduleConfig{Name: "run_etl_job", Every: "5 minutes"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults
// unless required is set.
func Load(path string, required bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Message: fmt.Sprintf("failed to parse YAML: %v", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that do not depend on the environment.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Prefix) == "" {
		return &ConfigError{Field: "storage.prefix", Message: "must not be empty"}
	}
	if c.Storage.ContainerURL == "" && c.Storage.ContainerURLEnv == "" {
		return &ConfigError{Field: "storage.container_url_env", Message: "must name an environment variable"}
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return &ConfigError{Field: "database.path", Message: "must not be empty"}
	}
	if c.Ingest.FetchAttempts < 1 {
		return &ConfigError{Field: "ingest.fetch_attempts", Message: fmt.Sprintf("must be at least 1, got %d", c.Ingest.FetchAttempts)}
	}
	if !validLevels[c.Log.Level] {
		return &ConfigError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	stages := map[string]string{
		StageLocate:   c.Log.Stages.Locate,
		StageFetch:    c.Log.Stages.Fetch,
		StageValidate: c.Log.Stages.Validate,
		StageLoad:     c.Log.Stages.Load,
	}
	for _, stage := range []string{StageLocate, StageFetch, StageValidate, StageLoad} {
		if level := stages[stage]; level != "" && !validLevels[level] {
			return &ConfigError{Field: "log.stages." + stage, Message: fmt.Sprintf("unknown level %q", level)}
		}
	}
	if strings.TrimSpace(c.Schedule.Name) == "" {
		return &ConfigError{Field: "schedule.name", Message: "must not be empty"}
	}
	return nil
}

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// ResolveContainerURL returns the configured container URL, reading the
// environment when it is not set inline.
func (s StorageConfig) ResolveContainerURL(lookup LookupFunc) (string, error) {
	if s.ContainerURL != "" {
		return s.ContainerURL, nil
	}
	v, ok := lookup(s.ContainerURLEnv)
	if !ok || strings.TrimSpace(v) == "" {
		return "", &ConfigError{
			Field:   "storage.container_url_env",
			Message: fmt.Sprintf("environment variable %s is not set", s.ContainerURLEnv),
		}
	}
	return strings.TrimSpace(v), nil
}

// ResolveSASToken returns the out-of-band SAS token, or "" when unset.
func (s StorageConfig) ResolveSASToken(lookup LookupFunc) string {
	if s.SASTokenEnv == "" {
		return ""
	}
	v, _ := lookup(s.SASTokenEnv)
	return strings.TrimSpace(v)
}
