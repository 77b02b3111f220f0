package taskscope

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-logger/glog"
	"gopkg.in/yaml.v3"
)

// Config holds worker settings loaded from YAML.
type Config struct {
	TaskHub        string        `yaml:"task_hub" json:"task_hub" validate:"required"`
	DisposeTimeout time.Duration `yaml:"dispose_timeout" json:"dispose_timeout" validate:"gte=0"`
	Log            LogConfig     `yaml:"log" json:"log"`
	Metrics        MetricsConfig `yaml:"metrics" json:"metrics"`
	Backend        BackendConfig `yaml:"backend" json:"backend"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=json console"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace" validate:"required_if=Enabled true"`
}

type BackendConfig struct {
	// Replays is the number of replay episodes the in-memory backend runs
	// before the final episode of every orchestration.
	Replays int `yaml:"replays" json:"replays" validate:"gte=0"`
}

// DefaultConfig returns the settings used when no file is provided.
func DefaultConfig() Config {
	return Config{
		TaskHub: "default",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Namespace: "taskscope",
		},
	}
}

// ParseConfig decodes YAML (or JSON) over the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, NewError(ErrConfigInvalid, "decode configuration", err, nil)
	}
	return cfg, cfg.Validate()
}

// LoadConfig reads and parses the configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), NewError(ErrConfigInvalid, "read configuration", err, map[string]any{
			"path": path,
		})
	}
	return ParseConfig(data)
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return NewError(ErrConfigInvalid, "configuration failed validation", err, map[string]any{
			"task_hub": c.TaskHub,
		})
	}
	return nil
}

// NewLogger builds a go-logger backed Logger honoring the log settings.
func (c Config) NewLogger(out io.Writer) Logger {
	if out == nil {
		out = os.Stdout
	}
	level := strings.TrimSpace(c.Log.Level)
	if level == "" {
		level = "info"
	}
	var base glog.Logger
	if strings.EqualFold(c.Log.Format, "json") {
		base = glog.NewLogger(glog.WithWriter(out), glog.WithLevel(level), glog.WithLoggerTypeJSON())
	} else {
		base = glog.NewLogger(glog.WithWriter(out), glog.WithLevel(level))
	}
	return WithLoggerFields(NewGlogLogger(base), map[string]any{
		"task_hub": c.TaskHub,
	})
}
