// Package config centralises runtime configuration for typebus services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/typebus/errs"
)

// Settings contains the typebus configuration tree loaded from defaults,
// an optional YAML file, and environment overrides.
type Settings struct {
	ServiceName  string          `yaml:"service_name"`
	LogLevel     string          `yaml:"log_level"`
	OTLPEndpoint string          `yaml:"otlp_endpoint"`
	Janitor      JanitorSettings `yaml:"janitor"`
}

// JanitorSettings configures the background reclamation loop.
type JanitorSettings struct {
	Enabled            bool          `yaml:"enabled"`
	Interval           time.Duration `yaml:"interval"`
	HighWatermarkBytes uint64        `yaml:"high_watermark_bytes"`
	BudgetBytes        uint64        `yaml:"budget_bytes"`
	MaxAttempts        uint          `yaml:"max_attempts"`
}

// Default returns the baseline settings applied before file and environment
// overrides.
func Default() Settings {
	return Settings{
		ServiceName:  "typebus",
		LogLevel:     "info",
		OTLPEndpoint: "",
		Janitor: JanitorSettings{
			Enabled:            false,
			Interval:           30 * time.Second,
			HighWatermarkBytes: 64 << 20,
			BudgetBytes:        32 << 20,
			MaxAttempts:        3,
		},
	}
}

// Load reads settings from the YAML file at path, layered over defaults.
func Load(path string) (Settings, error) {
	s := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, errs.New("config/load", errs.CodeNotFound, errs.WithCause(err))
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, errs.New("config/load", errs.CodeInvalid, errs.WithCause(err))
	}
	return s.withEnv(), nil
}

// LoadOrDefault behaves like Load but treats a missing file as defaults.
// The boolean reports whether a file was read.
func LoadOrDefault(path string) (Settings, bool, error) {
	if path == "" {
		return Default().withEnv(), false, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default().withEnv(), false, nil
		}
		return Default(), false, errs.New("config/load", errs.CodeUnavailable, errs.WithCause(err))
	}
	s, err := Load(path)
	if err != nil {
		return s, false, err
	}
	return s, true, nil
}

// withEnv applies TYPEBUS_* environment overrides on top of s.
func (s Settings) withEnv() Settings {
	if v := strings.TrimSpace(os.Getenv("TYPEBUS_SERVICE_NAME")); v != "" {
		s.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("TYPEBUS_LOG_LEVEL")); v != "" {
		s.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("TYPEBUS_OTLP_ENDPOINT")); v != "" {
		s.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("TYPEBUS_JANITOR_ENABLED")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Janitor.Enabled = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("TYPEBUS_JANITOR_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			s.Janitor.Interval = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("TYPEBUS_JANITOR_WATERMARK_BYTES")); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			s.Janitor.HighWatermarkBytes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TYPEBUS_JANITOR_BUDGET_BYTES")); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			s.Janitor.BudgetBytes = n
		}
	}
	return s
}

// Validate rejects settings that cannot drive a running service.
func (s Settings) Validate() error {
	if s.Janitor.Enabled {
		if s.Janitor.Interval <= 0 {
			return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("janitor interval must be positive"))
		}
		if s.Janitor.BudgetBytes == 0 {
			return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("janitor budget must be positive"))
		}
	}
	return nil
}
