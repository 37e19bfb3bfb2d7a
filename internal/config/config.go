// Package config owns process configuration.
//
// Ownership boundary:
// - TOML file loading with defaults and validation
// - environment overrides for deploy-time knobs
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	EnvAddr       = "XFERBRIDGE_ADDR"
	EnvName       = "XFERBRIDGE_NAME"
	EnvLogLevel   = "XFERBRIDGE_LOG_LEVEL"
	EnvConfigPath = "XFERBRIDGE_CONFIG"
)

// Duration is a TOML-friendly wrapper accepting "30s", "5m" style values.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Name        string   `toml:"name"`
	Addr        string   `toml:"addr"`
	LogLevel    string   `toml:"log_level"`
	CorsOrigins []string `toml:"cors_origins"`

	Session SessionConfig `toml:"session"`
	Retry   RetryConfig   `toml:"retry"`
	Probe   ProbeConfig   `toml:"probe"`
	Upload  UploadConfig  `toml:"upload"`
}

type SessionConfig struct {
	SweepInterval   Duration `toml:"sweep_interval"`
	IdleExpiry      Duration `toml:"idle_expiry"`
	OpTimeout       Duration `toml:"op_timeout"`
	TransferTimeout Duration `toml:"transfer_timeout"`
	QueueDepth      int      `toml:"queue_depth"`
}

type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
}

type ProbeConfig struct {
	ConnectTimeout  Duration `toml:"connect_timeout"`
	LivenessTimeout Duration `toml:"liveness_timeout"`
}

type UploadConfig struct {
	MaxSizeMB int64 `toml:"max_size_mb"`
}

func Default() Config {
	return Config{
		Name:        "xferbridge",
		Addr:        ":8080",
		LogLevel:    "info",
		CorsOrigins: []string{"http://localhost:3000"},
		Session: SessionConfig{
			SweepInterval:   Duration(5 * time.Minute),
			IdleExpiry:      Duration(30 * time.Minute),
			OpTimeout:       Duration(120 * time.Second),
			TransferTimeout: Duration(30 * time.Minute),
			QueueDepth:      64,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   Duration(2 * time.Second),
		},
		Probe: ProbeConfig{
			ConnectTimeout:  Duration(8 * time.Second),
			LivenessTimeout: Duration(2 * time.Second),
		},
		Upload: UploadConfig{
			MaxSizeMB: 512,
		},
	}
}

// Load reads path over the defaults. An empty path yields defaults with
// env overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return errors.New("config: addr must not be empty")
	}
	if cfg.Session.QueueDepth <= 0 {
		return errors.New("config: session.queue_depth must be positive")
	}
	if cfg.Session.SweepInterval.Std() <= 0 || cfg.Session.IdleExpiry.Std() <= 0 {
		return errors.New("config: session sweep_interval and idle_expiry must be positive")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return errors.New("config: retry.max_attempts must be positive")
	}
	if cfg.Upload.MaxSizeMB <= 0 {
		return errors.New("config: upload.max_size_mb must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvName)); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
}
