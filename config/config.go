// Package config resolves engine configuration from embedded defaults, an
// optional YAML file, and CONVEYOR_* environment variables, in that order.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/msageha/conveyor/templates"
)

const (
	envPrefix             = "conveyor"
	defaultConfigFileName = "config.yaml"
)

// Inconsistency policies: what the runner does when a step is recorded
// completed but its expected outputs are missing.
const (
	InconsistencyWarnAndRun      = "warn_and_run"
	InconsistencyWarnAndContinue = "warn_and_continue"
)

// Config is the resolved engine configuration.
type Config struct {
	// GracePeriod is the SIGTERM→SIGKILL window for child process groups.
	GracePeriod time.Duration

	// InconsistencyPolicy is one of the Inconsistency* constants.
	InconsistencyPolicy string

	// StopWinsOverStart breaks the tie when a stop boundary precedes the
	// requested start point.
	StopWinsOverStart bool

	LogLevel slog.Level

	// Tools maps tool names to executables for the command toolkit.
	Tools map[string]string

	// Parameters are free-form argument strings merged into toolkit
	// commands, keyed by tool name.
	Parameters map[string]string
}

// DefaultPath returns $XDG_CONFIG_HOME/conveyor, falling back to
// ~/.config/conveyor.
func DefaultPath() (string, error) {
	val, set := os.LookupEnv("XDG_CONFIG_HOME")
	if !set || val == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		val = filepath.Join(home, ".config")
	}
	return os.ExpandEnv(filepath.Join(val, "conveyor")), nil
}

func DefaultFilePath() (string, error) {
	path, err := DefaultPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(path, defaultConfigFileName), nil
}

// Load reads configuration. An empty path uses the default location when a
// file exists there; a given path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	defaults, err := templates.FS.ReadFile("config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}

	if path == "" {
		if p, err := DefaultFilePath(); err == nil {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	} else {
		path = os.ExpandEnv(path)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := v.MergeConfig(f); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		GracePeriod:         time.Duration(v.GetInt("engine.grace_period_sec")) * time.Second,
		InconsistencyPolicy: v.GetString("engine.inconsistency_policy"),
		StopWinsOverStart:   v.GetBool("engine.stop_wins_over_start"),
		LogLevel:            LevelFromString(v.GetString("logging.level")),
		Tools:               v.GetStringMapString("tools"),
		Parameters:          v.GetStringMapString("parameters"),
	}

	if c.GracePeriod <= 0 {
		return nil, fmt.Errorf("engine.grace_period_sec must be positive, got %s", c.GracePeriod)
	}
	switch c.InconsistencyPolicy {
	case InconsistencyWarnAndRun, InconsistencyWarnAndContinue:
	default:
		return nil, fmt.Errorf("unknown engine.inconsistency_policy %q", c.InconsistencyPolicy)
	}
	return c, nil
}

// LevelFromString maps a config level name onto a slog level. Unknown
// names fall back to info.
func LevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
