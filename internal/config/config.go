// Package config loads the docker-build-step configuration.
//
// Values are layered with github.com/spf13/viper, highest priority first:
//
//  1. command-line flags bound by the cli package
//  2. DOCKER_BUILD_STEP_* environment variables (the build ID also falls
//     back to BUILD_TAG, which Jenkins and compatible CI servers export)
//  3. a YAML file given with --config, or docker-build-step.yaml in the
//     working directory
//  4. built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppName is used for the config file name and the env prefix.
	AppName = "docker-build-step"

	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "DOCKER_BUILD_STEP"

	// DefaultBuildID is used when neither a flag nor the environment names
	// the build, e.g. when running steps by hand.
	DefaultBuildID = "local"

	// DefaultStateDir is where record store files live, relative to the
	// working directory (normally the build workspace).
	DefaultStateDir = ".docker-build-step"

	// DefaultStopTimeout is how long stop waits before the daemon kills
	// the container.
	DefaultStopTimeout = 10 * time.Second
)

// Config holds resolved settings for one CLI invocation.
type Config struct {
	// BuildID scopes the record store. Steps of the same build must agree
	// on it.
	BuildID string `mapstructure:"build_id"`

	// StateDir is the directory holding record store files.
	StateDir string `mapstructure:"state_dir"`

	// DockerHost overrides daemon detection when non-empty.
	DockerHost string `mapstructure:"docker_host"`

	// APIVersion pins the Docker API version. Empty means negotiate.
	APIVersion string `mapstructure:"api_version"`

	// StopTimeout is the grace period for stop.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		BuildID:     DefaultBuildID,
		StateDir:    DefaultStateDir,
		StopTimeout: DefaultStopTimeout,
		LogLevel:    "info",
	}
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// ConfigFile is an explicit config file path. When set the file must
	// exist.
	ConfigFile string

	// Flags, when non-nil, are bound on top of every other source. Flag
	// names use dashes ("build-id") and map to the underscore keys.
	Flags *pflag.FlagSet
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"build":       "build_id",
	"state-dir":   "state_dir",
	"docker-host": "docker_host",
	"api-version": "api_version",
	"log-level":   "log_level",
}

// Load resolves the configuration from all sources.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("build_id", defaults.BuildID)
	v.SetDefault("state_dir", defaults.StateDir)
	v.SetDefault("docker_host", defaults.DockerHost)
	v.SetDefault("api_version", defaults.APIVersion)
	v.SetDefault("stop_timeout", defaults.StopTimeout)
	v.SetDefault("log_level", defaults.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("build_id", EnvPrefix+"_BUILD_ID", "BUILD_TAG"); err != nil {
		return nil, fmt.Errorf("failed to bind build id environment: %w", err)
	}

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, explicit string) error {
	v.SetConfigType("yaml")

	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return fmt.Errorf("config file not found: %s: %w", explicit, err)
		}
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName(AppName)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Validate checks the resolved values.
func (c *Config) Validate() error {
	if c.BuildID == "" {
		return fmt.Errorf("build id must not be empty")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state directory must not be empty")
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("stop timeout must not be negative, got %s", c.StopTimeout)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// StatePath returns StateDir as an absolute path.
func (c *Config) StatePath() (string, error) {
	abs, err := filepath.Abs(c.StateDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve state directory %q: %w", c.StateDir, err)
	}
	return abs, nil
}
