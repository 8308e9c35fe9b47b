// Package config handles configuration loading for conductor. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for conductor.
type Config struct {
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DefaultsConfig holds default values for delegations.
type DefaultsConfig struct {
	// Timeout bounds each delegation unless overridden per call.
	Timeout time.Duration `mapstructure:"timeout"`
	// Priority is the default task priority.
	Priority string `mapstructure:"priority"`
}

// ChannelConfig selects and configures the external execution channel.
type ChannelConfig struct {
	// Kind is "cli" or "api".
	Kind string `mapstructure:"kind"`
	// Model optionally overrides the model used by the channel.
	Model string `mapstructure:"model"`
	// APIKey is the Anthropic API key for the api channel.
	APIKey string `mapstructure:"api_key"`
}

// FilterConfig configures the context filter engine.
type FilterConfig struct {
	// PolicyFile optionally points at a YAML file of extra filter
	// policies loaded at startup.
	PolicyFile string `mapstructure:"policy_file"`
}

// DirectoryConfig configures the agent template directory.
type DirectoryConfig struct {
	// TTL is how long the template index is trusted between rebuilds.
	TTL time.Duration `mapstructure:"ttl"`
	// Watch enables filesystem watching of the discovery roots.
	Watch bool `mapstructure:"watch"`
}

// MetricsConfig configures metric persistence.
type MetricsConfig struct {
	// Persist enables writing per-delegation metrics to the project
	// database.
	Persist bool `mapstructure:"persist"`
}

// projectConfigName is the project-level override file.
const projectConfigName = ".conductor.yaml"

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (CONDUCTOR_*, ANTHROPIC_API_KEY)
// 2. Project config (.conductor.yaml in current directory or a parent)
// 3. User config (~/.config/conductor/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("channel.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Channel.APIKey = expandEnv(cfg.Channel.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Channel.APIKey = expandEnv(cfg.Channel.APIKey)
	return cfg, nil
}

// setDefaults installs the built-in defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("defaults.timeout", 5*time.Minute)
	v.SetDefault("defaults.priority", "medium")
	v.SetDefault("channel.kind", "cli")
	v.SetDefault("directory.ttl", 5*time.Minute)
	v.SetDefault("directory.watch", false)
	v.SetDefault("metrics.persist", true)
}

// getUserConfigDir returns the XDG config directory for conductor.
func getUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conductor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "conductor")
}

// findProjectConfig walks from the current directory upward looking for
// the project config file.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, projectConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a value.
func expandEnv(s string) string {
	if strings.Contains(s, "${") {
		return os.ExpandEnv(s)
	}
	return s
}
