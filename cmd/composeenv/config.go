package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/artpar/composeenv/internal/core/descriptor"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all command configuration.
type Config struct {
	Environment descriptor.Descriptor `mapstructure:"environment"`
	Compose     ComposeConfig         `mapstructure:"compose"`
	Docker      DockerConfig          `mapstructure:"docker"`
	Log         LogConfig             `mapstructure:"log"`
}

// ComposeConfig holds file locations.
type ComposeConfig struct {
	// WorkDir is where the compose file search starts. Empty means the
	// current directory.
	WorkDir string `mapstructure:"work_dir"`
	// StateDir holds effective compose files between up and down.
	StateDir string `mapstructure:"state_dir"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Environment defaults mirror descriptor.Defaults
	d := descriptor.Defaults()
	v.SetDefault("environment.project_name", "")
	v.SetDefault("environment.compose_file", d.ComposeFile)
	v.SetDefault("environment.ports", map[string][]int{})
	v.SetDefault("environment.services_to_remove", []string{})
	v.SetDefault("environment.markers", map[string][]string{})
	v.SetDefault("environment.marker_order", string(d.MarkerOrder))
	v.SetDefault("environment.ignore_port_listening", map[string][]int{})
	v.SetDefault("environment.start_timeout", d.StartTimeout.String())
	v.SetDefault("environment.stop_timeout", d.StopTimeout.String())
	v.SetDefault("environment.poll_interval", d.PollInterval.String())
	v.SetDefault("environment.generate_image_based_compose", d.GenerateImageBasedCompose)
	v.SetDefault("environment.wait_for_ports_listen", d.WaitForPortsListen)
	v.SetDefault("environment.down_on_complete", d.DownOnComplete)
	v.SetDefault("environment.try_find_existing_environment", d.TryFindExistingEnvironment)
	v.SetDefault("environment.is_external_compose", d.IsExternalCompose)
	v.SetDefault("environment.keep_on_startup_failure", d.KeepOnStartupFailure)
	v.SetDefault("environment.docker_host", d.DockerHost)
	v.SetDefault("environment.port_range_start", d.PortRangeStart)
	v.SetDefault("environment.port_range_end", d.PortRangeEnd)

	v.SetDefault("compose.work_dir", "")
	v.SetDefault("compose.state_dir", "")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("COMPOSEENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Environment.Ports == nil {
		cfg.Environment.Ports = map[string][]int{}
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to stderr so stdout carries only command output.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
