package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/modvisr/internal/discovery"
	"github.com/loykin/modvisr/internal/env"
	"github.com/loykin/modvisr/internal/logger"
	"github.com/loykin/modvisr/internal/manager"
	"github.com/loykin/modvisr/internal/process"
)

// EnvPrefix prefixes environment overrides, e.g. MODVISR_DISCOVERY_CONCURRENCY.
const EnvPrefix = "MODVISR"

// Config is the top-level TOML structure.
type Config struct {
	Testing     bool            `mapstructure:"testing"`
	Verbose     bool            `mapstructure:"verbose"`
	Autostart   []string        `mapstructure:"autostart"`
	StopTimeout time.Duration   `mapstructure:"stop_timeout"`
	Discovery   DiscoveryConfig `mapstructure:"discovery"`
	Env         EnvConfig       `mapstructure:"env"`
	Log         LogConfig       `mapstructure:"log"`
	Output      OutputConfig    `mapstructure:"output"`
	History     HistoryConfig   `mapstructure:"history"`
	Server      ServerConfig    `mapstructure:"server"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
}

type DiscoveryConfig struct {
	BundledDir   string        `mapstructure:"bundled_dir"`
	SearchPath   []string      `mapstructure:"search_path"` // empty uses $PATH
	Prefixes     []string      `mapstructure:"prefixes"`
	ServerMarker string        `mapstructure:"server_marker"`
	Concurrency  int           `mapstructure:"concurrency"`
	Timeout      time.Duration `mapstructure:"timeout"` // 0 means no deadline
}

// EnvConfig builds the environment of module processes. When nothing is set
// modules inherit the supervisor environment unchanged.
type EnvConfig struct {
	UseOSEnv bool     `mapstructure:"use_os_env"`
	Files    []string `mapstructure:"files"`
	Vars     []string `mapstructure:"vars"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Timestamps bool   `mapstructure:"timestamps"`
	Dir        string `mapstructure:"dir"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type OutputConfig struct {
	Dir          string `mapstructure:"dir"` // tee raw module output into rotating files here
	QueueSize    int    `mapstructure:"queue_size"`
	MaxLineBytes int    `mapstructure:"max_line_bytes"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // separate listener; empty mounts /metrics on the API server
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("testing", false)
	v.SetDefault("verbose", false)
	v.SetDefault("autostart", []string{"aw-server", "aw-watcher-afk", "aw-watcher-window"})
	v.SetDefault("stop_timeout", manager.DefaultStopTimeout)
	v.SetDefault("discovery.prefixes", discovery.DefaultPrefixes)
	v.SetDefault("discovery.server_marker", manager.DefaultServerMarker)
	v.SetDefault("discovery.concurrency", discovery.DefaultConcurrency)
	v.SetDefault("discovery.timeout", time.Duration(0))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("output.queue_size", process.DefaultQueueSize)
	v.SetDefault("output.max_line_bytes", process.DefaultMaxLineBytes)
	v.SetDefault("server.base_path", "/api")
}

// NewViper returns a viper instance with defaults and MODVISR_* environment
// overrides wired.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional TOML file at path on top of the defaults and the
// environment.
func Load(path string) (*Config, error) {
	return LoadViper(NewViper(), path)
}

// LoadViper is Load on a caller-prepared viper, e.g. one with CLI flags bound.
func LoadViper(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.Autostart = splitList(c.Autostart)
	c.Discovery.SearchPath = splitList(c.Discovery.SearchPath)
	c.Discovery.Prefixes = splitList(c.Discovery.Prefixes)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// splitList accepts both TOML arrays and the comma separated form used by
// flags and environment variables.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Discovery.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("discovery.concurrency must be >= 1, got %d", c.Discovery.Concurrency))
	}
	if c.Discovery.Timeout < 0 {
		errs = append(errs, errors.New("discovery.timeout must not be negative"))
	}
	if len(c.Discovery.Prefixes) == 0 {
		errs = append(errs, errors.New("discovery.prefixes must not be empty"))
	}
	if c.Output.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("output.queue_size must be >= 1, got %d", c.Output.QueueSize))
	}
	if c.Output.MaxLineBytes < 1 {
		errs = append(errs, fmt.Errorf("output.max_line_bytes must be >= 1, got %d", c.Output.MaxLineBytes))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, errors.New("stop_timeout must be positive"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logger.FormatText, logger.FormatJSON, logger.FormatColor:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LoggerConfig converts the [log] section.
func (c *Config) LoggerConfig() logger.Config {
	level := c.Log.Level
	if c.Verbose {
		level = "debug"
	}
	return logger.Config{
		Level:      level,
		Format:     c.Log.Format,
		TimeStamps: c.Log.Timestamps,
		File: logger.FileConfig{
			Dir:        c.Log.Dir,
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// ProcessOutput converts the [output] section; rotation follows [log].
func (c *Config) ProcessOutput() process.OutputConfig {
	lc := c.LoggerConfig()
	lc.File.Dir = c.Output.Dir
	lc.File.Path = ""
	return process.OutputConfig{
		QueueSize:    c.Output.QueueSize,
		MaxLineBytes: c.Output.MaxLineBytes,
		Log:          lc,
	}
}

// ModuleEnv composes the module environment. It returns nil when no [env]
// setting is present, meaning modules inherit the supervisor environment.
func (c *Config) ModuleEnv() ([]string, error) {
	ec := c.Env
	if !ec.UseOSEnv && len(ec.Files) == 0 && len(ec.Vars) == 0 {
		return nil, nil
	}
	e := env.New(ec.UseOSEnv)
	for _, f := range ec.Files {
		if err := e.LoadFile(f); err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
	}
	e.SetPairs(ec.Vars)
	return e.Merge(), nil
}

// SearchPath returns the configured search path, or the directories of
// $PATH when none is configured.
func (c *Config) SearchPath() []string {
	if len(c.Discovery.SearchPath) > 0 {
		return c.Discovery.SearchPath
	}
	return discovery.SearchPathFromEnv()
}

// Matcher returns the module-name matcher for the configured prefixes.
func (c *Config) Matcher() discovery.Matcher {
	return discovery.Matcher{Prefixes: append([]string(nil), c.Discovery.Prefixes...)}
}
