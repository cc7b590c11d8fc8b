// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autobrr/relink/internal/services/dedupe"
	"github.com/autobrr/relink/pkg/contenthash"
)

const (
	appName    = "relink"
	configName = "config.toml"
	envPrefix  = "RELINK__"
)

// Config mirrors config.toml. Sizes are strings so human units can be used.
type Config struct {
	Roots        []string `toml:"roots" mapstructure:"roots"`
	Include      []string `toml:"include" mapstructure:"include"`
	Exclude      []string `toml:"exclude" mapstructure:"exclude"`
	ExcludeRegex []string `toml:"excludeRegex" mapstructure:"excludeRegex"`
	Filter       string   `toml:"filter" mapstructure:"filter"`

	MinFileSize     string `toml:"minFileSize" mapstructure:"minFileSize"`
	MaxFileSize     string `toml:"maxFileSize" mapstructure:"maxFileSize"`
	PartialSize     string `toml:"partialSize" mapstructure:"partialSize"`
	PartialTailSize string `toml:"partialTailSize" mapstructure:"partialTailSize"`

	Canonical   string `toml:"canonical" mapstructure:"canonical"`
	Hash        string `toml:"hash" mapstructure:"hash"`
	Verify      string `toml:"verify" mapstructure:"verify"`
	CrossDevice string `toml:"crossDevice" mapstructure:"crossDevice"`
	Timestamps  string `toml:"timestamps" mapstructure:"timestamps"`

	CrossMounts   bool `toml:"crossMounts" mapstructure:"crossMounts"`
	MatchMode     bool `toml:"matchMode" mapstructure:"matchMode"`
	MatchOwner    bool `toml:"matchOwner" mapstructure:"matchOwner"`
	MatchMtime    bool `toml:"matchMtime" mapstructure:"matchMtime"`
	MatchName     bool `toml:"matchName" mapstructure:"matchName"`
	SkipTempFiles bool `toml:"skipTempFiles" mapstructure:"skipTempFiles"`

	Workers int  `toml:"workers" mapstructure:"workers"`
	DryRun  bool `toml:"dryRun" mapstructure:"dryRun"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	MetricsFile string `toml:"metricsFile" mapstructure:"metricsFile"`
}

// AppConfig wraps the loaded Config and the viper instance it came from.
type AppConfig struct {
	Config *Config

	viper     *viper.Viper
	configDir string
	configMu  sync.Mutex
}

// setting ties a config key to its environment variable and default value.
type setting struct {
	key string
	env string
	def any
}

func settings() []setting {
	d := dedupe.DefaultConfig()
	return []setting{
		{"roots", "ROOTS", []string{}},
		{"include", "INCLUDE", []string{}},
		{"exclude", "EXCLUDE", []string{}},
		{"excludeRegex", "EXCLUDE_REGEX", []string{}},
		{"filter", "FILTER", ""},
		{"minFileSize", "MIN_FILE_SIZE", fmt.Sprint(d.MinFileSize)},
		{"maxFileSize", "MAX_FILE_SIZE", "0"},
		{"partialSize", "PARTIAL_SIZE", humanize.IBytes(uint64(d.PartialSize))},
		{"partialTailSize", "PARTIAL_TAIL_SIZE", "0"},
		{"canonical", "CANONICAL", string(d.Canonical)},
		{"hash", "HASH", string(d.Hash)},
		{"verify", "VERIFY", string(d.Verify)},
		{"crossDevice", "CROSS_DEVICE", string(d.CrossDevice)},
		{"timestamps", "TIMESTAMPS", string(d.Timestamps)},
		{"crossMounts", "CROSS_MOUNTS", d.CrossMounts},
		{"matchMode", "MATCH_MODE", d.MatchMode},
		{"matchOwner", "MATCH_OWNER", d.MatchOwner},
		{"matchMtime", "MATCH_MTIME", d.MatchMtime},
		{"matchName", "MATCH_NAME", d.MatchName},
		{"skipTempFiles", "SKIP_TEMP_FILES", d.SkipTempFiles},
		{"workers", "WORKERS", 0},
		{"dryRun", "DRY_RUN", false},
		{"logLevel", "LOG_LEVEL", "INFO"},
		{"logPath", "LOG_PATH", ""},
		{"logMaxSize", "LOG_MAX_SIZE", 50},
		{"logMaxBackups", "LOG_MAX_BACKUPS", 3},
		{"metricsFile", "METRICS_FILE", ""},
	}
}

// New prepares a configuration rooted at configDir. configDir may also point
// directly at a .toml file. Nothing is read until Load.
func New(configDir string) *AppConfig {
	if configDir == "" {
		configDir = GetDefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigType("toml")
	if strings.EqualFold(filepath.Ext(configDir), ".toml") {
		v.SetConfigFile(configDir)
		configDir = filepath.Dir(configDir)
	} else {
		v.SetConfigFile(filepath.Join(configDir, configName))
	}

	for _, s := range settings() {
		v.SetDefault(s.key, s.def)
		_ = v.BindEnv(s.key, envPrefix+s.env)
	}

	return &AppConfig{
		Config:    &Config{},
		viper:     v,
		configDir: configDir,
	}
}

// BindFlags maps command line flags onto config keys. Flags only take
// precedence when set explicitly.
func (c *AppConfig) BindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := flags.Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := c.viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", flag, err)
		}
	}
	return nil
}

// Load reads config.toml if present, then applies environment overrides.
// A missing file is not an error.
func (c *AppConfig) Load() error {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug().Str("path", c.viper.ConfigFileUsed()).Msg("No config file found, using defaults")
	}

	var cfg Config
	if err := c.viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.LogLevel = canonicalizeLogLevel(cfg.LogLevel)
	c.Config = &cfg
	return nil
}

// ConfigDir returns the directory holding config.toml.
func (c *AppConfig) ConfigDir() string {
	return c.configDir
}

// ConfigFileUsed returns the path of the config file, whether or not it exists.
func (c *AppConfig) ConfigFileUsed() string {
	return c.viper.ConfigFileUsed()
}

// ResolveLogPath makes a relative log path relative to the config directory.
func (c *AppConfig) ResolveLogPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.configDir, path)
}

// ApplyLogConfig points the global logger at the configured outputs.
func (c *AppConfig) ApplyLogConfig(lm *LogManager) error {
	return lm.Apply(c.Config.LogLevel, c.ResolveLogPath(c.Config.LogPath), c.Config.LogMaxSize, c.Config.LogMaxBackups)
}

// DedupeConfig converts the loaded settings into an engine configuration.
// Problems are reported as *dedupe.ConfigError.
func (c *AppConfig) DedupeConfig() (dedupe.Config, error) {
	src := c.Config
	out := dedupe.DefaultConfig()

	sizes := []struct {
		field string
		raw   string
		dst   *int64
	}{
		{"minFileSize", src.MinFileSize, &out.MinFileSize},
		{"maxFileSize", src.MaxFileSize, &out.MaxFileSize},
		{"partialSize", src.PartialSize, &out.PartialSize},
		{"partialTailSize", src.PartialTailSize, &out.PartialTailSize},
	}
	for _, s := range sizes {
		if strings.TrimSpace(s.raw) == "" {
			continue
		}
		n, err := ParseSize(s.raw)
		if err != nil {
			return dedupe.Config{}, &dedupe.ConfigError{Field: s.field, Reason: err.Error()}
		}
		*s.dst = n
	}

	out.Roots = src.Roots
	out.Include = src.Include
	out.Exclude = src.Exclude
	out.ExcludeRegex = src.ExcludeRegex
	out.Filter = src.Filter

	out.Canonical = dedupe.CanonicalPolicy(strings.ToLower(src.Canonical))
	out.Hash = contenthash.Algorithm(strings.ToLower(src.Hash))
	out.Verify = dedupe.VerifyMode(strings.ToLower(src.Verify))
	out.CrossDevice = dedupe.CrossDevicePolicy(strings.ToLower(src.CrossDevice))
	out.Timestamps = dedupe.TimestampPolicy(strings.ToLower(src.Timestamps))

	out.CrossMounts = src.CrossMounts
	out.MatchMode = src.MatchMode
	out.MatchOwner = src.MatchOwner
	out.MatchMtime = src.MatchMtime
	out.MatchName = src.MatchName
	out.SkipTempFiles = src.SkipTempFiles
	out.DryRun = src.DryRun
	if src.Workers > 0 {
		out.Workers = src.Workers
	}

	return out, nil
}

// ParseSize accepts plain byte counts and human sizes such as 4k or 1MiB.
func ParseSize(raw string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", raw, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %q is too large", raw)
	}
	return int64(n), nil
}

// GetDefaultConfigDir returns $XDG_CONFIG_HOME/relink, falling back to the
// platform config location.
func GetDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", appName)
}
