// Package config loads promptgit settings from defaults, an optional config file,
// PROMPTGIT_* environment variables and command-line flags, in increasing precedence.
package config

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/skosovsky/promptgit/cache"
	"github.com/skosovsky/promptgit/registry"
	"github.com/skosovsky/promptgit/worktree"
)

// EnvPrefix prefixes every environment variable; PROMPTGIT_CACHE_TTL sets cache_ttl.
const EnvPrefix = "PROMPTGIT"

// ConfigEnv names a config file when --config is not given.
const ConfigEnv = EnvPrefix + "_CONFIG"

// DefaultRepoDir is the repository used when neither repo nor default_repo is set.
const DefaultRepoDir = "./prompts"

// Keys.
const (
	KeyRepo             = "repo"
	KeyDefaultRepo      = "default_repo"
	KeyCacheRoot        = "cache_root"
	KeyCacheEnabled     = "cache_enabled"
	KeyCacheTTL         = "cache_ttl"
	KeyCacheMaxEntries  = "cache_max_entries"
	KeyMaxSnapshots     = "max_snapshots"
	KeyIdleThreshold    = "idle_threshold"
	KeyGCInterval       = "gc_interval"
	KeySnapshotTimeout  = "snapshot_timeout"
	KeyLoadTimeout      = "load_timeout"
	KeyLogLevel         = "log_level"
	KeyLogFormat        = "log_format"
	KeyListen           = "listen"
	KeyValidateOnRender = "validate_on_render"
)

// Config holds the settings shared by every command.
type Config struct {
	Repo             string        `mapstructure:"repo"`
	DefaultRepo      string        `mapstructure:"default_repo"`
	CacheRoot        string        `mapstructure:"cache_root"`
	CacheEnabled     bool          `mapstructure:"cache_enabled"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	CacheMaxEntries  int           `mapstructure:"cache_max_entries"`
	MaxSnapshots     int           `mapstructure:"max_snapshots"`
	IdleThreshold    time.Duration `mapstructure:"idle_threshold"`
	GCInterval       time.Duration `mapstructure:"gc_interval"`
	SnapshotTimeout  time.Duration `mapstructure:"snapshot_timeout"`
	LoadTimeout      time.Duration `mapstructure:"load_timeout"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	Listen           string        `mapstructure:"listen"`
	ValidateOnRender bool          `mapstructure:"validate_on_render"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRepo, "")
	v.SetDefault(KeyDefaultRepo, "")
	v.SetDefault(KeyCacheRoot, registry.DefaultCacheRoot())
	v.SetDefault(KeyCacheEnabled, true)
	v.SetDefault(KeyCacheTTL, cache.DefaultTTL)
	v.SetDefault(KeyCacheMaxEntries, 0)
	v.SetDefault(KeyMaxSnapshots, worktree.DefaultMaxSnapshots)
	v.SetDefault(KeyIdleThreshold, worktree.DefaultIdleThreshold)
	v.SetDefault(KeyGCInterval, time.Minute)
	v.SetDefault(KeySnapshotTimeout, worktree.DefaultCreateTimeout)
	v.SetDefault(KeyLoadTimeout, cache.DefaultLoadTimeout)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyListen, "127.0.0.1:8080")
	v.SetDefault(KeyValidateOnRender, true)
}

// New returns a viper instance with defaults and environment binding in place.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag of flags whose name, with dashes turned into underscores, is a key.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !isKey(key) {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

func isKey(key string) bool {
	switch key {
	case KeyRepo, KeyDefaultRepo, KeyCacheRoot, KeyCacheEnabled, KeyCacheTTL, KeyCacheMaxEntries, KeyMaxSnapshots,
		KeyIdleThreshold, KeyGCInterval, KeySnapshotTimeout, KeyLoadTimeout, KeyLogLevel, KeyLogFormat, KeyListen, KeyValidateOnRender:
		return true
	}
	return false
}

// Load reads file (or $PROMPTGIT_CONFIG, or promptgit.{yaml,json,toml} in the current
// directory and $HOME/.config/promptgit) into v and decodes the result.
// A missing file is only an error when it was named explicitly.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file == "" {
		file = os.Getenv(ConfigEnv)
	}
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("promptgit")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/promptgit")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Target is the repository commands operate on: repo, else default_repo, else DefaultRepoDir.
func (c *Config) Target() string {
	return cmp.Or(c.Repo, c.DefaultRepo, DefaultRepoDir)
}

// SaveDefaultRepo persists name as default_repo in the config file v was loaded from, or in
// $HOME/.config/promptgit/promptgit.yaml when none was. Other settings of the file are kept;
// values that came from flags or the environment are not written. An empty name clears it.
// It returns the file written.
func SaveDefaultRepo(v *viper.Viper, name string) (string, error) {
	file := v.ConfigFileUsed()
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		file = filepath.Join(home, ".config", "promptgit", "promptgit.yaml")
	}
	fv := viper.New()
	fv.SetConfigFile(file)
	if err := fv.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("config: read %s: %w", file, err)
	}
	fv.Set(KeyDefaultRepo, name)
	if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
		return "", fmt.Errorf("config: %w", err)
	}
	if err := fv.WriteConfigAs(file); err != nil {
		return "", fmt.Errorf("config: write %s: %w", file, err)
	}
	v.Set(KeyDefaultRepo, name)
	return file, nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.CacheRoot == "" {
		errs = append(errs, errors.New("cache_root must not be empty"))
	}
	if c.CacheMaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache_max_entries must not be negative, got %d", c.CacheMaxEntries))
	}
	if c.MaxSnapshots < 0 {
		errs = append(errs, fmt.Errorf("max_snapshots must not be negative, got %d", c.MaxSnapshots))
	}
	if c.IdleThreshold < 0 {
		errs = append(errs, fmt.Errorf("idle_threshold must not be negative, got %s", c.IdleThreshold))
	}
	if c.GCInterval < 0 {
		errs = append(errs, fmt.Errorf("gc_interval must not be negative, got %s", c.GCInterval))
	}
	if c.SnapshotTimeout < 0 {
		errs = append(errs, fmt.Errorf("snapshot_timeout must not be negative, got %s", c.SnapshotTimeout))
	}
	if c.LoadTimeout < 0 {
		errs = append(errs, fmt.Errorf("load_timeout must not be negative, got %s", c.LoadTimeout))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Logger builds a logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// EffectiveTTL is the cache lifetime, or zero when caching is disabled.
func (c *Config) EffectiveTTL() time.Duration {
	if !c.CacheEnabled {
		return 0
	}
	return c.CacheTTL
}

// RegistryOptions translates the settings into registry options.
func (c *Config) RegistryOptions(logger *slog.Logger) []registry.Option {
	opts := []registry.Option{
		registry.WithCacheRoot(c.CacheRoot),
		registry.WithLogger(logger),
		registry.WithCacheOptions(
			cache.WithTTL(c.EffectiveTTL()),
			cache.WithMaxEntries(c.CacheMaxEntries),
			cache.WithLoadTimeout(c.LoadTimeout),
		),
		registry.WithWorktreeOptions(
			worktree.WithMaxSnapshots(c.MaxSnapshots),
			worktree.WithIdleThreshold(c.IdleThreshold),
			worktree.WithCreateTimeout(c.SnapshotTimeout),
		),
	}
	if !c.ValidateOnRender {
		opts = append(opts, registry.WithoutRenderValidation())
	}
	return opts
}
