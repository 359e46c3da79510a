// Package config loads quill settings from quill.toml, QUILL_* environment
// variables and defaults, in that order of precedence after flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// FileName is the config file name without extension.
const FileName = "quill"

// Config is the full set of settings.
type Config struct {
	Owner    string         `mapstructure:"owner"`
	Store    StoreConfig    `mapstructure:"store"`
	Push     PushConfig     `mapstructure:"push"`
	Autosave AutosaveConfig `mapstructure:"autosave"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	AI       AIConfig       `mapstructure:"ai"`
	Log      LogConfig      `mapstructure:"log"`

	// File is the config file that was read, or "" if none was found.
	File string `mapstructure:"-"`
}

// StoreConfig locates the notes database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// PushConfig configures the realtime push server and client.
type PushConfig struct {
	// Addr is where `quill serve` listens.
	Addr string `mapstructure:"addr"`

	// URL is the push server clients subscribe to. When empty, clients use
	// the in-process feed of the local store.
	URL string `mapstructure:"url"`
}

type AutosaveConfig struct {
	QuietPeriod time.Duration `mapstructure:"quiet_period"`
}

type CacheConfig struct {
	CoalesceWindow time.Duration `mapstructure:"coalesce_window"`
}

type RealtimeConfig struct {
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// AIConfig selects and tunes the enrichment provider.
type AIConfig struct {
	Provider        string  `mapstructure:"provider"`
	Model           string  `mapstructure:"model"`
	APIKey          string  `mapstructure:"api_key"`
	Temperature     float64 `mapstructure:"temperature"`
	TopK            int     `mapstructure:"top_k"`
	TopP            float64 `mapstructure:"top_p"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Verbose    bool   `mapstructure:"verbose"`
}

// Providers lists the accepted ai.provider values.
var Providers = []string{"anthropic", "none"}

// Defaults returns every setting's default value, keyed as in the file.
func Defaults() map[string]interface{} {
	data := DataDir()
	return map[string]interface{}{
		"owner":                    "",
		"store.path":               filepath.Join(data, "notes.db"),
		"push.addr":                "127.0.0.1:8787",
		"push.url":                 "",
		"autosave.quiet_period":    2 * time.Second,
		"cache.coalesce_window":    100 * time.Millisecond,
		"realtime.reconnect_delay": time.Second,
		"ai.provider":              "anthropic",
		"ai.model":                 "claude-haiku-4-5",
		"ai.api_key":               "",
		"ai.temperature":           0.7,
		"ai.top_k":                 40,
		"ai.top_p":                 0.95,
		"ai.max_output_tokens":     1024,
		"log.file":                 filepath.Join(data, "quill.log"),
		"log.max_size_mb":          10,
		"log.max_backups":          3,
		"log.verbose":              false,
	}
}

// New returns a viper instance with quill's defaults, search paths and
// environment bindings. Callers may bind flags to it before Load.
func New(path string) *viper.Viper {
	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ai.api_key", "QUILL_AI_API_KEY", "ANTHROPIC_API_KEY")

	return v
}

// Load reads the config file, if any, and decodes the result.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c *Config) Validate() error {
	var problems []string

	durations := map[string]time.Duration{
		"autosave.quiet_period":    c.Autosave.QuietPeriod,
		"cache.coalesce_window":    c.Cache.CoalesceWindow,
		"realtime.reconnect_delay": c.Realtime.ReconnectDelay,
	}
	for _, key := range []string{"autosave.quiet_period", "cache.coalesce_window", "realtime.reconnect_delay"} {
		if durations[key] < 0 {
			problems = append(problems, fmt.Sprintf("%s must not be negative", key))
		}
	}

	if c.AI.Temperature < 0 || c.AI.Temperature > 1 {
		problems = append(problems, "ai.temperature must be between 0 and 1")
	}
	if c.AI.TopP <= 0 || c.AI.TopP > 1 {
		problems = append(problems, "ai.top_p must be in (0, 1]")
	}
	if c.AI.TopK < 0 {
		problems = append(problems, "ai.top_k must not be negative")
	}
	if c.AI.MaxOutputTokens <= 0 {
		problems = append(problems, "ai.max_output_tokens must be positive")
	}
	if !validProvider(c.AI.Provider) {
		problems = append(problems, fmt.Sprintf("ai.provider must be one of %s", strings.Join(Providers, ", ")))
	}
	if c.Store.Path == "" {
		problems = append(problems, "store.path is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validProvider(p string) bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// WriteDefault writes a starter config file to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(fileLayout(Defaults())); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// fileLayout nests dotted keys into tables and renders durations as
// strings, which is how viper reads them back.
func fileLayout(flat map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range flat {
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}

		section, name, nested := strings.Cut(key, ".")
		if !nested {
			out[key] = value
			continue
		}
		table, ok := out[section].(map[string]interface{})
		if !ok {
			table = make(map[string]interface{})
			out[section] = table
		}
		table[name] = value
	}
	return out
}

// ConfigDir returns the directory searched for quill.toml.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "quill")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "quill")
}

// DataDir returns the directory holding the database and log file.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "quill")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "quill")
}
