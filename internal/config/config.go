// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/chatsync/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatsync configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Backend API the sessions live on
	API APIConfig `toml:"api" json:"api"`

	// Signed-in identity (the auth protocol itself is external)
	Identity IdentityConfig `toml:"identity" json:"identity"`

	// Client-local storage for the session record
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Reconciliation cadence
	Sync SyncConfig `toml:"sync" json:"sync"`

	// Logging
	Log LogConfig `toml:"log" json:"log"`
}

// APIConfig contains backend connection settings.
type APIConfig struct {
	// BaseURL is the root of the session API, e.g. "http://127.0.0.1:8790"
	BaseURL string `toml:"base_url" json:"base_url"`
	// Token is sent as a bearer token on every request
	Token string `toml:"token" json:"token"`
	// TimeoutSecs bounds each individual request
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries is the number of attempts for 429/5xx responses
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RateLimit is the sustained request rate per second (0 = unlimited)
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	// RateBurst is the limiter burst size
	RateBurst int `toml:"rate_burst" json:"rate_burst"`
}

// IdentityConfig describes the signed-in user.
type IdentityConfig struct {
	// UserID of the signed-in user; empty means anonymous
	UserID string `toml:"user_id" json:"user_id"`
	// Authenticated marks sessions created under a verified identity
	Authenticated bool `toml:"authenticated" json:"authenticated"`
}

// StorageConfig selects where the session record is persisted.
type StorageConfig struct {
	// Backend is one of "file", "sqlite", "memory"
	Backend string `toml:"backend" json:"backend"`
	// Path is the file or database path (empty = under the config dir)
	Path string `toml:"path" json:"path"`
	// Key is the well-known key holding the session record
	Key string `toml:"key" json:"key"`
}

// SyncConfig holds the reconciliation policy durations.
type SyncConfig struct {
	// ValidationIntervalSecs is the validation tick period (default 600)
	ValidationIntervalSecs int `toml:"validation_interval_secs" json:"validation_interval_secs"`
	// StaleAfterSecs is how long a validation stays fresh (default 600)
	StaleAfterSecs int `toml:"stale_after_secs" json:"stale_after_secs"`
	// CleanupIntervalSecs is the full reconcile + sweep period (default 3600)
	CleanupIntervalSecs int `toml:"cleanup_interval_secs" json:"cleanup_interval_secs"`
	// GracePeriodSecs protects freshly created sessions from the sweeper (default 300)
	GracePeriodSecs int `toml:"grace_period_secs" json:"grace_period_secs"`
	// SweepListLimit caps how many sessions one sweep inspects (default 100)
	SweepListLimit int `toml:"sweep_list_limit" json:"sweep_list_limit"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error
	Level string `toml:"level" json:"level"`
	// Path writes logs to a file instead of stderr
	Path string `toml:"path" json:"path"`
	// JSON forces JSON output even on a terminal
	JSON bool `toml:"json" json:"json"`
}

// ValidationInterval returns the validation tick period.
func (s SyncConfig) ValidationInterval() time.Duration {
	return time.Duration(s.ValidationIntervalSecs) * time.Second
}

// StaleAfter returns the staleness debounce window.
func (s SyncConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterSecs) * time.Second
}

// CleanupInterval returns the cleanup tick period.
func (s SyncConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalSecs) * time.Second
}

// GracePeriod returns the creation grace window.
func (s SyncConfig) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodSecs) * time.Second
}

// Timeout returns the per-request timeout.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default is the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		API: APIConfig{
			BaseURL:     "http://127.0.0.1:8790",
			TimeoutSecs: 15,
			MaxRetries:  3,
			RateLimit:   10,
			RateBurst:   20,
		},

		Storage: StorageConfig{
			Backend: "file",
			Key:     "chat_session",
		},

		Sync: SyncConfig{
			ValidationIntervalSecs: 600,
			StaleAfterSecs:         600,
			CleanupIntervalSecs:    3600,
			GracePeriodSecs:        300,
			SweepListLimit:         100,
		},

		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// FILE LOCATIONS
// =============================================================================

// format is an on-disk config encoding.
type format int

const (
	formatTOML format = iota
	formatJSON
)

// candidates lists the config file names Load probes, highest precedence first.
var candidates = []struct {
	name string
	fmt  format
}{
	{"config.toml", formatTOML},
	{"config.json", formatJSON},
}

func formatOf(path string) format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return formatJSON
	}
	return formatTOML
}

// ConfigDir is $CHATSYNC_HOME, or ~/.chatsync when unset.
func ConfigDir() (string, error) {
	if dir := os.Getenv("CHATSYNC_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home dir: %w", err)
	}
	return filepath.Join(home, ".chatsync"), nil
}

// ConfigPathTOML is where `config init` writes and Load looks first.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, candidates[0].name), nil
}

// StoragePath resolves the storage path, defaulting into the config dir.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	switch c.Storage.Backend {
	case "sqlite":
		return filepath.Join(dir, "local.db"), nil
	default:
		return filepath.Join(dir, "local.json"), nil
	}
}

// tightenPerms narrows a config file to 0600 since it may carry the API token.
func tightenPerms(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("chmod %s (mode %o): %w", path, perm, err)
		}
	}
	return nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the first config file found in ConfigDir, or uses defaults
// when there is none. Environment overrides win over both.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err == nil {
		for _, c := range candidates {
			path := filepath.Join(dir, c.name)
			if _, statErr := os.Stat(path); statErr == nil {
				return LoadFromPath(path)
			}
		}
	}
	return finish(Default())
}

// LoadFromPath reads one config file. The encoding follows the extension:
// ".json" is JSON, anything else TOML.
func LoadFromPath(path string) (*Config, error) {
	if err := tightenPerms(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cfg := &Config{}
	if err := decodeFile(cfg, path, formatOf(path)); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.applyDefaults(Default())
	return finish(cfg)
}

func decodeFile(cfg *Config, path string, f format) error {
	if f == formatTOML {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("toml: %w", err)
		}
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

// finish applies env overrides and validates.
func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyDefaults copies d's value into every zero field of c.
func (c *Config) applyDefaults(d *Config) {
	setStr := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if *dst == 0 {
			*dst = v
		}
	}

	setStr(&c.Version, d.Version)

	setStr(&c.API.BaseURL, d.API.BaseURL)
	setInt(&c.API.TimeoutSecs, d.API.TimeoutSecs)
	setInt(&c.API.MaxRetries, d.API.MaxRetries)
	setInt(&c.API.RateBurst, d.API.RateBurst)

	setStr(&c.Storage.Backend, d.Storage.Backend)
	setStr(&c.Storage.Key, d.Storage.Key)

	setInt(&c.Sync.ValidationIntervalSecs, d.Sync.ValidationIntervalSecs)
	setInt(&c.Sync.StaleAfterSecs, d.Sync.StaleAfterSecs)
	setInt(&c.Sync.CleanupIntervalSecs, d.Sync.CleanupIntervalSecs)
	setInt(&c.Sync.GracePeriodSecs, d.Sync.GracePeriodSecs)
	setInt(&c.Sync.SweepListLimit, d.Sync.SweepListLimit)

	setStr(&c.Log.Level, d.Log.Level)
}

// =============================================================================
// SAVING
// =============================================================================

const tomlPreamble = "# chatsync configuration\n# written by `chatsync config init`\n\n"

// SaveTOML writes cfg atomically with mode 0600, creating the directory.
func SaveTOML(cfg *Config, path string) error {
	var sb strings.Builder
	sb.WriteString(tomlPreamble)
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	return save(path, []byte(sb.String()))
}

// SaveJSON is SaveTOML for the JSON encoding.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return save(path, data)
}

func save(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[:port]", c.API.BaseURL),
		})
	}
	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 300 {
		errs = append(errs, ValidationError{Field: "api.timeout_secs", Message: "must be between 1 and 300"})
	}
	if c.API.MaxRetries < 1 || c.API.MaxRetries > 10 {
		errs = append(errs, ValidationError{Field: "api.max_retries", Message: "must be between 1 and 10"})
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "api.rate_limit", Message: "must not be negative"})
	}

	validBackends := map[string]bool{"file": true, "sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: file, sqlite, memory", c.Storage.Backend),
		})
	}
	if strings.TrimSpace(c.Storage.Key) == "" {
		errs = append(errs, ValidationError{Field: "storage.key", Message: "must not be empty"})
	}

	positive := []struct {
		field string
		value int
	}{
		{"sync.validation_interval_secs", c.Sync.ValidationIntervalSecs},
		{"sync.stale_after_secs", c.Sync.StaleAfterSecs},
		{"sync.cleanup_interval_secs", c.Sync.CleanupIntervalSecs},
		{"sync.grace_period_secs", c.Sync.GracePeriodSecs},
		{"sync.sweep_list_limit", c.Sync.SweepListLimit},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{Field: p.field, Message: "must be positive"})
		}
	}
	if c.Sync.SweepListLimit > 1000 {
		errs = append(errs, ValidationError{Field: "sync.sweep_list_limit", Message: "must be at most 1000"})
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: trace, debug, info, warn, error", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHATSYNC_API_URL: overrides api.base_url
//   - CHATSYNC_TOKEN: overrides api.token
//   - CHATSYNC_USER: overrides identity.user_id
//   - CHATSYNC_STORAGE: overrides storage.backend
//   - CHATSYNC_STORAGE_PATH: overrides storage.path
//   - CHATSYNC_LOG_LEVEL: overrides log.level
//   - CHATSYNC_GRACE_SECS: overrides sync.grace_period_secs
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHATSYNC_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("CHATSYNC_USER"); v != "" {
		c.Identity.UserID = v
		c.Identity.Authenticated = true
	}
	if v := os.Getenv("CHATSYNC_STORAGE"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CHATSYNC_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CHATSYNC_GRACE_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Sync.GracePeriodSecs = secs
		}
	}
}
