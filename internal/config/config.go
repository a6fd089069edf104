// Package config loads and validates the daemon's on-disk configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lspdaemon/lspd/internal/jsonc"
)

// LanguageConfig describes how to spawn the language server for one
// language and which directory markers identify a workspace root for it.
type LanguageConfig struct {
	Command        string   `json:"command"`
	Args           []string `json:"args,omitempty"`
	RootMarkers    []string `json:"rootMarkers,omitempty"`
	MaxConcurrency int      `json:"maxConcurrency,omitempty"`
}

// CacheConfig configures the operation cache.
type CacheConfig struct {
	TTLSeconds int `json:"ttlSeconds"`
	MaxEntries int `json:"maxEntries"`
}

// Config is the daemon's full runtime configuration.
type Config struct {
	SchemaVersion         string                    `json:"schemaVersion"`
	SocketPath            string                    `json:"socketPath,omitempty"`
	PIDPath               string                    `json:"pidPath,omitempty"`
	LogLevel              string                    `json:"logLevel,omitempty"`
	LogPath               string                    `json:"logPath,omitempty"`
	CacheDir              string                    `json:"cacheDir,omitempty"`
	RequestTimeoutSeconds int                       `json:"requestTimeoutSeconds,omitempty"`
	ShutdownDrainSeconds  int                        `json:"shutdownDrainSeconds,omitempty"`
	Cache                 CacheConfig               `json:"cache"`
	Languages             map[string]LanguageConfig `json:"languages,omitempty"`
	DiscoveryIgnoreGlobs  []string                  `json:"discoveryIgnoreGlobs,omitempty"`
}

// RequestTimeout returns the configured per-request timeout as a
// time.Duration, defaulting to 30s when unset.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownDrain returns how long the daemon waits for in-flight handlers to
// finish before cancelling them during shutdown, defaulting to 5s.
func (c *Config) ShutdownDrain() time.Duration {
	if c.ShutdownDrainSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ShutdownDrainSeconds) * time.Second
}

// CacheTTL returns the operation cache's entry TTL, defaulting to 10s,
// short enough that a stale file edit is rarely served back and long enough
// to absorb repeated keystroke-triggered queries from an editor.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// CacheCapacity returns the operation cache's max entry count, defaulting
// to 4096.
func (c *Config) CacheCapacity() int {
	if c.Cache.MaxEntries <= 0 {
		return 4096
	}
	return c.Cache.MaxEntries
}

// Default returns the built-in configuration used when no config file is
// present: no languages registered (the operator must opt each one in),
// conservative cache sizing, and platform-default socket/PID/cache paths.
func Default() *Config {
	return &Config{
		SchemaVersion: "1",
		LogLevel:      "info",
		Cache:         CacheConfig{TTLSeconds: 10, MaxEntries: 4096},
		DiscoveryIgnoreGlobs: []string{
			".git/**",
			"node_modules/**",
			"vendor/**",
			"dist/**",
			"build/**",
			"target/**",
			"**/*.min.*",
			"**/*.lock",
		},
	}
}

// Load reads, validates, and decodes a JSONC config file at path, merging
// it over Default() so a partial config file only overrides what it sets.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var asMap map[string]any
	if err := jsonc.Decode(raw, &asMap); err != nil {
		return nil, err
	}
	if err := Validate(asMap); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := jsonc.Decode(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureCacheDir creates the per-workspace cache directory, returning its
// path. workspaceID is the id from workspace.ID (derived from the git
// origin remote URL, or from a hash of the root path).
func EnsureCacheDir(base, workspaceID string) (string, error) {
	if base == "" {
		home, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("resolve user cache dir: %w", err)
		}
		base = filepath.Join(home, "lspd")
	}
	dir := filepath.Join(base, "workspaces", workspaceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return dir, nil
}

// WriteJSON writes data as indented JSON, used by the CLI-free maintenance
// paths (e.g. writing out an effective-config snapshot for debugging).
func WriteJSON(path string, data any) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
