// Package config loads the orchestrator's TOML configuration file
// (spec.md §6), following the load-with-fallback-to-defaults idiom the
// teacher repo uses for its own JSON config in
// pkg/infrastructure/config/config.go: a missing or malformed file never
// fails startup, it just yields defaults.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config mirrors spec.md §6's configuration table.
type Config struct {
	Persistence Persistence `toml:"persistence"`
	Preferences Preferences `toml:"preferences"`
	Transfer    Transfer    `toml:"transfer"`
}

type Persistence struct {
	History bool `toml:"history"`
}

type Preferences struct {
	Theme      string `toml:"theme"`
	KeyPreset  string `toml:"key_preset"`
	ReceiveDir string `toml:"receive_dir"`
}

type Transfer struct {
	MaxConcurrentSends    int `toml:"max_concurrent_sends"`
	MaxConcurrentReceives int `toml:"max_concurrent_receives"`
}

// Defaults matches spec.md §6's stated defaults: history persistence on,
// 50 concurrent sends and receives each.
func Defaults() Config {
	return Config{
		Persistence: Persistence{History: true},
		Preferences: Preferences{Theme: "default", KeyPreset: "default"},
		Transfer: Transfer{
			MaxConcurrentSends:    50,
			MaxConcurrentReceives: 50,
		},
	}
}

// Load reads the TOML file at path, falling back to Defaults() (merged
// over any keys the file did omit) when the file is missing or fails to
// parse. Unknown keys are ignored, per spec.md §6.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, nil
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Defaults(), nil
	}

	cfg.normalize()
	return cfg, nil
}

// normalize clamps fields the file may have zeroed out back to a usable
// minimum, so a partially-specified [transfer] table doesn't disable
// scheduling entirely.
func (c *Config) normalize() {
	if c.Transfer.MaxConcurrentSends < 1 {
		c.Transfer.MaxConcurrentSends = 50
	}
	if c.Transfer.MaxConcurrentReceives < 1 {
		c.Transfer.MaxConcurrentReceives = 50
	}
}

// DefaultPath returns the platform config file location: the directory
// os.UserConfigDir() reports, under a "tuit" subdirectory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tuit", "config.toml"), nil
}
