package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the optional linkback configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
}

// DefaultsConfig holds persistent flag defaults. A nil field means the key
// was absent and the built-in default applies.
type DefaultsConfig struct {
	Workers       *int    `toml:"workers"`
	Compare       *string `toml:"compare"`
	ModifyWindow  *string `toml:"modify_window"`
	BWLimit       *string `toml:"bwlimit"`
	Verify        *bool   `toml:"verify"`
	Manifest      *bool   `toml:"manifest"`
	IgnoreFile    *string `toml:"ignore_file"`
	PreserveOwner *bool   `toml:"preserve_owner"`
	MetricsFile   *string `toml:"metrics_file"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "linkback", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile decodes and validates the config file at path.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that the flag layer would otherwise reject late.
func (c Config) Validate() error {
	d := c.Defaults
	if d.Workers != nil && *d.Workers < 1 {
		return fmt.Errorf("defaults.workers must be positive, got %d", *d.Workers)
	}
	if d.Compare != nil && *d.Compare != "metadata" && *d.Compare != "content" {
		return fmt.Errorf("defaults.compare must be \"metadata\" or \"content\", got %q", *d.Compare)
	}
	if d.ModifyWindow != nil {
		w, err := time.ParseDuration(*d.ModifyWindow)
		if err != nil {
			return fmt.Errorf("defaults.modify_window: %w", err)
		}
		if w < 0 {
			return fmt.Errorf("defaults.modify_window must not be negative")
		}
	}
	if d.BWLimit != nil {
		if _, err := ParseSize(*d.BWLimit); err != nil {
			return fmt.Errorf("defaults.bwlimit: %w", err)
		}
	}
	return nil
}
