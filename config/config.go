package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"cdpcore/native/cdp"
)

// Storage selects the key-value backend holding engine state.
type Storage struct {
	// Backend is one of "memory", "leveldb", or "bolt".
	Backend string `toml:"Backend"`
	// Path is the on-disk location for persistent backends.
	Path string `toml:"Path"`
}

// Config is the top-level engine configuration, decoded from TOML.
type Config struct {
	Storage Storage    `toml:"storage"`
	CDP     cdp.Config `toml:"cdp"`
}

// Default returns the configuration applied when no file is supplied.
func Default() Config {
	return Config{
		Storage: Storage{Backend: "memory"},
		CDP:     cdp.Config{}.Normalize(),
	}
}

// Load reads, normalises, and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.CDP = cfg.CDP.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for consistent values.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "", "memory":
	case "leveldb", "bolt":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage backend %s requires a path", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	return c.CDP.Validate()
}
