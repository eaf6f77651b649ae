// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Service ServiceConfig `toml:"service"`
	Store   StoreConfig   `toml:"store"`
	Capture CaptureConfig `toml:"capture"`
	UI      UIConfig      `toml:"ui"`
}

// ServiceConfig maps the recognition service settings.
type ServiceConfig struct {
	URL     *string   `toml:"url"`
	Timeout *Duration `toml:"timeout"`
	KPath   *string   `toml:"k-path"`
}

// StoreConfig maps local persistence settings.
type StoreConfig struct {
	Engine *string `toml:"engine"`
	Path   *string `toml:"path"`
}

// CaptureConfig maps frame capture settings.
type CaptureConfig struct {
	Width      *int    `toml:"width"`
	Height     *int    `toml:"height"`
	TimeFormat *string `toml:"time-format"`
}

// UIConfig maps interface settings.
type UIConfig struct {
	MessageTTL *Duration `toml:"message-ttl"`
	LogLevel   *string   `toml:"log-level"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
