// Package config loads meshctl's JSONC (hujson) configuration file. It has
// no bearing on the core library, which takes no configuration beyond its
// Options struct.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// EnvVar names the environment variable meshctl checks for an explicit
// config path override.
const EnvVar = "MESHANINA_CONFIG"

// FileName is the default config file name, looked up in the current
// directory when EnvVar is unset.
const FileName = ".meshanina.jsonc"

// Config holds meshctl's CLI defaults.
type Config struct {
	DefaultPath string `json:"default_path,omitempty"` //nolint:tagliatelle
}

// Default returns meshctl's built-in defaults.
func Default() Config {
	return Config{}
}

// Load reads and merges the config file, if any, over Default(). The path
// checked is os.Getenv(EnvVar) if set, else FileName in the current
// directory. A missing file is not an error: Load returns Default().
func Load() (Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		path = FileName
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}

		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg := Default()

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	return cfg, nil
}
