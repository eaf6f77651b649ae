package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override the config file.
const (
	EnvServiceURL  = "LPRDESK_SERVICE_URL"
	EnvTimeout     = "LPRDESK_SERVICE_TIMEOUT"
	EnvStoreEngine = "LPRDESK_STORE_ENGINE"
	EnvStorePath   = "LPRDESK_STORE_PATH"
	EnvLogLevel    = "LPRDESK_LOG_LEVEL"
)

// LoadDotEnv loads variables from the given .env files when they exist.
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// EnvString returns the trimmed value of an environment variable.
func EnvString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvDuration parses a duration from an environment variable.
func EnvDuration(key string) (time.Duration, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, true, nil
}
