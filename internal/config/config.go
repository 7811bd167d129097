package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/n0madic/go-devcodec/internal/codec"
)

const (
	settingsFilename = "settings.toml"
	homeDirName      = ".devcodec"
)

// Config holds all runtime configuration.
type Config struct {
	Host            string
	Port            int
	Verbose         bool
	AccessToken     string
	MaxInflateBytes int64
	Workers         int
	SettingsPath    string
}

// HomeDir returns the state directory path.
func HomeDir() string {
	if d := os.Getenv("DEVCODEC_HOME"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, homeDirName)
}

// DefaultSettingsPath is where per-tool modes are persisted.
func DefaultSettingsPath() string {
	return filepath.Join(HomeDir(), settingsFilename)
}

// DefaultFromEnv creates a Config with defaults from environment variables.
func DefaultFromEnv() *Config {
	return &Config{
		Host:            envOrDefault("DEVCODEC_HOST", "127.0.0.1"),
		Port:            envInt("DEVCODEC_PORT", 8000),
		Verbose:         envBool("DEVCODEC_VERBOSE"),
		AccessToken:     strings.TrimSpace(os.Getenv("DEVCODEC_ACCESS_TOKEN")),
		MaxInflateBytes: int64(envInt("DEVCODEC_MAX_INFLATE_BYTES", codec.DefaultMaxInflateBytes)),
		Workers:         envInt("DEVCODEC_WORKERS", 0),
		SettingsPath:    DefaultSettingsPath(),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
