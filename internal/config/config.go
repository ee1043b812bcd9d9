// Package config carries the environment facts the acquisition layer
// branches on. The values are resolved once at process start and threaded
// through constructors so tests can exercise both the cloud and local
// paths without touching the process environment.
package config

import (
	"os"
	"runtime"
	"strconv"
)

// Config describes the runtime environment.
type Config struct {
	// Cloud is true when running on a network-restricted host (no local
	// Edge install, no visible display, upstream APIs may block the
	// egress IP). Derived from the OS by default: the app is developed
	// and run interactively on Windows, deployed everywhere else.
	Cloud bool

	// RelayURL is the base URL of the forwarding relay used to reach the
	// hybrid chain's API from cloud hosts. Empty disables relay routing.
	RelayURL string

	// RelaySecret is the optional shared secret the relay checks in the
	// X-Worker-Auth header.
	RelaySecret string

	// TMDBAPIKey enables movie-metadata enrichment when set.
	TMDBAPIKey string
}

// Environment variable names looked up by FromEnv.
const (
	EnvCloud       = "TW_WATCHER_CLOUD"
	EnvRelayURL    = "TW_WATCHER_RELAY_URL"
	EnvRelaySecret = "TW_WATCHER_RELAY_SECRET"
	EnvTMDBAPIKey  = "TW_WATCHER_TMDB_API_KEY"
)

// FromEnv builds a Config from OS detection plus environment overrides.
func FromEnv() Config {
	cfg := Config{
		Cloud:       runtime.GOOS != "windows",
		RelayURL:    os.Getenv(EnvRelayURL),
		RelaySecret: os.Getenv(EnvRelaySecret),
		TMDBAPIKey:  os.Getenv(EnvTMDBAPIKey),
	}
	if v := os.Getenv(EnvCloud); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cloud = b
		}
	}
	return cfg
}
