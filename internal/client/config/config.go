// Package config assembles the client runtime configuration from three
// layers: built-in defaults, an optional JSON file, and command-line flags.
// Later layers override earlier ones.
package config

import "time"

// Config holds runtime settings for the sync client.
//
// Fields:
//   - ServerBaseURL: base URL of the backend REST API.
//   - DatabasePath: path of the local SQLite database file.
//   - CacheDir: directory holding downloaded image bytes.
//   - AuthToken: bearer token sent with every API request.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - RequestTimeout: per-request HTTP timeout.
type Config struct {
	ServerBaseURL       string
	DatabasePath        string
	CacheDir            string
	AuthToken           string
	OnlineCheckInterval time.Duration
	RequestTimeout      time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerBaseURL = "http://127.0.0.1:8080"
	c.DatabasePath = "cellsync.db"
	c.CacheDir = "imgcache"
	c.OnlineCheckInterval = 3 * time.Second
	c.RequestTimeout = 15 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
