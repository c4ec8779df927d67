package config

import "time"

// Config holds runtime settings for the Souzou client.
//
// Fields:
//   - ServerURL: base URL of the sync backend, e.g. "http://127.0.0.1:8080".
//   - DatabaseDSN: path to the local SQLite file (":memory:" for tests).
//   - SecretKey: HMAC secret shared with the server for signing device JWTs.
//   - SyncInterval: how often a background sync cycle runs.
//   - RequestTimeout: per-call bound for pull and push requests.
//   - TombstoneRetention: how long confirmed tombstones are kept locally.
type Config struct {
	ServerURL          string
	DatabaseDSN        string
	SecretKey          string
	SyncInterval       time.Duration
	RequestTimeout     time.Duration
	TombstoneRetention time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DatabaseDSN = "souzou.db"
	c.SecretKey = "secretKey"
	c.SyncInterval = 30 * time.Second
	c.RequestTimeout = 30 * time.Second
	c.TombstoneRetention = 30 * 24 * time.Hour
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
