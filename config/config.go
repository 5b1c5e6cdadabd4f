// Package config reads the client's settings from the environment, after
// loading any .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"savesync/stores"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPrefix        = "savesync_"
	DefaultProbeInterval = 15 * time.Second
	DefaultRateLimit     = 10
	DefaultRateBurst     = 20
)

type Config struct {
	// ServerURL is the save server base URL. Empty disables the cloud path.
	ServerURL string
	// Token is the bearer token issued by the server's /auth endpoints.
	Token string

	Local     stores.LocalOptions
	QueuePath string

	ProbeInterval time.Duration
	RateLimit     float64
	RateBurst     int
}

// DefaultQueuePath is the badger directory for the offline queue.
func DefaultQueuePath() string {
	return filepath.Join(xdg.DataHome, "savesync", "queue")
}

// Load reads the configuration. files are .env files to load first; with
// none, ./.env is tried. A missing .env file is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		logrus.WithError(err).Debug("No .env file loaded")
	}

	cfg := &Config{
		ServerURL: os.Getenv("SAVESYNC_SERVER_URL"),
		Token:     os.Getenv("SAVESYNC_TOKEN"),
		Local: stores.LocalOptions{
			Type:   os.Getenv("SAVESYNC_LOCAL_STORAGE"),
			Path:   os.Getenv("SAVESYNC_LOCAL_PATH"),
			Prefix: DefaultPrefix,
		},
		QueuePath:     os.Getenv("SAVESYNC_QUEUE_PATH"),
		ProbeInterval: DefaultProbeInterval,
		RateLimit:     DefaultRateLimit,
		RateBurst:     DefaultRateBurst,
	}

	if prefix, ok := os.LookupEnv("SAVESYNC_LOCAL_PREFIX"); ok {
		cfg.Local.Prefix = prefix
	}
	if cfg.Local.Path == "" {
		cfg.Local.Path = stores.DefaultLocalPath()
	}
	if cfg.QueuePath == "" {
		cfg.QueuePath = DefaultQueuePath()
	}

	if v := os.Getenv("SAVESYNC_LOCAL_QUOTA"); v != "" {
		quota, err := strconv.ParseInt(v, 10, 64)
		if err != nil || quota < 0 {
			return nil, fmt.Errorf("invalid SAVESYNC_LOCAL_QUOTA %q", v)
		}
		cfg.Local.Quota = quota
	}
	if v := os.Getenv("SAVESYNC_PROBE_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil || interval <= 0 {
			return nil, fmt.Errorf("invalid SAVESYNC_PROBE_INTERVAL %q", v)
		}
		cfg.ProbeInterval = interval
	}
	if v := os.Getenv("SAVESYNC_RATE_LIMIT"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("invalid SAVESYNC_RATE_LIMIT %q", v)
		}
		cfg.RateLimit = limit
	}
	if v := os.Getenv("SAVESYNC_RATE_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil || burst <= 0 {
			return nil, fmt.Errorf("invalid SAVESYNC_RATE_BURST %q", v)
		}
		cfg.RateBurst = burst
	}

	logrus.WithFields(logrus.Fields{
		"server":       cfg.ServerURL,
		"localStorage": cfg.Local.Type,
		"localPath":    cfg.Local.Path,
		"queuePath":    cfg.QueuePath,
	}).Debug("Configuration loaded")
	return cfg, nil
}
