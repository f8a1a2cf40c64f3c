package server

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo
	// AllowedOrigins are the CORS origins; empty allows any origin.
	AllowedOrigins []string
	RateLimit      rate.Limit
	RateBurst      int

	Store     Store
	Collector Readiness
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Collector == nil {
		return errors.New("collector is required")
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Every(time.Minute / 300)
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 50
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return nil
}
