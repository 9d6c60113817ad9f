// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Scaling mode names used across the protocol and query parameters.
const (
	ScalingFit  = "fit"
	ScalingFill = "fill"
)

// Default thumbnail box used by the persistent cache.
const (
	DefaultThumbnailWidth  = 256
	DefaultThumbnailHeight = 256
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Sandbox and cache
	SandboxPath        string
	ThumbnailCachePath string

	// Public URL prefixes embedded in media descriptors
	StaticContentURL string
	ContentURL       string

	// Origin allow-list. Empty means the gate is disabled.
	OriginAllowList []string

	// Search crawler tuning
	SearchPurgeInterval time.Duration
	SearchKeepFinished  time.Duration
	SearchWorkerTimeout time.Duration

	// External tool invocations (ffmpeg, ffprobe, convert)
	ToolTimeout time.Duration

	// Bound on concurrent CPU-heavy transforms
	TransformWorkers int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envOr("VEEDRIVE_LISTEN_ADDR", ":4444"),
		MetricsAddr: envOr("VEEDRIVE_METRICS_ADDR", ":9090"),
		LogLevel:    envOr("VEEDRIVE_LOG_LEVEL", "info"),
		LogFormat:   envOr("VEEDRIVE_LOG_FORMAT", "json"),

		SandboxPath:        envOr("VEEDRIVE_MEDIA_PATH", ""),
		ThumbnailCachePath: envOr("VEEDRIVE_THUMBNAIL_CACHE_PATH", ""),

		StaticContentURL: envOr("VEEDRIVE_STATIC_CONTENT_URL", "http://0.0.0.0:4444/static"),
		ContentURL:       envOr("VEEDRIVE_CONTENT_URL", "http://0.0.0.0:4444/content"),

		OriginAllowList: envList("VEEDRIVE_ORIGIN_ALLOWLIST"),

		SearchPurgeInterval: envDuration("VEEDRIVE_SEARCH_PURGE_INTERVAL", 30*time.Second),
		SearchKeepFinished:  envDuration("VEEDRIVE_SEARCH_KEEP_FINISHED", 5*time.Minute),
		SearchWorkerTimeout: envDuration("VEEDRIVE_SEARCH_WORKER_TIMEOUT", 10*time.Minute),

		ToolTimeout: envDuration("VEEDRIVE_TOOL_TIMEOUT", 60*time.Second),

		TransformWorkers: envInt("VEEDRIVE_TRANSFORM_WORKERS", runtime.NumCPU()),
	}

	if cfg.SandboxPath == "" {
		return nil, fmt.Errorf("VEEDRIVE_MEDIA_PATH is required")
	}
	abs, err := filepath.Abs(cfg.SandboxPath)
	if err != nil {
		return nil, fmt.Errorf("resolve VEEDRIVE_MEDIA_PATH: %w", err)
	}
	cfg.SandboxPath = abs

	if cfg.ThumbnailCachePath == "" {
		// The cache lives below the sandbox so /static can serve it directly.
		cfg.ThumbnailCachePath = filepath.Join(cfg.SandboxPath, "cache")
	}
	if cfg.TransformWorkers < 1 {
		cfg.TransformWorkers = 1
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
