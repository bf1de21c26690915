// Package config loads runtime configuration from defaults, an optional
// .env file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the resolved runtime configuration.
type Config struct {
	// HTTP API listener, host:port.
	ListenAddr string

	// SOCKS5 endpoint used to reach .onion targets.
	AnonProxyAddr string

	// Store location. A sqlite database path or file: URI.
	StoreURI string

	// Wall-clock bound for one fetch attempt.
	RequestTimeout time.Duration

	// Response body cap for page fetches.
	FetchMaxBytes int64

	// Response body cap for file downloads.
	DownloadMaxBytes int64

	// Per-download wall-clock bound.
	DownloadTimeout time.Duration

	// Downloaded files analysed per scan, at most.
	MaxFilesPerScan int

	// Per capability-provider execution bound.
	AnalysisTimeout time.Duration

	// Monitor scheduler worker pool size.
	MonitorPoolSize int

	// Active monitors allowed per owner.
	MonitorCapPerOwner int

	// Minimum scheduler tick granularity.
	SchedulerTick time.Duration

	// Optional JSON rules file for scoring keywords and category weights.
	RulesPath string

	// Prometheus listener, host:port. Empty disables the endpoint.
	MetricsAddr string

	// Logging.
	LogLevel  string
	LogFormat string
	LogDir    string
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ListenAddr:         ":8090",
		AnonProxyAddr:      "127.0.0.1:9050",
		StoreURI:           "data/onionwatch.db",
		RequestTimeout:     30 * time.Second,
		FetchMaxBytes:      10 * 1024 * 1024,
		DownloadMaxBytes:   50 * 1024 * 1024,
		DownloadTimeout:    30 * time.Second,
		MaxFilesPerScan:    10,
		AnalysisTimeout:    30 * time.Second,
		MonitorPoolSize:    4,
		MonitorCapPerOwner: 5,
		SchedulerTick:      30 * time.Second,
		RulesPath:          "",
		MetricsAddr:        "",
		LogLevel:           "info",
		LogFormat:          "auto",
		LogDir:             "",
	}
}

// Load builds the configuration from defaults, .env and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment overrides from .env")
	}

	cfg := Defaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if val := os.Getenv("LISTEN_ADDR"); val != "" {
		c.ListenAddr = val
	}
	if val := os.Getenv("ANON_PROXY_ADDR"); val != "" {
		c.AnonProxyAddr = val
	}
	if val := os.Getenv("STORE_URI"); val != "" {
		c.StoreURI = val
	}
	if val := os.Getenv("REQUEST_TIMEOUT_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			c.RequestTimeout = time.Duration(secs) * time.Second
		} else {
			log.Warn().Str("value", val).Msg("Ignoring invalid REQUEST_TIMEOUT_SECONDS")
		}
	}
	if val := os.Getenv("FETCH_MAX_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			c.FetchMaxBytes = n
		}
	}
	if val := os.Getenv("DOWNLOAD_MAX_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			c.DownloadMaxBytes = n
		} else {
			log.Warn().Str("value", val).Msg("Ignoring invalid DOWNLOAD_MAX_BYTES")
		}
	}
	if val := os.Getenv("DOWNLOAD_TIMEOUT_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			c.DownloadTimeout = time.Duration(secs) * time.Second
		}
	}
	if val := os.Getenv("MAX_FILES_PER_SCAN"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			c.MaxFilesPerScan = n
		}
	}
	if val := os.Getenv("ANALYSIS_TIMEOUT_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			c.AnalysisTimeout = time.Duration(secs) * time.Second
		}
	}
	if val := os.Getenv("MONITOR_POOL_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.MonitorPoolSize = n
		} else {
			log.Warn().Str("value", val).Msg("Ignoring invalid MONITOR_POOL_SIZE")
		}
	}
	if val := os.Getenv("MONITOR_CAP_PER_OWNER"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.MonitorCapPerOwner = n
		}
	}
	if val := os.Getenv("SCHEDULER_TICK_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			c.SchedulerTick = time.Duration(secs) * time.Second
		}
	}
	if val := os.Getenv("RULES_PATH"); val != "" {
		c.RulesPath = val
	}
	if val := os.Getenv("METRICS_ADDR"); val != "" {
		c.MetricsAddr = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.LogFormat = val
	}
	if val := os.Getenv("LOG_DIR"); val != "" {
		c.LogDir = val
	}
}

// Validate checks that the configuration can run.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.AnonProxyAddr == "" {
		return fmt.Errorf("anonymising proxy address must not be empty")
	}
	if c.StoreURI == "" {
		return fmt.Errorf("store URI must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.FetchMaxBytes <= 0 || c.DownloadMaxBytes <= 0 {
		return fmt.Errorf("response size caps must be positive")
	}
	if c.MonitorPoolSize <= 0 {
		return fmt.Errorf("monitor pool size must be positive, got %d", c.MonitorPoolSize)
	}
	if c.MonitorCapPerOwner <= 0 {
		return fmt.Errorf("monitor cap must be positive, got %d", c.MonitorCapPerOwner)
	}
	if c.SchedulerTick <= 0 {
		return fmt.Errorf("scheduler tick must be positive, got %s", c.SchedulerTick)
	}
	return nil
}
