package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the trigger engine.
type Config struct {
	Port   string
	DBPath string

	// Market data feed
	FeedURL         string
	FeedAPIKey      string
	FeedAccessToken string

	// Order gateway
	GatewayURL       string
	GatewayAPIKey    string
	GatewayTimeout   time.Duration
	GatewayRateLimit float64 // requests per second, 0 = unlimited
	GatewayRateBurst int

	// Engine tuning; overridable via the YAML tuning file.
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
	OrderMaxRetries      int
	OrderRetryBaseDelay  time.Duration
	ExecutorWorkers      int
	TickBuffer           int

	TuningFile string
}

// Tuning is the optional YAML overlay for engine knobs.
type Tuning struct {
	HeartbeatIntervalSec   int     `yaml:"heartbeat_interval_sec"`
	ReconnectBaseDelayMs   int     `yaml:"reconnect_base_delay_ms"`
	ReconnectMaxDelaySec   int     `yaml:"reconnect_max_delay_sec"`
	ReconnectMaxAttempts   int     `yaml:"reconnect_max_attempts"`
	OrderMaxRetries        *int    `yaml:"order_max_retries"`
	OrderRetryBaseDelayMs  int     `yaml:"order_retry_base_delay_ms"`
	ExecutorWorkers        int     `yaml:"executor_workers"`
	TickBuffer             int     `yaml:"tick_buffer"`
	GatewayRateLimitPerSec float64 `yaml:"gateway_rate_limit_per_sec"`
}

// Load reads environment variables (optionally via .env) into Config and
// applies the YAML tuning file when one is configured.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "./data/triggers.db"),

		FeedURL:         getEnv("FEED_URL", "wss://ws.kite.trade"),
		FeedAPIKey:      os.Getenv("FEED_API_KEY"),
		FeedAccessToken: os.Getenv("FEED_ACCESS_TOKEN"),

		GatewayURL:       getEnv("GATEWAY_URL", "http://localhost:9090"),
		GatewayAPIKey:    os.Getenv("GATEWAY_API_KEY"),
		GatewayTimeout:   time.Duration(getEnvInt("GATEWAY_TIMEOUT_SEC", 10)) * time.Second,
		GatewayRateLimit: getEnvFloat("GATEWAY_RATE_LIMIT_PER_SEC", 10),
		GatewayRateBurst: getEnvInt("GATEWAY_RATE_BURST", 5),

		HeartbeatInterval:    time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SEC", 30)) * time.Second,
		ReconnectBaseDelay:   time.Duration(getEnvInt("RECONNECT_BASE_DELAY_MS", 2000)) * time.Millisecond,
		ReconnectMaxDelay:    time.Duration(getEnvInt("RECONNECT_MAX_DELAY_SEC", 60)) * time.Second,
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 50),
		OrderMaxRetries:      getEnvInt("ORDER_MAX_RETRIES", 2),
		OrderRetryBaseDelay:  time.Duration(getEnvInt("ORDER_RETRY_BASE_DELAY_MS", 500)) * time.Millisecond,
		ExecutorWorkers:      getEnvInt("EXECUTOR_WORKERS", 4),
		TickBuffer:           getEnvInt("TICK_BUFFER", 1024),

		TuningFile: getEnv("TUNING_FILE", ""),
	}

	if cfg.TuningFile != "" {
		if err := cfg.applyTuning(cfg.TuningFile); err != nil {
			return nil, fmt.Errorf("tuning file %s: %w", cfg.TuningFile, err)
		}
	}

	return cfg, nil
}

func (c *Config) applyTuning(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var t Tuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return err
	}

	if t.HeartbeatIntervalSec > 0 {
		c.HeartbeatInterval = time.Duration(t.HeartbeatIntervalSec) * time.Second
	}
	if t.ReconnectBaseDelayMs > 0 {
		c.ReconnectBaseDelay = time.Duration(t.ReconnectBaseDelayMs) * time.Millisecond
	}
	if t.ReconnectMaxDelaySec > 0 {
		c.ReconnectMaxDelay = time.Duration(t.ReconnectMaxDelaySec) * time.Second
	}
	if t.ReconnectMaxAttempts > 0 {
		c.ReconnectMaxAttempts = t.ReconnectMaxAttempts
	}
	if t.OrderMaxRetries != nil && *t.OrderMaxRetries >= 0 {
		c.OrderMaxRetries = *t.OrderMaxRetries
	}
	if t.OrderRetryBaseDelayMs > 0 {
		c.OrderRetryBaseDelay = time.Duration(t.OrderRetryBaseDelayMs) * time.Millisecond
	}
	if t.ExecutorWorkers > 0 {
		c.ExecutorWorkers = t.ExecutorWorkers
	}
	if t.TickBuffer > 0 {
		c.TickBuffer = t.TickBuffer
	}
	if t.GatewayRateLimitPerSec > 0 {
		c.GatewayRateLimit = t.GatewayRateLimitPerSec
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
