// Package config loads the environment-variable knobs that size the
// scheduler's queues, timeouts, and batching intervals.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds every tunable named in the worker HTTP contract and the
// scheduler's concurrency model.
type Config struct {
	FastConcurrency       int
	BackgroundConcurrency int
	FastThresholdMs       int64
	MinClassifySamples    int
	CallbackTimeoutMs     int64
	DispatchTimeoutMs     int64
	DependencyTimeoutMs   int64
	DrainPollMs           int64
	BatchIntervalMs       int64
	MaxFileRetries        int
	FullHashTimeoutMs     int64
	RetrySweepMs          int64
	MaxPendingPerTier     int
	HealthProbeInterval   time.Duration
	HealthProbeTimeout    time.Duration
	CallbackListenAddr    string
	MetricsListenAddr     string
	MetaCoreURL           string
	RedisAddr             string
}

// Load reads every knob from the environment, falling back to the
// defaults enumerated for the worker contract and concurrency model.
func Load() Config {
	return Config{
		FastConcurrency:       getInt("FAST_CONCURRENCY", 32),
		BackgroundConcurrency: getInt("BACKGROUND_CONCURRENCY", 8),
		FastThresholdMs:       getInt64("FAST_THRESHOLD_MS", 1000),
		MinClassifySamples:    getInt("MIN_CLASSIFY_SAMPLES", 10),
		CallbackTimeoutMs:     getInt64("CALLBACK_TIMEOUT_MS", 60000),
		DispatchTimeoutMs:     getInt64("DISPATCH_TIMEOUT_MS", 10000),
		DependencyTimeoutMs:   getInt64("DEPENDENCY_TIMEOUT_MS", 30000),
		DrainPollMs:           getInt64("DRAIN_POLL_MS", 500),
		BatchIntervalMs:       getInt64("BATCH_INTERVAL_MS", 5000),
		MaxFileRetries:        getInt("MAX_FILE_RETRIES", 10),
		FullHashTimeoutMs:     getInt64("FULL_HASH_TIMEOUT_MS", 14400000),
		RetrySweepMs:          getInt64("RETRY_SWEEP_MS", 60000),
		MaxPendingPerTier:     getInt("MAX_PENDING_PER_TIER", 0),
		HealthProbeInterval:   30 * time.Second,
		HealthProbeTimeout:    5 * time.Second,
		CallbackListenAddr:    getStr("CALLBACK_LISTEN_ADDR", ":8090"),
		MetricsListenAddr:     getStr("METRICS_LISTEN_ADDR", ":9090"),
		MetaCoreURL:           getStr("META_CORE_URL", "http://metasortd:8090"),
		RedisAddr:             getStr("REDIS_ADDR", ""),
	}
}

func getStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out int
	if _, err := fmt.Sscanf(v, "%d", &out); err != nil {
		return def
	}
	return out
}

func getInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out int64
	if _, err := fmt.Sscanf(v, "%d", &out); err != nil {
		return def
	}
	return out
}
