package redisexport

import (
	"fmt"
	"time"
)

// Config for the Redis Stream event exporter.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Stream management
	Stream       string
	MaxLenApprox int64

	// Buffering
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Addr:          "127.0.0.1:6379",
		DB:            0,
		Stream:        "xsvc-events",
		Buffer:        4096,
		BatchSize:     128,
		FlushInterval: time.Second,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Stream == "" {
		return fmt.Errorf("config: stream required")
	}
	if c.Buffer < 1 {
		return fmt.Errorf("config: buffer must be >= 1, got %d", c.Buffer)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("config: flush_interval must be > 0, got %v", c.FlushInterval)
	}
	return nil
}
