package process

import (
	"fmt"
	"time"
)

// Config describes the subprocess and its bus behavior.
type Config struct {
	// Name identifies the unit on the bus. Required.
	Name string

	// Command is the executable to run. Required. Args and Dir are passed
	// through to exec; Env entries are appended to the inherited environment.
	Command string
	Args    []string
	Dir     string
	Env     map[string]string

	// GracePeriod is how long Stop waits after SIGTERM before SIGKILL
	// (default 10s).
	GracePeriod time.Duration

	// HeartbeatInterval paces KindHeartbeat broadcasts when a bus is
	// attached. Zero disables heartbeats; Defaults uses 30s.
	HeartbeatInterval time.Duration

	// PollInterval bounds one blocking inbox poll when a bus is attached
	// (default 1s). It is also the upper bound on loop shutdown latency.
	PollInterval time.Duration
}

// Defaults returns a Config with production-safe defaults. Name and Command
// still have to be filled in.
func Defaults() Config {
	return Config{
		GracePeriod:       10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		PollInterval:      time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := Defaults()
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Validate checks the Config.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name required")
	}
	if c.Command == "" {
		return fmt.Errorf("config: command required")
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("config: heartbeat_interval must be >= 0, got %v", c.HeartbeatInterval)
	}
	return nil
}
