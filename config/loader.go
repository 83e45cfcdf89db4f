package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns the configuration used when a field is absent from the
// file. Durations match the manager and adapter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Bus: BusConfig{
			CriticalCapacity: 256,
			HighCapacity:     512,
			NormalCapacity:   1024,
			LowCapacity:      1024,
		},
		Manager: ManagerConfig{
			HealthInterval:     Duration(30 * time.Second),
			DependencyInterval: Duration(60 * time.Second),
			HealthTimeout:      Duration(10 * time.Second),
			StopTimeout:        Duration(10 * time.Second),
			StaleAfter:         Duration(5 * time.Minute),
			Restart: RestartConfig{
				Threshold: 3,
				Backoff:   Duration(time.Second),
			},
		},
		Export: ExportConfig{
			Addr:   "127.0.0.1:6379",
			Stream: "xsvc-events",
		},
	}
}

// Load reads path, layers it over Default, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural consistency: unique service names, commands
// present, dependencies resolvable, and subscription names from the known
// kind set.
func (c Config) Validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("config: at least one service required")
	}

	names := make(map[string]struct{}, len(c.Services))
	for _, s := range c.Services {
		if s.Name == "" {
			return fmt.Errorf("config: service name required")
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("config: duplicate service name %q", s.Name)
		}
		names[s.Name] = struct{}{}

		if s.Command == "" {
			return fmt.Errorf("config: service %q: command required", s.Name)
		}
		for _, k := range s.Subscriptions {
			if _, ok := knownKinds[k]; !ok {
				return fmt.Errorf("config: service %q: unknown subscription kind %q", s.Name, k)
			}
		}
	}

	for _, s := range c.Services {
		for _, d := range s.Dependencies {
			if _, ok := names[d]; !ok {
				return fmt.Errorf("config: service %q: unknown dependency %q", s.Name, d)
			}
			if d == s.Name {
				return fmt.Errorf("config: service %q depends on itself", s.Name)
			}
		}
	}

	if c.Export.Enabled {
		if c.Export.Addr == "" {
			return fmt.Errorf("config: export: addr required")
		}
		if c.Export.Stream == "" {
			return fmt.Errorf("config: export: stream required")
		}
	}
	return nil
}
