package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trickstertwo/xsvc"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level supervisor configuration.
type Config struct {
	LogLevel string        `yaml:"logLevel,omitempty"`
	Bus      BusConfig     `yaml:"bus,omitempty"`
	Manager  ManagerConfig `yaml:"manager,omitempty"`
	Export   ExportConfig  `yaml:"export,omitempty"`
	Services []ServiceDef  `yaml:"services"`
}

// BusConfig bounds the per-unit priority lanes.
type BusConfig struct {
	CriticalCapacity int `yaml:"criticalCapacity,omitempty"`
	HighCapacity     int `yaml:"highCapacity,omitempty"`
	NormalCapacity   int `yaml:"normalCapacity,omitempty"`
	LowCapacity      int `yaml:"lowCapacity,omitempty"`
}

// ManagerConfig paces supervision and shapes the restart policy.
type ManagerConfig struct {
	HealthInterval     Duration      `yaml:"healthInterval,omitempty"`
	DependencyInterval Duration      `yaml:"dependencyInterval,omitempty"`
	HealthTimeout      Duration      `yaml:"healthTimeout,omitempty"`
	StopTimeout        Duration      `yaml:"stopTimeout,omitempty"`
	StaleAfter         Duration      `yaml:"staleAfter,omitempty"`
	Restart            RestartConfig `yaml:"restart,omitempty"`
}

// RestartConfig mirrors manager.RestartPolicy.
type RestartConfig struct {
	Threshold   int      `yaml:"threshold,omitempty"`
	MaxRestarts int      `yaml:"maxRestarts,omitempty"`
	Backoff     Duration `yaml:"backoff,omitempty"`
}

// ExportConfig enables shipping bus events to a Redis Stream.
type ExportConfig struct {
	Enabled      bool   `yaml:"enabled,omitempty"`
	Addr         string `yaml:"addr,omitempty"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	DB           int    `yaml:"db,omitempty"`
	Stream       string `yaml:"stream,omitempty"`
	MaxLenApprox int64  `yaml:"maxLenApprox,omitempty"`
}

// ServiceDef describes one managed subprocess.
type ServiceDef struct {
	Name              string            `yaml:"name"`
	Command           string            `yaml:"command"`
	Args              []string          `yaml:"args,omitempty"`
	Dir               string            `yaml:"dir,omitempty"`
	Env               map[string]string `yaml:"env,omitempty"`
	Dependencies      []string          `yaml:"dependencies,omitempty"`
	Subscriptions     []string          `yaml:"subscriptions,omitempty"`
	GracePeriod       Duration          `yaml:"gracePeriod,omitempty"`
	HeartbeatInterval Duration          `yaml:"heartbeatInterval,omitempty"`
}

// Kinds maps the subscription names onto bus kinds. Validate has already
// rejected unknown names by the time this is called.
func (s ServiceDef) Kinds() []xsvc.Kind {
	kinds := make([]xsvc.Kind, 0, len(s.Subscriptions))
	for _, name := range s.Subscriptions {
		kinds = append(kinds, xsvc.Kind(name))
	}
	return kinds
}

var knownKinds = map[string]struct{}{
	string(xsvc.KindHealthCheck):   {},
	string(xsvc.KindHeartbeat):     {},
	string(xsvc.KindStateUpdate):   {},
	string(xsvc.KindSystemCommand): {},
	string(xsvc.KindShutdown):      {},
	string(xsvc.KindData):          {},
	string(xsvc.KindQuery):         {},
	string(xsvc.KindResponse):      {},
}
