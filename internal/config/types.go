package config

import (
	"time"
)

type RuntimeConfig struct {
	Scheduler SchedulerInfo          `yaml:"scheduler"`
	Device    DeviceConfig           `yaml:"device"`
	Metrics   MetricsConfig          `yaml:"metrics"`
	Data      DataConfig             `yaml:"data"`
	Groups    map[string]GroupConfig `yaml:"groups"`
}

type SchedulerInfo struct {
	Name     string `yaml:"name"`
	Policy   string `yaml:"policy"`
	LogLevel string `yaml:"log_level"`
	MaxT     int    `yaml:"max_t"`
}

type DeviceConfig struct {
	ActivationLatencyMS int `yaml:"activation_latency_ms"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type DataConfig struct {
	DB    *DatabaseConfig `yaml:"db,omitempty"`
	Spool string          `yaml:"spool"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

type GroupConfig struct {
	// KeyName is the YAML key the group was defined under.
	KeyName string `yaml:"-"`

	BatchSize uint16                   `yaml:"batch_size"`
	Networks  map[string]NetworkConfig `yaml:"networks"`

	// MultiContext marks groups whose networks must activate together.
	MultiContext bool `yaml:"multi_context"`
}

type NetworkConfig struct {
	Threshold uint32   `yaml:"threshold"`
	TimeoutMS int      `yaml:"timeout_ms"`
	Inputs    []string `yaml:"inputs"`
	Outputs   []string `yaml:"outputs"`

	// Frames is the per-stream frame budget for the demo workload. Zero
	// means run until the time budget expires.
	Frames int `yaml:"frames"`
}

func (c *RuntimeConfig) GetMaxDuration() time.Duration {
	return time.Duration(c.Scheduler.MaxT) * time.Second
}

func (n *NetworkConfig) GetTimeout() time.Duration {
	return time.Duration(n.TimeoutMS) * time.Millisecond
}

// GetGroupsSorted returns the group configs in a stable order (by key name)
// so registration handles are deterministic across runs.
func (c *RuntimeConfig) GetGroupsSorted() []GroupConfig {
	var groups []GroupConfig
	for _, group := range c.Groups {
		groups = append(groups, group)
	}

	for i := 0; i < len(groups)-1; i++ {
		for j := i + 1; j < len(groups); j++ {
			if groups[i].KeyName > groups[j].KeyName {
				groups[i], groups[j] = groups[j], groups[i]
			}
		}
	}

	return groups
}
