// Package config provides yaml-loadable configuration for the registry server
// and the gateway, with validation and reference defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/pathcast/endpoint"
	"github.com/c360/pathcast/errors"
)

// Reference defaults for the substrate's timing knobs.
const (
	// DefaultProbeInterval is how often the liveness monitor sweeps.
	DefaultProbeInterval = 500 * time.Millisecond
	// DefaultProbeTimeout bounds a single liveness probe.
	DefaultProbeTimeout = 400 * time.Millisecond
	// DefaultReconnectBackoff is the stream client's fixed reconnect interval.
	DefaultReconnectBackoff = 100 * time.Millisecond
)

// RegistryConfig configures a registry server.
type RegistryConfig struct {
	// Host is the listen address (empty = all interfaces).
	Host string `yaml:"host"`

	// Port is the listen port (0 = OS-assigned, useful in tests).
	Port int `yaml:"port"`

	// ProbeIntervalStr is the liveness sweep interval (default "500ms").
	ProbeIntervalStr string `yaml:"probe_interval,omitempty"`

	// ProbeTimeoutStr bounds one probe (default "400ms"); must be shorter
	// than the interval so one stuck publisher cannot delay the sweep.
	ProbeTimeoutStr string `yaml:"probe_timeout,omitempty"`

	// ProbeFailureLimit is the number of consecutive probe failures before
	// eviction (default 1).
	ProbeFailureLimit int `yaml:"probe_failure_limit,omitempty"`

	probeInterval time.Duration
	probeTimeout  time.Duration
}

// DefaultRegistryConfig returns a config with the reference defaults.
func DefaultRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{Host: "", Port: 8080}
	_ = cfg.Validate()
	return cfg
}

// Validate parses duration fields and applies defaults.
func (c *RegistryConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.New(fmt.Sprintf("port %d out of range", c.Port)),
			"RegistryConfig", "Validate", "port check")
	}

	c.probeInterval = DefaultProbeInterval
	if c.ProbeIntervalStr != "" {
		d, err := time.ParseDuration(c.ProbeIntervalStr)
		if err != nil {
			return errors.WrapInvalid(err, "RegistryConfig", "Validate", "parsing probe_interval")
		}
		if d <= 0 {
			return errors.WrapInvalid(errors.New("probe_interval must be positive"),
				"RegistryConfig", "Validate", "probe_interval check")
		}
		c.probeInterval = d
	}

	c.probeTimeout = DefaultProbeTimeout
	if c.ProbeTimeoutStr != "" {
		d, err := time.ParseDuration(c.ProbeTimeoutStr)
		if err != nil {
			return errors.WrapInvalid(err, "RegistryConfig", "Validate", "parsing probe_timeout")
		}
		if d <= 0 {
			return errors.WrapInvalid(errors.New("probe_timeout must be positive"),
				"RegistryConfig", "Validate", "probe_timeout check")
		}
		c.probeTimeout = d
	}

	if c.probeTimeout >= c.probeInterval {
		return errors.WrapInvalid(errors.New("probe_timeout must be shorter than probe_interval"),
			"RegistryConfig", "Validate", "timing check")
	}

	if c.ProbeFailureLimit <= 0 {
		c.ProbeFailureLimit = 1
	}
	return nil
}

// ProbeInterval returns the parsed liveness sweep interval.
func (c *RegistryConfig) ProbeInterval() time.Duration { return c.probeInterval }

// ProbeTimeout returns the parsed per-probe timeout.
func (c *RegistryConfig) ProbeTimeout() time.Duration { return c.probeTimeout }

// GatewayConfig configures a gateway.
type GatewayConfig struct {
	// Host is the listen address (empty = all interfaces).
	Host string `yaml:"host"`

	// Port is the listen port (0 = OS-assigned).
	Port int `yaml:"port"`

	// SocketDir is the base directory of the node's local endpoints
	// (default os.TempDir()/pathcast). Must match the publishers on the node.
	SocketDir string `yaml:"socket_dir,omitempty"`
}

// DefaultGatewayConfig returns a config with the reference defaults.
func DefaultGatewayConfig() GatewayConfig {
	cfg := GatewayConfig{Host: "", Port: 8081}
	_ = cfg.Validate()
	return cfg
}

// Validate applies defaults and checks ranges.
func (c *GatewayConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.New(fmt.Sprintf("port %d out of range", c.Port)),
			"GatewayConfig", "Validate", "port check")
	}
	if c.SocketDir == "" {
		c.SocketDir = endpoint.DefaultBaseDir()
	}
	return nil
}

// LoadRegistry reads and validates a RegistryConfig from a yaml file.
func LoadRegistry(path string) (RegistryConfig, error) {
	var cfg RegistryConfig
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadGateway reads and validates a GatewayConfig from a yaml file.
func LoadGateway(path string) (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapFatal(err, "config", "loadYAML", "reading file")
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.WrapInvalid(err, "config", "loadYAML", "parsing yaml")
	}
	return nil
}
