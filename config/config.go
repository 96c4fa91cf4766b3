package config

import (
	"fmt"

	"github.com/kbukum/nodegraph/builtin"
	"github.com/kbukum/nodegraph/continuous"
	"github.com/kbukum/nodegraph/executor"
	"github.com/kbukum/nodegraph/host"
	"github.com/kbukum/nodegraph/observability"
	"github.com/kbukum/nodegraph/server"
)

// Config is the complete nodegraph configuration.
type Config struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Host       host.Config                   `yaml:"host" mapstructure:"host"`
	Executor   executor.Config               `yaml:"executor" mapstructure:"executor"`
	Continuous continuous.Config             `yaml:"continuous" mapstructure:"continuous"`
	Registry   RegistryConfig                `yaml:"registry" mapstructure:"registry"`
	Builtin    builtin.Options               `yaml:"builtin" mapstructure:"builtin"`
	Server     server.Config                 `yaml:"server" mapstructure:"server"`
	Telemetry  observability.TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// RegistryConfig lists where component manifests are loaded from.
type RegistryConfig struct {
	ManifestDirs []string `yaml:"manifest_dirs" mapstructure:"manifest_dirs"`
	// DisableBuiltins leaves the built-in components unregistered.
	DisableBuiltins bool `yaml:"disable_builtins" mapstructure:"disable_builtins"`
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Host.ApplyDefaults()
	c.Continuous.ApplyDefaults()
	c.Server.ApplyDefaults()
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = c.Environment
	}
	c.Telemetry.ApplyDefaults()
}

// Validate checks every section and names the failing one.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	sections := []struct {
		name     string
		validate func() error
	}{
		{"host", c.Host.Validate},
		{"executor", c.Executor.Validate},
		{"continuous", c.Continuous.Validate},
		{"server", c.Server.Validate},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			return fmt.Errorf("config.%s: %w", s.name, err)
		}
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}
