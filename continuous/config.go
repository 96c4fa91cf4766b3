package continuous

import (
	"time"

	"github.com/kbukum/nodegraph/validation"
)

// Config controls cycle pacing and the stop protocol.
type Config struct {
	// CycleInterval is the pause between the end of one cycle and the start
	// of the next.
	CycleInterval time.Duration `yaml:"cycle_interval" mapstructure:"cycle_interval" validate:"min=0"`
	// GracePeriod is how long a stopping task may take to exit on its own.
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period" validate:"gt=0"`
	// ForcePeriod is how long teardown may take after the task is aborted.
	ForcePeriod time.Duration `yaml:"force_period" mapstructure:"force_period" validate:"gt=0"`
	// ResultBuffer is the per-node result channel capacity. When full, the
	// oldest unpolled result is dropped.
	ResultBuffer int `yaml:"result_buffer" mapstructure:"result_buffer" validate:"min=1"`
}

// Defaults.
const (
	DefaultCycleInterval = 10 * time.Millisecond
	DefaultGracePeriod   = 1500 * time.Millisecond
	DefaultForcePeriod   = 500 * time.Millisecond
	DefaultResultBuffer  = 64
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	c := Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.CycleInterval == 0 {
		c.CycleInterval = DefaultCycleInterval
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.ForcePeriod == 0 {
		c.ForcePeriod = DefaultForcePeriod
	}
	if c.ResultBuffer == 0 {
		c.ResultBuffer = DefaultResultBuffer
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validation.Validate(c)
}

// StopBound is the longest a stop can take before the node is Stopped.
func (c Config) StopBound() time.Duration {
	return c.GracePeriod + c.ForcePeriod
}
