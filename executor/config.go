package executor

import "github.com/kbukum/nodegraph/validation"

// Config holds executor settings.
type Config struct {
	// MaxParallel bounds concurrent node calls per level (0 = unlimited).
	MaxParallel int `yaml:"max_parallel" mapstructure:"max_parallel" validate:"min=0"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validation.Validate(c)
}
