package host

import (
	"time"

	"github.com/kbukum/nodegraph/validation"
)

// Config holds the ceilings enforced on every component instance.
type Config struct {
	// MemoryLimitPages caps sandbox linear memory in 64 KiB pages.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" mapstructure:"memory_limit_pages" validate:"min=1,max=65536"`
	// CallTimeout bounds a single Execute call.
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout" validate:"gt=0"`
	// MaxResponseBytes caps the payload a component may return.
	MaxResponseBytes int64 `yaml:"max_response_bytes" mapstructure:"max_response_bytes" validate:"gt=0"`
	// MaxInstances caps live instances across all nodes.
	MaxInstances int `yaml:"max_instances" mapstructure:"max_instances" validate:"gt=0"`

	FetchRate     float64 `yaml:"fetch_rate" mapstructure:"fetch_rate" validate:"gt=0"`
	FetchBurst    int     `yaml:"fetch_burst" mapstructure:"fetch_burst" validate:"gt=0"`
	FetchMaxBytes int64   `yaml:"fetch_max_bytes" mapstructure:"fetch_max_bytes" validate:"gt=0"`
	// FetchRetries and MaxRedirects accept an explicit 0; nil means default.
	FetchRetries *int `yaml:"fetch_retries" mapstructure:"fetch_retries" validate:"omitempty,min=0,max=10"`
	MaxRedirects *int `yaml:"max_redirects" mapstructure:"max_redirects" validate:"omitempty,min=0,max=20"`
}

// Retries returns the number of fetch retries after the first attempt.
func (c *Config) Retries() int {
	if c.FetchRetries == nil {
		return defaultFetchRetries
	}
	return *c.FetchRetries
}

// Redirects returns how many redirects a fetch may follow.
func (c *Config) Redirects() int {
	if c.MaxRedirects == nil {
		return defaultMaxRedirects
	}
	return *c.MaxRedirects
}

const (
	defaultFetchRetries = 2
	defaultMaxRedirects = 5
)

// Int returns a pointer to n, for the optional count fields.
func Int(n int) *int { return &n }

// DefaultConfig returns the host defaults.
func DefaultConfig() Config {
	c := Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MemoryLimitPages == 0 {
		c.MemoryLimitPages = 256
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.MaxResponseBytes == 0 {
		c.MaxResponseBytes = 4 << 20
	}
	if c.MaxInstances == 0 {
		c.MaxInstances = 64
	}
	if c.FetchRate == 0 {
		c.FetchRate = 10
	}
	if c.FetchBurst == 0 {
		c.FetchBurst = 10
	}
	if c.FetchMaxBytes == 0 {
		c.FetchMaxBytes = 1 << 20
	}
	if c.FetchRetries == nil {
		c.FetchRetries = Int(defaultFetchRetries)
	}
	if c.MaxRedirects == nil {
		c.MaxRedirects = Int(defaultMaxRedirects)
	}
}

// Validate checks the configured limits.
func (c *Config) Validate() error {
	return validation.Validate(c)
}
