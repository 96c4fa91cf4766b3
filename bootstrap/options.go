package bootstrap

import (
	"net/http"
	"time"

	"github.com/kbukum/nodegraph/logger"
)

// Option configures the App during creation.
type Option func(*appOptions)

type appOptions struct {
	logger          *logger.Logger
	gracefulTimeout *time.Duration
	transport       http.RoundTripper
	server          bool
}

func resolveOptions(opts []Option) *appOptions {
	o := &appOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets a custom logger for the application.
// If not set, the logger is initialized from the config's Logging section.
func WithLogger(l *logger.Logger) Option {
	return func(o *appOptions) {
		o.logger = l
	}
}

// WithGracefulTimeout bounds the whole shutdown sequence. Default: 15s.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *appOptions) {
		o.gracefulTimeout = &d
	}
}

// WithTransport replaces the transport used for component fetches.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *appOptions) {
		o.transport = rt
	}
}

// WithServer mounts the control API and registers the HTTP server as a
// lifecycle component.
func WithServer() Option {
	return func(o *appOptions) {
		o.server = true
	}
}
