package resilience

import (
	"context"
	"sync"
	"time"

	nerrors "github.com/kbukum/nodegraph/errors"
)

// SlotsConfig configures a slot pool.
type SlotsConfig struct {
	// Name identifies the limited resource in errors and callbacks.
	Name string
	// Max is the number of slots. Values <= 0 default to 64.
	Max int
	// MaxWait is how long Acquire waits for a slot. 0 means fail immediately.
	MaxWait time.Duration
	// OnReject is called when an acquire fails.
	OnReject func(name string)
}

// Slots is a semaphore that hands out release functions. It bounds how many
// component instances may be alive at once.
type Slots struct {
	config SlotsConfig
	sem    chan struct{}
}

// NewSlots creates a slot pool.
func NewSlots(config SlotsConfig) *Slots {
	if config.Max <= 0 {
		config.Max = 64
	}
	if config.Name == "" {
		config.Name = "slots"
	}
	return &Slots{
		config: config,
		sem:    make(chan struct{}, config.Max),
	}
}

// Acquire takes a slot. The returned release function is idempotent.
// A full pool yields a ResourceExhausted error.
func (s *Slots) Acquire(ctx context.Context) (func(), error) {
	if err := s.acquire(ctx); err != nil {
		if s.config.OnReject != nil {
			s.config.OnReject(s.config.Name)
		}
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-s.sem })
	}, nil
}

// AcquireWait takes a slot, waiting as long as ctx allows. It fails only
// with the context error.
func (s *Slots) AcquireWait(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		if s.config.OnReject != nil {
			s.config.OnReject(s.config.Name)
		}
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-s.sem })
	}, nil
}

func (s *Slots) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	default:
	}

	if s.config.MaxWait <= 0 {
		return nerrors.ResourceExhausted(s.config.Name, int64(s.config.Max))
	}

	timer := time.NewTimer(s.config.MaxWait)
	defer timer.Stop()

	select {
	case s.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return nerrors.ResourceExhausted(s.config.Name, int64(s.config.Max))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Available returns the number of free slots.
func (s *Slots) Available() int {
	return s.config.Max - len(s.sem)
}

// InUse returns the number of slots currently held.
func (s *Slots) InUse() int {
	return len(s.sem)
}

// Max returns the pool size.
func (s *Slots) Max() int {
	return s.config.Max
}
