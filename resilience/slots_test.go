package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	nerrors "github.com/kbukum/nodegraph/errors"
)

func TestSlots_AcquireWithinLimit(t *testing.T) {
	s := NewSlots(SlotsConfig{Name: "instances", Max: 2})

	r1, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.InUse() != 2 || s.Available() != 0 {
		t.Errorf("expected 2 in use and 0 available, got %d/%d", s.InUse(), s.Available())
	}
	r1()
	r2()
	if s.InUse() != 0 {
		t.Errorf("expected 0 in use after release, got %d", s.InUse())
	}
}

func TestSlots_FullIsResourceExhausted(t *testing.T) {
	rejected := ""
	s := NewSlots(SlotsConfig{
		Name:     "instances",
		Max:      1,
		OnReject: func(name string) { rejected = name },
	})

	release, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	_, err = s.Acquire(context.Background())
	if !nerrors.Is(err, nerrors.CategoryResourceExhausted) {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	if rejected != "instances" {
		t.Errorf("expected OnReject with 'instances', got %q", rejected)
	}
}

func TestSlots_ReleaseIsIdempotent(t *testing.T) {
	s := NewSlots(SlotsConfig{Max: 2})
	r1, _ := s.Acquire(context.Background())
	r2, _ := s.Acquire(context.Background())

	r1()
	r1()
	if s.InUse() != 1 {
		t.Fatalf("expected double release to free one slot, got %d in use", s.InUse())
	}
	r2()
}

func TestSlots_WaitsForSlot(t *testing.T) {
	s := NewSlots(SlotsConfig{Max: 1, MaxWait: time.Second})
	release, _ := s.Acquire(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	r, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected slot after release, got %v", err)
	}
	r()
}

func TestSlots_WaitRespectsContext(t *testing.T) {
	s := NewSlots(SlotsConfig{Max: 1, MaxWait: time.Second})
	release, _ := s.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context deadline, got %v", err)
	}
}

func TestSlots_Defaults(t *testing.T) {
	s := NewSlots(SlotsConfig{})
	if s.Max() != 64 {
		t.Errorf("expected default max 64, got %d", s.Max())
	}
}
