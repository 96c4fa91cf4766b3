package continuous

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/host"
	"github.com/kbukum/nodegraph/host/hosttest"
	"github.com/kbukum/nodegraph/logger"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/value"
)

type fixture struct {
	reg *registry.Registry
	rt  *hosttest.MockRuntime
	h   *host.Host
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{reg: registry.New(), rt: hosttest.NewMockRuntime()}
	f.h = host.New(f.reg, host.DefaultConfig(), host.WithRuntime(registry.RuntimeNative, f.rt))
	t.Cleanup(func() { f.h.Close(context.Background()) })
	return f
}

func (f *fixture) add(t *testing.T, id string, c *hosttest.MockComponent) *hosttest.MockComponent {
	t.Helper()
	spec := hosttest.Spec(id, []registry.Port{hosttest.Opt("step", value.KindU32)}, []registry.Port{hosttest.Out("n", value.KindU32)})
	spec.Continuous = true
	if err := f.reg.Register(spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return f.rt.Add(id, c)
}

func (f *fixture) manager(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(f.reg, HostLauncher(f.h), cfg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.StopAll(ctx)
	})
	return m
}

func counting() *hosttest.MockComponent {
	var n atomic.Uint32
	return hosttest.NewMockComponentFunc(func(context.Context, host.HostAPI, []value.Value) ([]value.Value, error) {
		return []value.Value{value.U32(n.Add(1))}, nil
	})
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v waiting for %s", timeout, what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitPhase(t *testing.T, m *Manager, id string, want Phase, timeout time.Duration) {
	t.Helper()
	waitFor(t, timeout, "phase "+want.String(), func() bool { return m.Snapshot(id).Phase == want })
}

func TestStart_PublishesFirstResultQuickly(t *testing.T) {
	f := newFixture(t)
	f.add(t, "tick", counting())
	m := f.manager(t, Config{CycleInterval: 10 * time.Millisecond})

	start := time.Now()
	if err := m.Start("n1", "tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var r CycleResult
	waitFor(t, 100*time.Millisecond, "first cycle result", func() bool {
		var ok bool
		r, ok = m.Poll("n1")
		return ok
	})
	if r.Err != nil || r.Cycle != 1 {
		t.Errorf("unexpected first result %+v", r)
	}
	t.Logf("first result after %v", time.Since(start))

	if got := m.Snapshot("n1").Phase; got != PhaseRunning {
		t.Errorf("expected running, got %s", got)
	}
}

func TestStop_SilentAfterStopped(t *testing.T) {
	f := newFixture(t)
	f.add(t, "tick", counting())
	m := f.manager(t, Config{CycleInterval: time.Millisecond})

	if err := m.Start("n1", "tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, "a few cycles", func() bool { return m.Snapshot("n1").Cycles >= 3 })

	start := time.Now()
	m.Stop("n1")
	waitPhase(t, m, "n1", PhaseStopped, 2*time.Second)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stop took %v", elapsed)
	}

	if r, ok := m.Poll("n1"); ok {
		t.Fatalf("result published after stop: %+v", r)
	}
	time.Sleep(30 * time.Millisecond)
	if r, ok := m.Poll("n1"); ok {
		t.Fatalf("result published after stop: %+v", r)
	}
	if m.Snapshot("n1").Outputs == nil {
		t.Error("last outputs should survive the stop")
	}
}

func TestStop_AbortsTaskIgnoringCooperativeSignal(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	defer close(release)
	stuck := f.add(t, "stuck", hosttest.Stuck(release))
	m := f.manager(t, DefaultConfig())

	if err := m.Start("n1", "stuck"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, "call in flight", func() bool { return stuck.Calls() == 1 })

	start := time.Now()
	m.Stop("n1")
	if got := m.Snapshot("n1").Phase; got == PhaseStopped {
		t.Fatal("stop must pass through stopping")
	}
	waitPhase(t, m, "n1", PhaseStopped, 2*time.Second)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stop exceeded its bound: %v", elapsed)
	}
	if m.Leaks() != 0 {
		t.Errorf("aborting the host call should avoid a leak, got %d", m.Leaks())
	}
	waitFor(t, time.Second, "instance release", func() bool { return f.h.InUse() == 0 })
}

// stubborn ignores every cancellation until released.
type stubborn struct {
	release chan struct{}
	calls   atomic.Int64
	closed  atomic.Bool
}

func (s *stubborn) Call(context.Context, []value.Value) ([]value.Value, error) {
	s.calls.Add(1)
	<-s.release
	return []value.Value{value.U32(1)}, nil
}

func (s *stubborn) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStop_DetachesAndLogsLeak(t *testing.T) {
	f := newFixture(t)
	f.add(t, "stubborn", counting())
	s := &stubborn{release: make(chan struct{})}
	var out syncBuffer
	log := logger.NewWithWriter(&logger.Config{Level: "info", Format: "json"}, "test", &out)

	m := NewManager(f.reg, func(context.Context, string, string) (Caller, error) { return s, nil },
		Config{GracePeriod: 50 * time.Millisecond, ForcePeriod: 50 * time.Millisecond}, WithLogger(log))

	if err := m.Start("n1", "stubborn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, "call in flight", func() bool { return s.calls.Load() == 1 })

	m.Stop("n1")
	waitPhase(t, m, "n1", PhaseStopped, time.Second)
	if m.Leaks() != 1 {
		t.Errorf("expected one leak, got %d", m.Leaks())
	}
	logged := out.String()
	if !strings.Contains(logged, "continuous_task_leak") || !strings.Contains(logged, `"level":"error"`) {
		t.Errorf("expected leak logged at error level, got:\n%s", logged)
	}

	// The abandoned call returns later: its result is never published and
	// its instance is still released.
	close(s.release)
	waitFor(t, time.Second, "late close", s.closed.Load)
	if r, ok := m.Poll("n1"); ok {
		t.Errorf("detached task published %+v", r)
	}
	if got := m.Snapshot("n1").Phase; got != PhaseStopped {
		t.Errorf("expected stopped, got %s", got)
	}
}

func TestStop_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.add(t, "tick", counting())
	m := f.manager(t, Config{})

	m.Stop("never-started")
	if got := m.Snapshot("never-started").Phase; got != PhaseIdle {
		t.Errorf("expected idle, got %s", got)
	}
	if err := m.StopWait(context.Background(), "never-started"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := m.Start("n1", "tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Stop("n1")
	m.Stop("n1")
	if err := m.StopWait(context.Background(), "n1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Stop("n1")
	if got := m.Snapshot("n1").Phase; got != PhaseStopped {
		t.Errorf("expected stopped, got %s", got)
	}
}

func TestFault_FailsOnlyThatNode(t *testing.T) {
	f := newFixture(t)
	f.add(t, "boom", hosttest.Panicking("kaboom"))
	healthy := f.add(t, "tick", counting())
	m := f.manager(t, Config{CycleInterval: time.Millisecond})

	if err := m.Start("bad", "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Start("good", "tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitPhase(t, m, "bad", PhaseFailed, time.Second)
	r, ok := m.Poll("bad")
	if !ok || r.Err == nil || r.Err.Category != nerrors.CategoryComponentTrap {
		t.Fatalf("expected published trap, got %+v (ok=%v)", r, ok)
	}
	if m.Snapshot("bad").Err == nil {
		t.Error("snapshot should carry the last error")
	}

	before := healthy.Calls()
	waitFor(t, time.Second, "healthy node progress", func() bool { return healthy.Calls() > before+2 })
	if got := m.Snapshot("good").Phase; got != PhaseRunning {
		t.Errorf("healthy node affected: %s", got)
	}

	// Stopping a failed node is a no-op.
	m.Stop("bad")
	if got := m.Snapshot("bad").Phase; got != PhaseFailed {
		t.Errorf("expected failed, got %s", got)
	}
}

func TestBusinessErrorKeepsRunning(t *testing.T) {
	f := newFixture(t)
	f.add(t, "flaky", hosttest.NewMockComponent(nil, nerrors.Failure("sensor offline")))
	m := f.manager(t, Config{CycleInterval: time.Millisecond})

	if err := m.Start("n1", "flaky"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, "several cycles", func() bool { return m.Snapshot("n1").Cycles >= 3 })

	snap := m.Snapshot("n1")
	if snap.Phase != PhaseRunning {
		t.Errorf("expected running, got %s", snap.Phase)
	}
	if snap.Err == nil || snap.Err.Category != nerrors.CategoryExecutionFailure {
		t.Errorf("expected last error recorded, got %+v", snap.Err)
	}
}

func TestCyclesNeverOverlap(t *testing.T) {
	f := newFixture(t)
	var inFlight, overlaps atomic.Int64
	c := f.add(t, "slow", hosttest.NewMockComponentFunc(func(context.Context, host.HostAPI, []value.Value) ([]value.Value, error) {
		if inFlight.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return []value.Value{value.U32(0)}, nil
	}))
	m := f.manager(t, Config{CycleInterval: time.Nanosecond})

	if err := m.Start("n1", "slow"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, 2*time.Second, "cycles", func() bool { return c.Calls() >= 10 })
	if err := m.StopWait(context.Background(), "n1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if overlaps.Load() != 0 {
		t.Errorf("cycles overlapped %d times", overlaps.Load())
	}
}

func TestStart_Transitions(t *testing.T) {
	f := newFixture(t)
	tick := f.add(t, "tick", counting())
	m := f.manager(t, Config{CycleInterval: time.Millisecond})

	if err := m.Start("n1", "missing"); nerrors.CategoryOf(err) != nerrors.CategoryStructural {
		t.Errorf("expected structural error for unknown component, got %v", err)
	}
	if err := m.Start("n1", "tick", WithInputs(value.U32(1), value.U32(2))); nerrors.CategoryOf(err) != nerrors.CategoryValidation {
		t.Errorf("expected validation error for extra inputs, got %v", err)
	}

	if err := m.Start("n1", "tick", WithInputs(value.U32(3))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Start("n1", "tick"); !errors.Is(err, ErrRunning) {
		t.Errorf("expected ErrRunning, got %v", err)
	}
	waitPhase(t, m, "n1", PhaseRunning, time.Second)
	if err := m.StopWait(context.Background(), "n1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in := tick.LastInputs(); len(in) != 1 || !value.Equal(in[0], value.U32(3)) {
		t.Errorf("expected configured inputs, got %v", in)
	}

	// Stopped is re-enterable through a fresh start.
	if err := m.Start("n1", "tick"); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	waitFor(t, time.Second, "restarted cycles", func() bool { return m.Snapshot("n1").Cycles > 0 })
}

func TestStart_LaunchFailure(t *testing.T) {
	f := newFixture(t)
	f.add(t, "tick", counting())
	f.rt.InstantiateErr = errors.New("no memory")
	m := f.manager(t, Config{})

	if err := m.Start("n1", "tick"); err != nil {
		t.Fatalf("start must not block on launch, got %v", err)
	}
	waitPhase(t, m, "n1", PhaseFailed, time.Second)
	r, ok := m.Poll("n1")
	if !ok || r.Err == nil {
		t.Errorf("expected launch error to be published, got %+v", r)
	}
}

func TestStop_WhileLaunching(t *testing.T) {
	f := newFixture(t)
	f.add(t, "tick", counting())
	entered := make(chan struct{}, 1)
	f.rt.OnInstantiate = func(ctx context.Context) error {
		entered <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	m := f.manager(t, Config{GracePeriod: 50 * time.Millisecond, ForcePeriod: 50 * time.Millisecond})

	if err := m.Start("n1", "tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-entered
	if got := m.Snapshot("n1").Phase; got != PhaseStarting {
		t.Fatalf("expected starting, got %s", got)
	}

	start := time.Now()
	m.Stop("n1")
	waitPhase(t, m, "n1", PhaseStopped, 2*time.Second)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stop took %v", elapsed)
	}
	if m.Leaks() != 0 {
		t.Errorf("an aborted launch is not a leak, got %d", m.Leaks())
	}
	if r, ok := m.Poll("n1"); ok {
		t.Errorf("result published after stop: %+v", r)
	}
	waitFor(t, time.Second, "slot release", func() bool { return f.h.InUse() == 0 })
}

func TestStop_DetachesLaunchIgnoringAbort(t *testing.T) {
	f := newFixture(t)
	f.add(t, "stubborn", counting())
	s := &stubborn{release: make(chan struct{})}
	launch := make(chan struct{})
	entered := make(chan struct{}, 1)
	launcher := func(context.Context, string, string) (Caller, error) {
		entered <- struct{}{}
		<-launch
		return s, nil
	}
	m := NewManager(f.reg, launcher, Config{GracePeriod: 50 * time.Millisecond, ForcePeriod: 50 * time.Millisecond},
		WithLogger(logger.NewWithWriter(&logger.Config{Level: "error", Format: "json"}, "test", &syncBuffer{})))

	if err := m.Start("n1", "stubborn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-entered
	m.Stop("n1")
	waitPhase(t, m, "n1", PhaseStopped, time.Second)
	if m.Leaks() != 1 {
		t.Errorf("expected one leak, got %d", m.Leaks())
	}

	// The launch completes late: its instance is released and never run.
	close(launch)
	waitFor(t, time.Second, "late close", s.closed.Load)
	if s.calls.Load() != 0 {
		t.Errorf("detached launch must not run cycles, got %d calls", s.calls.Load())
	}
	if got := m.Snapshot("n1").Phase; got != PhaseStopped {
		t.Errorf("expected stopped, got %s", got)
	}
}

func TestReset_ForgetsEverything(t *testing.T) {
	f := newFixture(t)
	f.add(t, "tick", counting())
	m := f.manager(t, Config{CycleInterval: time.Millisecond})

	for _, id := range []string{"a", "b"} {
		if err := m.Start(id, "tick"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	waitFor(t, time.Second, "outputs", func() bool {
		_, ok := m.LatestOutputs("a")
		return ok
	})
	if err := m.Reset(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if got := m.Snapshot(id).Phase; got != PhaseIdle {
			t.Errorf("%s: expected idle after reset, got %s", id, got)
		}
	}
	if len(m.Snapshots()) != 0 {
		t.Errorf("expected no nodes after reset")
	}
	if f.h.InUse() != 0 {
		t.Errorf("reset must release instances, %d in use", f.h.InUse())
	}
}

func TestResultBuffer_DropsOldest(t *testing.T) {
	f := newFixture(t)
	f.add(t, "tick", counting())
	m := f.manager(t, Config{CycleInterval: time.Millisecond, ResultBuffer: 2})

	if err := m.Start("n1", "tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, "cycles", func() bool { return m.Snapshot("n1").Cycles >= 10 })

	r, ok := m.Poll("n1")
	if !ok {
		t.Fatal("expected a buffered result")
	}
	if r.Cycle < 8 {
		t.Errorf("expected only recent results to be buffered, got cycle %d", r.Cycle)
	}
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	f.add(t, "tick", counting())
	m := f.manager(t, Config{CycleInterval: time.Millisecond})
	lc := m.Lifecycle()

	if err := m.Start("n1", "tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitPhase(t, m, "n1", PhaseRunning, time.Second)
	if h := lc.Health(context.Background()); h.Details["running"] != "1" {
		t.Errorf("expected one running node, got %v", h.Details)
	}
	if err := lc.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Snapshot("n1").Phase; got != PhaseStopped {
		t.Errorf("expected stopped, got %s", got)
	}
}

func TestObserver_SeesEveryPhase(t *testing.T) {
	f := newFixture(t)
	f.add(t, "tick", counting())

	var mu sync.Mutex
	var phases []Phase
	m := f.manager(t, Config{CycleInterval: time.Millisecond}, WithObserver(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != s.Phase {
			phases = append(phases, s.Phase)
		}
	}))

	if err := m.Start("n1", "tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, "a cycle", func() bool { return m.Snapshot("n1").Cycles > 0 })
	if err := m.StopWait(context.Background(), "n1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Phase{PhaseStarting, PhaseRunning, PhaseStopping, PhaseStopped}
	if len(phases) != len(want) {
		t.Fatalf("expected %v, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("expected %v, got %v", want, phases)
			break
		}
	}
}
