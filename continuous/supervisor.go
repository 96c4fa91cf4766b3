package continuous

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/logger"
	"github.com/kbukum/nodegraph/observability"
)

// supervise owns the task of one node from launch to its terminal phase.
// It is the only goroutine that ends a task; the worker it spawns runs the
// cycles. A stop that arrives while the instance is still being launched
// goes through the same escalation as a stop of a running task.
func (m *Manager) supervise(n *node) {
	defer close(n.done)
	log := m.log.WithFields(logger.NodeFields(n.id, n.componentID))

	taskCtx, abort := context.WithCancel(logger.ContextWithNodeID(context.Background(), n.id))
	defer abort()

	var l launched
	launchDone := make(chan struct{})
	go func() {
		defer close(launchDone)
		l = m.safeLaunch(taskCtx, n)
	}()

	select {
	case <-launchDone:
	case <-n.stop:
		m.setPhase(n, log, PhaseStopping)
		if m.escalate(log, launchDone, abort) {
			if l.caller != nil {
				m.closeCaller(l.caller, log)
			}
			n.seal(true)
			m.setPhase(n, log, PhaseStopped)
			return
		}
		m.detach(n, log, func() {
			<-launchDone
			if l.caller != nil {
				m.closeCaller(l.caller, log)
			}
		})
		return
	}

	if l.err != nil {
		execErr := nerrors.From(l.err)
		n.publish(CycleResult{NodeID: n.id, Err: execErr, At: time.Now()})
		m.setPhase(n, log, PhaseFailed)
		n.seal(false)
		log.Warn("continuous node failed to launch", logger.Fields(logger.FieldCategory, string(execErr.Category), logger.FieldError, execErr.Message))
		return
	}
	caller := l.caller

	cooperative := make(chan struct{})
	workerDone := make(chan struct{})
	go m.work(taskCtx, n, caller, cooperative, workerDone, log)

	select {
	case <-workerDone:
		// The task ended on its own, which only happens on a fault.
		m.closeCaller(caller, log)
		n.seal(false)
		return
	case <-n.stop:
	}

	m.setPhase(n, log, PhaseStopping)
	close(cooperative)
	if m.escalate(log, workerDone, abort) {
		m.finish(n, caller, log)
		return
	}
	m.detach(n, log, func() {
		<-workerDone
		m.closeCaller(caller, log)
	})
}

type launched struct {
	caller Caller
	err    error
}

// safeLaunch runs the launcher with panics contained.
func (m *Manager) safeLaunch(ctx context.Context, n *node) (l launched) {
	defer func() {
		if r := recover(); r != nil {
			l = launched{err: nerrors.Trap(fmt.Errorf("panic during launch: %v", r))}
		}
	}()
	caller, err := m.launch(ctx, n.id, n.componentID)
	return launched{caller: caller, err: err}
}

// escalate waits for done through the cooperative window, aborts the task
// context, then waits through the forced window. It reports whether done
// closed in time.
func (m *Manager) escalate(log *logger.Logger, done <-chan struct{}, abort context.CancelFunc) bool {
	grace := time.NewTimer(m.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-done:
		return true
	case <-grace.C:
	}

	log.Warn("continuous task ignored cooperative stop, aborting", logger.Fields(logger.FieldPhase, PhaseStopping.String()))
	abort()

	force := time.NewTimer(m.cfg.ForcePeriod)
	defer force.Stop()
	select {
	case <-done:
		return true
	case <-force.C:
		return false
	}
}

// detach abandons a task that outlived both stop windows. cleanup runs in
// the background and releases the instance once the task finally returns.
// This is a leak, never a silent success.
func (m *Manager) detach(n *node, log *logger.Logger, cleanup func()) {
	m.leaks.Add(1)
	m.metrics.RecordLeak(context.Background(), n.componentID)
	log.Error("continuous task did not finish after abort, detaching", logger.Fields(
		logger.FieldEvent, "continuous_task_leak",
		"grace_ms", m.cfg.GracePeriod.Milliseconds(),
		"force_ms", m.cfg.ForcePeriod.Milliseconds(),
	))
	go cleanup()
	n.seal(true)
	m.setPhase(n, log, PhaseStopped)
}

// finish completes a stop whose task has exited.
func (m *Manager) finish(n *node, caller Caller, log *logger.Logger) {
	m.closeCaller(caller, log)
	n.seal(true)
	m.setPhase(n, log, PhaseStopped)
}

func (m *Manager) closeCaller(caller Caller, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ForcePeriod)
	defer cancel()
	if err := caller.Close(ctx); err != nil {
		log.Warn("closing continuous instance failed", logger.ErrorFields("close", err))
	}
}

func (m *Manager) setPhase(n *node, log *logger.Logger, to Phase) {
	if from, ok := n.transition(to); ok {
		log.Debug("phase changed", logger.Fields("from", from.String(), logger.FieldPhase, to.String()))
	}
}

// work runs cycles until the cooperative signal, the abort, or a fault.
// Cycle N+1 starts only after cycle N has been published.
func (m *Manager) work(ctx context.Context, n *node, caller Caller, cooperative <-chan struct{}, done chan<- struct{}, log *logger.Logger) {
	defer close(done)
	var cycle uint64
	defer func() {
		if r := recover(); r != nil {
			execErr := nerrors.Trap(fmt.Errorf("panic in continuous task: %v", r))
			n.publish(CycleResult{NodeID: n.id, Cycle: cycle, Err: execErr, At: time.Now()})
			m.setPhase(n, log, PhaseFailed)
		}
	}()

	var timer *time.Timer
	for {
		select {
		case <-cooperative:
			return
		case <-ctx.Done():
			return
		default:
		}

		cycle++
		if cycle == 1 {
			m.setPhase(n, log, PhaseRunning)
		}
		if fatal := m.cycle(ctx, n, caller, cycle, log); fatal {
			m.setPhase(n, log, PhaseFailed)
			return
		}

		if timer == nil {
			timer = time.NewTimer(n.interval)
			defer timer.Stop()
		} else {
			timer.Reset(n.interval)
		}
		select {
		case <-cooperative:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// cycle performs one call and publishes its result. It reports whether the
// error ends the task.
func (m *Manager) cycle(ctx context.Context, n *node, caller Caller, cycle uint64, log *logger.Logger) bool {
	ctx, span := observability.StartSpan(ctx, observability.SpanContinuousCycle)
	defer span.End()
	span.SetAttributes(
		attribute.String(observability.AttrNodeID, n.id),
		attribute.String(observability.AttrComponentID, n.componentID),
		attribute.Int64("cycle", int64(cycle)),
	)

	out, err := caller.Call(ctx, n.inputs)
	if err != nil && ctx.Err() != nil {
		// Aborted mid-call by a stop; nothing to publish.
		return false
	}
	r := CycleResult{NodeID: n.id, Cycle: cycle, Outputs: out, At: time.Now()}
	status := "ok"
	if err != nil {
		r.Outputs = nil
		r.Err = nerrors.From(err)
		status = string(r.Err.Category)
		span.SetAttributes(attribute.String(observability.AttrErrorCategory, status))
	}
	n.publish(r)
	m.metrics.RecordCycle(ctx, n.componentID, status)

	if r.Err != nil && fatal(r.Err) {
		log.Warn("continuous node failed", logger.Fields(
			logger.FieldCategory, status,
			logger.FieldError, r.Err.Message,
			"cycle", cycle,
		))
		return true
	}
	return false
}

// fatal reports whether a cycle error ends the task. Sandbox faults and
// exhausted limits do; business errors, timeouts and denials are published
// and the next cycle runs.
func fatal(err *nerrors.ExecutionError) bool {
	switch err.Category {
	case nerrors.CategoryComponentTrap, nerrors.CategoryResourceExhausted:
		return true
	}
	return false
}
