package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/logger"
	"github.com/kbukum/nodegraph/observability"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/value"
)

// Handle owns one sandboxed instance on behalf of one node. Calls on a
// handle are serialized; the instance is never shared with another node.
type Handle struct {
	host    *Host
	nodeID  string
	spec    *registry.ComponentSpec
	rt      Runtime
	env     Env
	api     *hostAPI
	release func()
	log     *logger.Logger

	mu     sync.Mutex
	inst   Instance // nil after a trap or timeout until the next call
	closed bool
}

// NodeID returns the node this handle serves.
func (hd *Handle) NodeID() string { return hd.nodeID }

// Spec returns the component metadata.
func (hd *Handle) Spec() *registry.ComponentSpec { return hd.spec }

// Call executes the component once. Every failure is an
// *errors.ExecutionError: inputs that do not satisfy the declared ports are
// ValidationErrors, panics and sandbox faults are ComponentTraps, and
// exceeding the call timeout or response ceiling yields Timeout or
// ResourceExhausted. An instance that trapped or timed out is discarded
// and replaced by a fresh one on the next call.
func (hd *Handle) Call(ctx context.Context, inputs []value.Value) ([]value.Value, error) {
	hd.mu.Lock()
	defer hd.mu.Unlock()

	if hd.closed {
		return nil, nerrors.Failure("The component instance has already been released.")
	}

	args, err := checkInputs(hd.spec, inputs)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanHostCall)
	defer span.End()
	span.SetAttributes(
		attribute.String(observability.AttrNodeID, hd.nodeID),
		attribute.String(observability.AttrComponentID, hd.spec.ID),
		attribute.String(observability.AttrRuntime, string(hd.spec.Runtime)),
	)

	if hd.inst == nil {
		inst, err := hd.host.newInstance(ctx, hd.rt, hd.env)
		if err != nil {
			return nil, hd.fail(ctx, span, nerrors.From(err), 0)
		}
		hd.inst = inst
		hd.log.Debug("instance recreated")
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(logger.ContextWithNodeID(ctx, hd.nodeID), hd.host.cfg.CallTimeout)
	defer cancel()

	callCtx, latch := hd.api.begin(callCtx)
	out, err := invoke(callCtx, hd.inst, args)
	if denied := hd.api.end(latch); denied != nil {
		err = denied
	}
	if err == nil {
		out, err = checkOutputs(hd.spec, out, hd.host.cfg.MaxResponseBytes)
	}
	elapsed := time.Since(start)

	if err != nil {
		execErr := classify(err)
		switch execErr.Category {
		case nerrors.CategoryComponentTrap, nerrors.CategoryTimeout:
			hd.discard()
		}
		return nil, hd.fail(ctx, span, execErr, elapsed)
	}

	hd.host.metrics.RecordHostCall(ctx, hd.spec.ID, "ok", elapsed)
	return out, nil
}

func (hd *Handle) fail(ctx context.Context, span trace.Span, execErr *nerrors.ExecutionError, elapsed time.Duration) error {
	span.RecordError(execErr)
	span.SetStatus(codes.Error, execErr.Message)
	span.SetAttributes(attribute.String(observability.AttrErrorCategory, string(execErr.Category)))
	hd.host.metrics.RecordHostCall(ctx, hd.spec.ID, string(execErr.Category), elapsed)

	fields := logger.MergeWithDuration(logger.Fields(logger.FieldCategory, string(execErr.Category)), elapsed)
	switch execErr.Category {
	case nerrors.CategoryComponentTrap, nerrors.CategoryResourceExhausted:
		hd.log.Warn(execErr.Error(), fields)
	default:
		hd.log.Debug(execErr.Error(), fields)
	}
	return execErr
}

// discard drops a poisoned instance. Callers hold hd.mu.
func (hd *Handle) discard() {
	if hd.inst == nil {
		return
	}
	safeClose(context.Background(), hd.inst)
	hd.inst = nil
}

// Close releases the instance and its slot. It is idempotent and never
// panics, even if the instance is mid-fault. A call still running on
// another goroutine is waited for only up to its own timeout.
func (hd *Handle) Close(ctx context.Context) error {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	if hd.closed {
		return nil
	}
	hd.closed = true

	var err error
	if hd.inst != nil {
		err = safeClose(ctx, hd.inst)
		hd.inst = nil
	}
	hd.release()
	hd.host.forget(hd)
	hd.host.metrics.RecordInstance(ctx, hd.spec.ID, -1)
	hd.log.Debug("instance released")
	return err
}

// invoke runs Execute on its own goroutine so a component that ignores its
// context cannot hold the caller past the deadline. Panics become traps.
func invoke(ctx context.Context, inst Instance, inputs []value.Value) ([]value.Value, error) {
	type result struct {
		out []value.Value
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: nerrors.Trap(fmt.Errorf("panic: %v", r))}
			}
		}()
		out, err := inst.Execute(ctx, inputs)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// safeClose closes inst, converting a panic into an error.
func safeClose(ctx context.Context, inst Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host: panic while closing instance: %v", r)
		}
	}()
	return inst.Close(ctx)
}

// classify maps whatever the runtime returned onto the error taxonomy.
func classify(err error) *nerrors.ExecutionError {
	if execErr, ok := nerrors.As(err); ok {
		return execErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nerrors.Timeout("execute").WithCause(err)
	case errors.Is(err, context.Canceled):
		return nerrors.New(nerrors.CategoryTimeout, "The call was cancelled before it completed.").WithCause(err)
	default:
		return nerrors.Failure(err.Error()).WithCause(err)
	}
}

// checkInputs validates arity, presence of required inputs and port types,
// coercing compatible values to the declared kind.
func checkInputs(spec *registry.ComponentSpec, inputs []value.Value) ([]value.Value, error) {
	if len(inputs) != len(spec.Inputs) {
		return nil, nerrors.Newf(nerrors.CategoryValidation,
			"Component %s takes %d inputs but received %d.", spec.ID, len(spec.Inputs), len(inputs))
	}
	args := make([]value.Value, len(inputs))
	for i, port := range spec.Inputs {
		v := inputs[i]
		if v == nil {
			if port.Required {
				return nil, nerrors.MissingInput(port.Name)
			}
			continue
		}
		coerced, err := value.Coerce(v, port.Type)
		if err != nil {
			return nil, nerrors.TypeMismatch(port.Name, port.Type.String(), v.Kind().String()).WithCause(err)
		}
		args[i] = coerced
	}
	return args, nil
}

// checkOutputs enforces the declared output contract and the response ceiling.
func checkOutputs(spec *registry.ComponentSpec, out []value.Value, maxBytes int64) ([]value.Value, error) {
	if len(out) != len(spec.Outputs) {
		return nil, nerrors.Failure(fmt.Sprintf(
			"Component %s returned %d outputs but declares %d.", spec.ID, len(out), len(spec.Outputs)))
	}
	var total int64
	for i, port := range spec.Outputs {
		v := out[i]
		if v == nil {
			return nil, nerrors.Failure(fmt.Sprintf("Component %s returned no value for output %q.", spec.ID, port.Name))
		}
		if v.Kind() != port.Type {
			return nil, nerrors.Failure(fmt.Sprintf(
				"Component %s returned %s for output %q declared as %s.", spec.ID, v.Kind(), port.Name, port.Type))
		}
		total += value.Size(v)
		if total > maxBytes {
			return nil, nerrors.ResourceExhausted("response size", maxBytes)
		}
	}
	return out, nil
}
