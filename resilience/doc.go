// Package resilience provides the fault-tolerance primitives used by the
// component host.
//
//   - Slots: a bounded pool of instance slots; acquiring past the limit
//     fails with a ResourceExhausted execution error.
//   - Retry: retries transient failures with exponential backoff, never
//     retrying capability denials or validation errors.
//
//	slots := resilience.NewSlots(resilience.SlotsConfig{Name: "instances", Max: 64})
//	release, err := slots.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer release()
package resilience
