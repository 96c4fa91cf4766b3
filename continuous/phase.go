package continuous

import "fmt"

// Phase is the lifecycle phase of a continuous node.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseStopping
	PhaseStopped
	PhaseFailed
)

var phaseNames = [...]string{"idle", "starting", "running", "stopping", "stopped", "failed"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int32(p))
	}
	return phaseNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Terminal reports whether no task is alive in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseIdle || p == PhaseStopped || p == PhaseFailed
}

// Active reports whether a task exists and has not finished stopping.
func (p Phase) Active() bool {
	return p == PhaseStarting || p == PhaseRunning || p == PhaseStopping
}

// rank orders phases so transitions only move forward. Stopped and Failed
// share the final rank: whichever is reached first sticks.
func (p Phase) rank() int {
	switch p {
	case PhaseStopped, PhaseFailed:
		return int(PhaseStopped)
	default:
		return int(p)
	}
}

// canTransition reports whether from -> to is a legal move. Running can
// only be left through Stopping or Failed; Idle is never re-entered by a
// live task, a fresh start replaces the state instead.
func canTransition(from, to Phase) bool {
	if to.rank() <= from.rank() {
		return false
	}
	switch to {
	case PhaseStarting:
		return from == PhaseIdle
	case PhaseRunning:
		return from == PhaseStarting
	case PhaseStopping:
		return from == PhaseStarting || from == PhaseRunning
	case PhaseStopped:
		return from == PhaseStopping
	case PhaseFailed:
		return from.Active()
	}
	return false
}
