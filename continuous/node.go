package continuous

import (
	"sync"
	"sync/atomic"
	"time"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/value"
)

// CycleResult is what one cycle published: outputs, or an error.
type CycleResult struct {
	NodeID  string                  `json:"node_id"`
	Cycle   uint64                  `json:"cycle"`
	Outputs value.Values            `json:"outputs,omitempty"`
	Err     *nerrors.ExecutionError `json:"error,omitempty"`
	At      time.Time               `json:"at"`
}

// Snapshot is the lock-free view of a node the caller polls.
type Snapshot struct {
	NodeID      string                  `json:"node_id"`
	ComponentID string                  `json:"component_id,omitempty"`
	Phase       Phase                   `json:"phase"`
	Cycles      uint64                  `json:"cycles"`
	Outputs     value.Values            `json:"outputs,omitempty"`
	Err         *nerrors.ExecutionError `json:"error,omitempty"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// node is the runtime state of one started continuous node. The
// supervisor and its worker write the snapshot; everyone else only loads
// it. Commands and results travel over channels.
type node struct {
	id          string
	componentID string
	inputs      []value.Value
	interval    time.Duration
	observe     Observer

	snap    atomic.Pointer[Snapshot]
	results chan CycleResult
	stop    chan struct{}
	done    chan struct{}

	pubMu  sync.Mutex
	sealed bool

	// obsMu orders observer calls the same as snapshot swaps.
	obsMu sync.Mutex
}

func newNode(id, componentID string, inputs []value.Value, interval time.Duration, buffer int, observe Observer) *node {
	n := &node{
		id:          id,
		componentID: componentID,
		inputs:      inputs,
		interval:    interval,
		observe:     observe,
		results:     make(chan CycleResult, buffer),
		stop:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	first := &Snapshot{NodeID: id, ComponentID: componentID, Phase: PhaseStarting, UpdatedAt: time.Now()}
	n.snap.Store(first)
	if observe != nil {
		observe(*first)
	}
	return n
}

func (n *node) load() Snapshot {
	return *n.snap.Load()
}

// update applies fn to a copy of the snapshot and swaps it in. fn returns
// false to leave the snapshot unchanged.
func (n *node) update(fn func(s *Snapshot) bool) bool {
	if n.observe != nil {
		n.obsMu.Lock()
		defer n.obsMu.Unlock()
	}
	for {
		old := n.snap.Load()
		next := *old
		if !fn(&next) {
			return false
		}
		next.UpdatedAt = time.Now()
		if n.snap.CompareAndSwap(old, &next) {
			if n.observe != nil {
				n.observe(next)
			}
			return true
		}
	}
}

// transition moves to phase `to` if that is a legal forward move.
func (n *node) transition(to Phase) (from Phase, ok bool) {
	ok = n.update(func(s *Snapshot) bool {
		from = s.Phase
		if !canTransition(s.Phase, to) {
			return false
		}
		s.Phase = to
		return true
	})
	return from, ok
}

// publish records r in the snapshot and sends it on the result channel,
// dropping the oldest unpolled result when the buffer is full. Nothing is
// published once the node is sealed.
func (n *node) publish(r CycleResult) bool {
	n.pubMu.Lock()
	defer n.pubMu.Unlock()
	if n.sealed {
		return false
	}
	n.update(func(s *Snapshot) bool {
		s.Cycles = r.Cycle
		if r.Err != nil {
			s.Err = r.Err
		} else {
			s.Outputs = r.Outputs
			s.Err = nil
		}
		return true
	})
	for {
		select {
		case n.results <- r:
			return true
		default:
		}
		select {
		case <-n.results:
		default:
		}
	}
}

// seal stops further publication. With drain set, results nobody polled
// are discarded so the channel stays silent from here on.
func (n *node) seal(drain bool) {
	n.pubMu.Lock()
	defer n.pubMu.Unlock()
	n.sealed = true
	if !drain {
		return
	}
	for {
		select {
		case <-n.results:
		default:
			return
		}
	}
}

// requestStop delivers the stop command. Repeated requests collapse.
func (n *node) requestStop() {
	select {
	case n.stop <- struct{}{}:
	default:
	}
}

func (n *node) poll() (CycleResult, bool) {
	select {
	case r := <-n.results:
		return r, true
	default:
		return CycleResult{}, false
	}
}
