package continuous

import (
	"context"
	"fmt"

	"github.com/kbukum/nodegraph/component"
)

// Lifecycle adapts the manager to component.Component so the application
// stops every continuous task on shutdown.
func (m *Manager) Lifecycle() component.Component {
	return lifecycle{m}
}

type lifecycle struct {
	m *Manager
}

func (l lifecycle) Name() string { return "continuous" }

func (l lifecycle) Start(context.Context) error { return nil }

func (l lifecycle) Stop(ctx context.Context) error {
	return l.m.StopAll(ctx)
}

func (l lifecycle) Health(context.Context) component.Health {
	counts := make(map[Phase]int)
	for _, s := range l.m.Snapshots() {
		counts[s.Phase]++
	}
	h := component.Health{
		Name:   l.Name(),
		Status: component.StatusHealthy,
		Details: map[string]string{
			"running": fmt.Sprint(counts[PhaseRunning]),
			"failed":  fmt.Sprint(counts[PhaseFailed]),
			"leaks":   fmt.Sprint(l.m.Leaks()),
		},
	}
	if l.m.Leaks() > 0 {
		h.Status = component.StatusDegraded
		h.Message = "continuous tasks were detached without finishing"
	}
	return h
}
