package graph

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	nerrors "github.com/kbukum/nodegraph/errors"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/value"
)

// Position is where the editor draws a node. The core ignores it.
type Position struct {
	X float32 `yaml:"x" json:"x"`
	Y float32 `yaml:"y" json:"y"`
}

// Node is a graph vertex running one component. It carries no runtime
// state; phases, handles and channels live in the executor and the
// continuous manager.
type Node struct {
	ID          string `yaml:"id" json:"id" validate:"required"`
	ComponentID string `yaml:"component" json:"component" validate:"required"`
	Continuous  bool   `yaml:"continuous,omitempty" json:"continuous,omitempty"`
	// Enabled is the persisted preference of a continuous node. It never
	// starts the node by itself.
	Enabled  bool      `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Position *Position `yaml:"position,omitempty" json:"position,omitempty"`
}

// Edge connects an output port of From to an input port of To.
type Edge struct {
	From     string `yaml:"from" json:"from" validate:"required"`
	FromPort string `yaml:"from_port" json:"from_port" validate:"required"`
	To       string `yaml:"to" json:"to" validate:"required"`
	ToPort   string `yaml:"to_port" json:"to_port" validate:"required"`
}

func (e Edge) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", e.From, e.FromPort, e.To, e.ToPort)
}

// Graph is an editable node graph. It is not safe for concurrent mutation;
// the executor works on a validated snapshot.
type Graph struct {
	Version int    `yaml:"version" json:"version"`
	Nodes   []Node `yaml:"nodes" json:"nodes" validate:"dive"`
	Edges   []Edge `yaml:"edges" json:"edges" validate:"dive"`
}

// New returns an empty graph at the current document version.
func New() *Graph {
	return &Graph{Version: CurrentVersion}
}

// NewNodeID returns a fresh unique node id.
func NewNodeID() string {
	return uuid.NewString()
}

// Node returns the node with id.
func (g *Graph) Node(id string) (Node, bool) {
	i := g.index(id)
	if i < 0 {
		return Node{}, false
	}
	return g.Nodes[i], true
}

func (g *Graph) index(id string) int {
	return slices.IndexFunc(g.Nodes, func(n Node) bool { return n.ID == id })
}

// AddNode creates a node for componentID. An unknown component is a
// structural error: the node is never created.
func (g *Graph) AddNode(catalog registry.Catalog, componentID string) (Node, error) {
	spec, err := catalog.Lookup(componentID)
	if err != nil {
		return Node{}, err
	}
	n := Node{ID: NewNodeID(), ComponentID: spec.ID, Continuous: spec.Continuous}
	g.Nodes = append(g.Nodes, n)
	return n, nil
}

// Add inserts n as is. Ids must be unique.
func (g *Graph) Add(n Node) error {
	if n.ID == "" || n.ComponentID == "" {
		return nerrors.Structural("A node needs an id and a component.")
	}
	if g.index(n.ID) >= 0 {
		return nerrors.Structural(fmt.Sprintf("Node %q already exists.", n.ID))
	}
	g.Nodes = append(g.Nodes, n)
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (g *Graph) RemoveNode(id string) bool {
	i := g.index(id)
	if i < 0 {
		return false
	}
	g.Nodes = slices.Delete(g.Nodes, i, i+1)
	g.Edges = slices.DeleteFunc(g.Edges, func(e Edge) bool { return e.From == id || e.To == id })
	return true
}

// SetEnabled records the enabled preference of a continuous node.
func (g *Graph) SetEnabled(id string, enabled bool) bool {
	i := g.index(id)
	if i < 0 {
		return false
	}
	g.Nodes[i].Enabled = enabled
	return true
}

// Connect validates e against the component specs and adds it.
func (g *Graph) Connect(catalog registry.Catalog, e Edge) error {
	if err := g.checkEdge(catalog, e); err != nil {
		return err
	}
	if slices.ContainsFunc(g.Edges, func(x Edge) bool { return x.To == e.To && x.ToPort == e.ToPort }) {
		return nerrors.Structural(fmt.Sprintf("Input %s.%s is already connected.", e.To, e.ToPort)).
			WithHint("Disconnect the existing edge first.")
	}
	g.Edges = append(g.Edges, e)
	if _, err := g.Levels(); err != nil {
		g.Edges = g.Edges[:len(g.Edges)-1]
		return err
	}
	return nil
}

// Disconnect removes e if present.
func (g *Graph) Disconnect(e Edge) bool {
	n := len(g.Edges)
	g.Edges = slices.DeleteFunc(g.Edges, func(x Edge) bool { return x == e })
	return len(g.Edges) != n
}

// Incoming returns the edges feeding node id.
func (g *Graph) Incoming(id string) []Edge {
	var in []Edge
	for _, e := range g.Edges {
		if e.To == id {
			in = append(in, e)
		}
	}
	return in
}

// checkEdge validates endpoints, ports and port type compatibility.
func (g *Graph) checkEdge(catalog registry.Catalog, e Edge) error {
	if e.From == e.To {
		return nerrors.Structural(fmt.Sprintf("Edge %s connects a node to itself.", e))
	}
	from, ok := g.Node(e.From)
	if !ok {
		return nerrors.Structural(fmt.Sprintf("Edge %s starts at unknown node %q.", e, e.From))
	}
	to, ok := g.Node(e.To)
	if !ok {
		return nerrors.Structural(fmt.Sprintf("Edge %s ends at unknown node %q.", e, e.To))
	}
	fromSpec, err := catalog.Lookup(from.ComponentID)
	if err != nil {
		return err
	}
	toSpec, err := catalog.Lookup(to.ComponentID)
	if err != nil {
		return err
	}
	oi := fromSpec.OutputIndex(e.FromPort)
	if oi < 0 {
		return nerrors.Structural(fmt.Sprintf("Component %s has no output %q.", fromSpec.ID, e.FromPort))
	}
	ii := toSpec.InputIndex(e.ToPort)
	if ii < 0 {
		return nerrors.Structural(fmt.Sprintf("Component %s has no input %q.", toSpec.ID, e.ToPort))
	}
	outKind, inKind := fromSpec.Outputs[oi].Type, toSpec.Inputs[ii].Type
	if !value.Compatible(outKind, inKind) {
		return nerrors.Structural(fmt.Sprintf("Edge %s carries %s into a %s input.", e, outKind, inKind)).
			WithInput(e.ToPort)
	}
	return nil
}

// Validate checks the whole graph: every component is known, every edge is
// well typed, no input has two sources, and there are no cycles. Any
// failure is a structural error and the graph must not run.
func (g *Graph) Validate(catalog registry.Catalog) error {
	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return nerrors.Structural("A node has no id.")
		}
		if seen[n.ID] {
			return nerrors.Structural(fmt.Sprintf("Node id %q is used twice.", n.ID))
		}
		seen[n.ID] = true
		if _, err := catalog.Lookup(n.ComponentID); err != nil {
			return err
		}
	}
	inputs := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		if err := g.checkEdge(catalog, e); err != nil {
			return err
		}
		key := e.To + "\x00" + e.ToPort
		if inputs[key] {
			return nerrors.Structural(fmt.Sprintf("Input %s.%s has more than one source.", e.To, e.ToPort))
		}
		inputs[key] = true
	}
	_, err := g.Levels()
	return err
}

// Levels groups node ids by dependency depth using Kahn's algorithm. Nodes
// in one level do not depend on each other. Ids within a level are sorted
// so the order is stable. A cycle is a structural error.
func (g *Graph) Levels() ([][]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	dependents := make(map[string][]string)
	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		if _, ok := inDegree[e.From]; !ok {
			return nil, nerrors.Structural(fmt.Sprintf("Edge %s references unknown node %q.", e, e.From))
		}
		if _, ok := inDegree[e.To]; !ok {
			return nil, nerrors.Structural(fmt.Sprintf("Edge %s references unknown node %q.", e, e.To))
		}
		inDegree[e.To]++
		dependents[e.From] = append(dependents[e.From], e.To)
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	var levels [][]string
	visited := 0
	for len(queue) > 0 {
		slices.Sort(queue)
		levels = append(levels, queue)
		visited += len(queue)

		var next []string
		for _, id := range queue {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if visited != len(g.Nodes) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		slices.Sort(stuck)
		return nil, nerrors.Structural("The graph contains a cycle.").
			WithHint("Remove an edge so that no node depends on its own output.").
			WithDetail("nodes", stuck)
	}
	return levels, nil
}
