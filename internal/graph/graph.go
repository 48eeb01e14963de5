// Package graph holds the in-memory representation of a workflow's nodes and
// edges, and validates structural soundness before activation.
package graph

import (
	"github.com/leadflow/engine/pkg/schema"
)

// Graph is an indexed view over a workflow's nodes and edges.
type Graph struct {
	Workflow *schema.Workflow

	nodes map[string]*schema.Node
	out   map[string][]*schema.Edge
	in    map[string][]*schema.Edge
}

// Build indexes the workflow into a Graph. It never fails; structural
// problems are reported by Validate.
func Build(wf *schema.Workflow) *Graph {
	g := &Graph{
		Workflow: wf,
		nodes:    make(map[string]*schema.Node, len(wf.Nodes)),
		out:      make(map[string][]*schema.Edge, len(wf.Nodes)),
		in:       make(map[string][]*schema.Edge, len(wf.Nodes)),
	}
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		g.nodes[n.ID] = n
	}
	for i := range wf.Edges {
		e := &wf.Edges[i]
		g.out[e.SourceID] = append(g.out[e.SourceID], e)
		g.in[e.TargetID] = append(g.in[e.TargetID], e)
	}
	return g
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*schema.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Out returns the outgoing edges of a node.
func (g *Graph) Out(nodeID string) []*schema.Edge {
	return g.out[nodeID]
}

// Next resolves the node that follows nodeID along the edge with the given
// label. For the empty label, a single outgoing edge matches regardless of
// its label (validation guarantees at most one on plain nodes).
func (g *Graph) Next(nodeID string, label schema.EdgeLabel) (*schema.Node, bool) {
	edges := g.out[nodeID]
	for _, e := range edges {
		if e.Label == label {
			return g.target(e)
		}
	}
	if label == schema.EdgeLabelNone && len(edges) == 1 {
		return g.target(edges[0])
	}
	return nil, false
}

func (g *Graph) target(e *schema.Edge) (*schema.Node, bool) {
	n, ok := g.nodes[e.TargetID]
	return n, ok
}

// NodesByType returns all nodes of the given type, in definition order.
func (g *Graph) NodesByType(t schema.NodeType) []*schema.Node {
	var out []*schema.Node
	for i := range g.Workflow.Nodes {
		n := &g.Workflow.Nodes[i]
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// TriggerNodes returns all trigger nodes, in definition order.
func (g *Graph) TriggerNodes() []*schema.Node {
	var out []*schema.Node
	for i := range g.Workflow.Nodes {
		n := &g.Workflow.Nodes[i]
		if n.Type.IsTrigger() {
			out = append(out, n)
		}
	}
	return out
}
