package graph

import (
	"fmt"

	"github.com/leadflow/engine/pkg/schema"
)

// Validate checks the workflow for structural soundness. It runs at
// activation time, not at every edit, and reports every violation found so
// the editor can surface all problems at once.
//
// Rules:
//   - every edge's endpoints exist within the same workflow
//   - at least one trigger node exists
//   - edges never target a trigger node (triggers are entry points only)
//   - out-degree limits per node type: condition nodes carry exactly one
//     true and one false edge; loop nodes exactly one body edge and at most
//     one done edge; end nodes none; everything else at most one unlabeled
//     edge (branching fan-out requires a condition node)
//   - every non-trigger node is reachable from some trigger node
//   - the only permitted cycles are loop-back edges returning into a loop
//     node from within its own body
//   - node configs match their per-type JSON Schema
//
// A non-end node with no outgoing edge is a warning, not an error: at run
// time a dangling node terminates the run as an implicit success.
func (g *Graph) Validate() *schema.ValidationResult {
	result := &schema.ValidationResult{}

	g.checkNodes(result)
	g.checkEdges(result)
	g.checkDegrees(result)
	g.checkConfigs(result)

	// Graph analysis is meaningless over broken references.
	if !result.Valid() {
		return result
	}

	g.checkReachability(result)
	g.checkCycles(result)
	return result
}

func (g *Graph) checkNodes(result *schema.ValidationResult) {
	seen := make(map[string]bool, len(g.Workflow.Nodes))
	triggers := 0
	for _, n := range g.Workflow.Nodes {
		path := fmt.Sprintf("nodes[%s]", n.ID)
		if seen[n.ID] {
			result.AddError(path, schema.ErrCodeStructural, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
		if !n.Type.Known() {
			result.AddError(path, schema.ErrCodeStructural, fmt.Sprintf("unknown node type %q", n.Type))
		}
		if n.Type.IsTrigger() {
			triggers++
		}
	}
	if triggers == 0 {
		result.AddError("nodes", schema.ErrCodeStructural, "workflow has no trigger node")
	}
}

func (g *Graph) checkEdges(result *schema.ValidationResult) {
	seen := make(map[string]bool, len(g.Workflow.Edges))
	for _, e := range g.Workflow.Edges {
		path := fmt.Sprintf("edges[%s]", e.ID)
		if seen[e.ID] {
			result.AddError(path, schema.ErrCodeStructural, fmt.Sprintf("duplicate edge id %q", e.ID))
		}
		seen[e.ID] = true

		src, okSrc := g.nodes[e.SourceID]
		if !okSrc {
			result.AddError(path, schema.ErrCodeStructural,
				fmt.Sprintf("edge source %q does not exist", e.SourceID))
		}
		dst, okDst := g.nodes[e.TargetID]
		if !okDst {
			result.AddError(path, schema.ErrCodeStructural,
				fmt.Sprintf("edge target %q does not exist", e.TargetID))
		}
		if okDst && dst.Type.IsTrigger() {
			result.AddError(path, schema.ErrCodeStructural,
				fmt.Sprintf("edge targets trigger node %q; triggers are entry points only", e.TargetID))
		}

		switch {
		case e.Label == schema.EdgeLabelNone:
		case e.Label == schema.EdgeLabelTrue || e.Label == schema.EdgeLabelFalse:
			if okSrc && src.Type != schema.NodeCondition {
				result.AddError(path, schema.ErrCodeStructural,
					fmt.Sprintf("label %q is only valid on condition node edges", e.Label))
			}
		case e.Label == schema.EdgeLabelBody || e.Label == schema.EdgeLabelDone:
			if okSrc && src.Type != schema.NodeLoop {
				result.AddError(path, schema.ErrCodeStructural,
					fmt.Sprintf("label %q is only valid on loop node edges", e.Label))
			}
		default:
			result.AddError(path, schema.ErrCodeStructural,
				fmt.Sprintf("unknown edge label %q", e.Label))
		}
	}
}

func (g *Graph) checkDegrees(result *schema.ValidationResult) {
	for _, n := range g.Workflow.Nodes {
		path := fmt.Sprintf("nodes[%s]", n.ID)
		edges := g.out[n.ID]

		byLabel := make(map[schema.EdgeLabel]int, len(edges))
		for _, e := range edges {
			byLabel[e.Label]++
		}
		for label, count := range byLabel {
			if count > 1 {
				result.AddError(path, schema.ErrCodeStructural,
					fmt.Sprintf("node has %d outgoing edges with label %q; at most one is allowed", count, label))
			}
		}

		switch n.Type {
		case schema.NodeCondition:
			if byLabel[schema.EdgeLabelNone] > 0 {
				result.AddError(path, schema.ErrCodeStructural,
					"condition node edges must be labeled true or false")
			}
			if len(edges) > 0 {
				if byLabel[schema.EdgeLabelTrue] == 0 {
					result.AddError(path, schema.ErrCodeStructural, "condition node is missing its true branch")
				}
				if byLabel[schema.EdgeLabelFalse] == 0 {
					result.AddError(path, schema.ErrCodeStructural, "condition node is missing its false branch")
				}
			} else {
				result.AddError(path, schema.ErrCodeStructural,
					"condition node has no outgoing edges; both branches are required")
			}

		case schema.NodeLoop:
			if byLabel[schema.EdgeLabelBody] == 0 {
				result.AddError(path, schema.ErrCodeStructural, "loop node is missing its body edge")
			}
			if byLabel[schema.EdgeLabelNone] > 0 || byLabel[schema.EdgeLabelTrue] > 0 || byLabel[schema.EdgeLabelFalse] > 0 {
				result.AddError(path, schema.ErrCodeStructural,
					"loop node edges must be labeled body or done")
			}

		case schema.NodeEnd:
			if len(edges) > 0 {
				result.AddError(path, schema.ErrCodeStructural, "end node must not have outgoing edges")
			}

		default:
			// Triggers, actions, and delay: linear flow only. Branching
			// fan-out from a plain node is non-deterministic and rejected.
			if len(edges) > 1 {
				result.AddError(path, schema.ErrCodeStructural,
					fmt.Sprintf("node of type %s has %d outgoing edges; branching requires a condition node", n.Type, len(edges)))
			}
			if len(edges) == 1 && edges[0].Label != schema.EdgeLabelNone {
				result.AddError(path, schema.ErrCodeStructural,
					fmt.Sprintf("node of type %s must not have a labeled edge", n.Type))
			}
			if len(edges) == 0 {
				result.AddWarning(path, schema.ErrCodeStructural,
					fmt.Sprintf("node of type %s has no outgoing edge; a run reaching it terminates implicitly", n.Type))
			}
		}
	}
}

// checkReachability walks forward from every trigger node; any non-trigger
// node left unvisited is unreachable and thus dead once activated.
func (g *Graph) checkReachability(result *schema.ValidationResult) {
	reachable := make(map[string]bool, len(g.nodes))
	var queue []string
	for _, n := range g.TriggerNodes() {
		reachable[n.ID] = true
		queue = append(queue, n.ID)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.out[id] {
			if !reachable[e.TargetID] {
				reachable[e.TargetID] = true
				queue = append(queue, e.TargetID)
			}
		}
	}

	for _, n := range g.Workflow.Nodes {
		if !n.Type.IsTrigger() && !reachable[n.ID] {
			result.AddError(fmt.Sprintf("nodes[%s]", n.ID), schema.ErrCodeStructural,
				fmt.Sprintf("node %q is not reachable from any trigger node", n.ID))
		}
	}
}

// checkCycles rejects any cycle that does not pass through a loop node's
// bound check. Loop-back edges, meaning edges returning into a loop node from
// inside its own body, are removed first; whatever cycles remain are
// unconditional and would never terminate.
func (g *Graph) checkCycles(result *schema.ValidationResult) {
	loopBack := g.loopBackEdges()

	// Kahn's algorithm over the filtered edge set.
	inDegree := make(map[string]int, len(g.nodes))
	adj := make(map[string][]string, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = 0
	}
	for i := range g.Workflow.Edges {
		e := &g.Workflow.Edges[i]
		if loopBack[e.ID] {
			continue
		}
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		inDegree[e.TargetID]++
	}

	queue := make([]string, 0, len(g.nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(g.nodes) {
		result.AddError("edges", schema.ErrCodeStructural,
			"workflow contains a cycle that does not pass through a loop node's bound check")
	}
}

// loopBackEdges identifies edges whose target is a loop node and whose
// source lies within that loop node's body subgraph.
func (g *Graph) loopBackEdges() map[string]bool {
	back := make(map[string]bool)
	for _, loop := range g.NodesByType(schema.NodeLoop) {
		body := g.bodyNodes(loop.ID)
		for i := range g.Workflow.Edges {
			e := &g.Workflow.Edges[i]
			if e.TargetID == loop.ID && body[e.SourceID] {
				back[e.ID] = true
			}
		}
	}
	return back
}

// bodyNodes collects the nodes reachable from a loop node's body edge
// without passing back through the loop node itself.
func (g *Graph) bodyNodes(loopID string) map[string]bool {
	body := make(map[string]bool)
	entry, ok := g.Next(loopID, schema.EdgeLabelBody)
	if !ok {
		return body
	}
	queue := []string{entry.ID}
	body[entry.ID] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.out[id] {
			if e.TargetID == loopID || body[e.TargetID] {
				continue
			}
			body[e.TargetID] = true
			queue = append(queue, e.TargetID)
		}
	}
	return body
}
