package flow

import (
	"fmt"
)

// Node type constants for kinds the engine treats specially
const (
	NodeTypeTrigger  = "trigger"
	NodeTypeParallel = "parallel"
	NodeTypeLoop     = "loop"
)

// Edge label constants for well-known branches
const (
	BranchTrue    = "true"
	BranchFalse   = "false"
	BranchFailed  = "failed"
	BranchTimeout = "timeout"
	BranchReply   = "reply"
	BranchInvalid = "invalid"
	BranchBody    = "body"
	BranchDone    = "done"
)

// Flow is an immutable workflow definition for the duration of a run
type Flow struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name,omitempty"`
	Nodes []Node                 `json:"nodes"`
	Edges []Edge                 `json:"edges"`
	Meta  map[string]interface{} `json:"metadata,omitempty"`
}

// Node is a single step in a flow
type Node struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Subtype string                 `json:"subtype,omitempty"`
	Config  map[string]interface{} `json:"config,omitempty"`
}

// Edge connects two nodes, optionally carrying a branch label
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// NodeByID returns the node with the given ID
func (f *Flow) NodeByID(id string) (Node, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// OutgoingEdges returns outgoing edges of a node in declared order
func (f *Flow) OutgoingEdges(nodeID string) []Edge {
	var edges []Edge
	for _, e := range f.Edges {
		if e.From == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// IncomingEdges returns incoming edges of a node in declared order
func (f *Flow) IncomingEdges(nodeID string) []Edge {
	var edges []Edge
	for _, e := range f.Edges {
		if e.To == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// EntryNodes identifies the traversal start nodes:
// (1) all nodes matching a known trigger kind, else
// (2) all nodes with no incoming edges, else
// (3) the first node.
func (f *Flow) EntryNodes(isTrigger func(Node) bool) []Node {
	var triggers []Node
	for _, n := range f.Nodes {
		if isTrigger != nil && isTrigger(n) {
			triggers = append(triggers, n)
		}
	}
	if len(triggers) > 0 {
		return triggers
	}

	var roots []Node
	for _, n := range f.Nodes {
		if len(f.IncomingEdges(n.ID)) == 0 {
			roots = append(roots, n)
		}
	}
	if len(roots) > 0 {
		return roots
	}

	if len(f.Nodes) > 0 {
		return []Node{f.Nodes[0]}
	}
	return nil
}

// TerminalNodes returns nodes with no outgoing edges
func (f *Flow) TerminalNodes() []Node {
	var terminals []Node
	for _, n := range f.Nodes {
		if len(f.OutgoingEdges(n.ID)) == 0 {
			terminals = append(terminals, n)
		}
	}
	return terminals
}

// Validate checks the flow graph for structural problems:
// duplicate node IDs, dangling edges, and cycles that do not pass
// through a loop node's explicit loop-head.
func (f *Flow) Validate() error {
	if len(f.Nodes) == 0 {
		return fmt.Errorf("flow %s has no nodes", f.ID)
	}

	seen := make(map[string]bool, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.ID == "" {
			return fmt.Errorf("flow %s contains a node with empty id", f.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id: %s", n.ID)
		}
		seen[n.ID] = true
	}

	for _, e := range f.Edges {
		if !seen[e.From] {
			return fmt.Errorf("edge references non-existent node: %s", e.From)
		}
		if !seen[e.To] {
			return fmt.Errorf("edge references non-existent node: %s", e.To)
		}
	}

	if err := f.checkCycles(); err != nil {
		return err
	}

	return nil
}

// checkCycles runs a DFS over the edges and rejects any cycle that does not
// re-enter through a loop node
func (f *Flow) checkCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(nodeID string) bool
	hasCycle = func(nodeID string) bool {
		visited[nodeID] = true
		recStack[nodeID] = true

		for _, edge := range f.OutgoingEdges(nodeID) {
			if !visited[edge.To] {
				if hasCycle(edge.To) {
					return true
				}
			} else if recStack[edge.To] {
				// Found a back edge; allowed only when the cycle head is a loop node
				head, _ := f.NodeByID(edge.To)
				if head.Type != NodeTypeLoop {
					return true
				}
			}
		}

		recStack[nodeID] = false
		return false
	}

	for _, n := range f.Nodes {
		if !visited[n.ID] {
			if hasCycle(n.ID) {
				return fmt.Errorf("flow contains cycles outside loop nodes")
			}
		}
	}

	return nil
}

// Subtree returns the set of node IDs reachable from start, following edges
// with the given label from start (all labels for downstream nodes).
// Used to scope loop bodies and redirect targets.
func (f *Flow) Subtree(start string, label string) map[string]bool {
	reachable := make(map[string]bool)

	var walk func(nodeID string)
	walk = func(nodeID string) {
		if reachable[nodeID] {
			return
		}
		reachable[nodeID] = true
		for _, e := range f.OutgoingEdges(nodeID) {
			walk(e.To)
		}
	}

	for _, e := range f.OutgoingEdges(start) {
		if label == "" || e.Label == label {
			walk(e.To)
		}
	}

	return reachable
}
