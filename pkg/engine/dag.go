package engine

import (
	"fmt"
	"sort"
	"strings"
)

// dagNode is the builder's view of one plan unit and its edges.
type dagNode struct {
	unit       *PlanUnit
	dependsOn  []string
	dependents []string
	level      int
}

// DAGBuilder turns a flat list of plan units into a leveled execution
// graph. Units at the same level have no edges between them and may run
// in parallel; the foundation phase puts the storage account, managed
// environment, and vault on one level for exactly that reason.
type DAGBuilder struct {
	nodes  map[string]*dagNode
	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{nodes: make(map[string]*dagNode)}
}

// BuildGraph indexes the units, walks the dependency edges with Kahn's
// algorithm, and returns the leveled graph. Duplicate IDs, edges to
// unknown units, and cycles are all rejected.
func (b *DAGBuilder) BuildGraph(units []PlanUnit) (*ExecutionGraph, error) {
	if len(units) == 0 {
		return &ExecutionGraph{
			Nodes: make(map[string]*GraphNode),
			Edges: make([]GraphEdge, 0),
			Roots: make([]string, 0),
		}, nil
	}

	if err := b.index(units); err != nil {
		return nil, err
	}
	if err := b.assignLevels(); err != nil {
		return nil, err
	}
	return b.export(), nil
}

// index registers every unit and wires both edge directions.
func (b *DAGBuilder) index(units []PlanUnit) error {
	for i := range units {
		unit := &units[i]
		if unit.ID == "" {
			return NewPermanentError("plan unit has empty ID", nil).
				WithCode(ErrCodeValidation)
		}
		if _, dup := b.nodes[unit.ID]; dup {
			return NewPermanentError(fmt.Sprintf("duplicate plan unit ID: %s", unit.ID), nil).
				WithCode(ErrCodeValidation)
		}
		b.nodes[unit.ID] = &dagNode{
			unit:       unit,
			dependsOn:  make([]string, 0, len(unit.Dependencies)),
			dependents: make([]string, 0),
		}
	}

	for id, node := range b.nodes {
		for _, dep := range node.unit.Dependencies {
			target, ok := b.nodes[dep.TargetID]
			if !ok {
				return NewPermanentError(
					fmt.Sprintf("plan unit %s depends on non-existent unit %s", id, dep.TargetID),
					nil,
				).WithCode(ErrCodeValidation).WithResource(id)
			}
			node.dependsOn = append(node.dependsOn, dep.TargetID)
			target.dependents = append(target.dependents, id)
		}
	}
	return nil
}

// assignLevels runs Kahn's algorithm. Anything left unprocessed when the
// frontier empties sits on a cycle.
func (b *DAGBuilder) assignLevels() error {
	remaining := make(map[string]int, len(b.nodes))
	frontier := make([]string, 0)
	for id, node := range b.nodes {
		remaining[id] = len(node.dependsOn)
		if len(node.dependsOn) == 0 {
			frontier = append(frontier, id)
		}
	}

	processed := 0
	for level := 0; len(frontier) > 0; level++ {
		sort.Strings(frontier)
		b.levels = append(b.levels, frontier)

		next := make([]string, 0)
		for _, id := range frontier {
			node := b.nodes[id]
			node.level = level
			node.unit.ExecutionOrder = level
			processed++

			for _, dependent := range node.dependents {
				if remaining[dependent]--; remaining[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		frontier = next
	}

	if processed != len(b.nodes) {
		return NewPermanentError(
			fmt.Sprintf("circular dependency detected: %s", b.findCycle(remaining)),
			nil,
		).WithCode(ErrCodeValidation)
	}
	return nil
}

// findCycle walks the unprocessed nodes until one repeats, producing a
// readable cycle path for the error message.
func (b *DAGBuilder) findCycle(remaining map[string]int) string {
	start := ""
	for id, degree := range remaining {
		if degree > 0 {
			if start == "" || id < start {
				start = id
			}
		}
	}
	if start == "" {
		return ""
	}

	path := []string{start}
	seen := map[string]bool{start: true}
	current := start
	for {
		advanced := false
		for _, dep := range b.nodes[current].dependsOn {
			if remaining[dep] > 0 {
				if seen[dep] {
					return strings.Join(append(path, dep), " -> ")
				}
				path = append(path, dep)
				seen[dep] = true
				current = dep
				advanced = true
				break
			}
		}
		if !advanced {
			return strings.Join(path, " -> ")
		}
	}
}

// export converts the builder's state into the serializable graph.
func (b *DAGBuilder) export() *ExecutionGraph {
	graph := &ExecutionGraph{
		Nodes: make(map[string]*GraphNode, len(b.nodes)),
		Edges: make([]GraphEdge, 0),
		Roots: make([]string, 0),
		Depth: len(b.levels),
	}

	for id, node := range b.nodes {
		graph.Nodes[id] = &GraphNode{
			ID:           id,
			Level:        node.level,
			Dependencies: node.dependsOn,
			Dependents:   node.dependents,
		}
		if node.level == 0 {
			graph.Roots = append(graph.Roots, id)
		}

		for _, dep := range node.unit.Dependencies {
			graph.Edges = append(graph.Edges, GraphEdge{
				From: dep.TargetID,
				To:   id,
				Type: dep.Type,
			})
		}
	}
	sort.Strings(graph.Roots)

	return graph
}

// GetLevels returns the computed execution levels; each level's units
// can run in parallel.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ValidateGraph sanity-checks an exported graph against the builder.
func (b *DAGBuilder) ValidateGraph(graph *ExecutionGraph) error {
	if len(graph.Nodes) != len(b.nodes) {
		return NewPermanentError("graph node count mismatch", nil).
			WithCode(ErrCodeInternal)
	}
	for _, edge := range graph.Edges {
		if _, ok := graph.Nodes[edge.From]; !ok {
			return NewPermanentError(fmt.Sprintf("edge references non-existent node: %s", edge.From), nil).
				WithCode(ErrCodeInternal)
		}
		if _, ok := graph.Nodes[edge.To]; !ok {
			return NewPermanentError(fmt.Sprintf("edge references non-existent node: %s", edge.To), nil).
				WithCode(ErrCodeInternal)
		}
	}
	for _, rootID := range graph.Roots {
		if len(graph.Nodes[rootID].Dependencies) > 0 {
			return NewPermanentError(fmt.Sprintf("root node %s has dependencies", rootID), nil).
				WithCode(ErrCodeInternal)
		}
	}
	return nil
}

// ToDOT renders the graph in Graphviz DOT format, grouped by level.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ExecutionGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range b.levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			unit := b.nodes[id].unit
			fmt.Fprintf(&sb, "    %q [label=\"%s\\n%s\", fillcolor=%q, style=\"filled,rounded\"];\n",
				id, unit.ResourceID, unit.Operation, operationColor(unit.Operation))
		}
		sb.WriteString("  }\n\n")
	}

	for id, node := range b.nodes {
		for _, dep := range node.unit.Dependencies {
			fmt.Fprintf(&sb, "  %q -> %q [%s];\n", dep.TargetID, id, edgeStyle(dep.Type))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func operationColor(op OperationType) string {
	switch op {
	case OperationCreate:
		return "lightgreen"
	case OperationUpdate:
		return "lightblue"
	case OperationDelete:
		return "lightcoral"
	case OperationWait:
		return "lightyellow"
	case OperationNoop:
		return "lightgray"
	default:
		return "white"
	}
}

func edgeStyle(depType DependencyType) string {
	if depType == DependencyOrder {
		return "style=dotted, color=gray"
	}
	return "style=solid, color=black"
}
