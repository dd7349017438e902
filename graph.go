package duragraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// END is the sentinel edge target that terminates a plan. An edge to END
// declares that nothing runs after its source node.
const END = "__end__"

// NodeFunc is a unit of work: it receives the current state and returns
// the state it produced, or an error. Nodes may block on external I/O;
// they must tolerate being invoked more than once for the same run if a
// crash lands between node completion and the ledger commit.
type NodeFunc func(ctx context.Context, state State) (State, error)

// =============================================================================
// Builder
// =============================================================================

// Builder assembles a graph. Errors are collected and reported by
// Compile, so construction chains fluently:
//
//	graph, err := duragraph.NewGraph("chatbot").
//	    AddNode("load", loadNode).
//	    AddNode("reply", replyNode).
//	    AddEdge("load", "reply").
//	    AddEdge("reply", duragraph.END).
//	    SetEntry("load").
//	    Compile()
type Builder struct {
	name  string
	nodes map[string]NodeFunc
	order []string
	edges []edge
	entry string
	errs  []string
}

type edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewGraph starts building a graph with the given name. The name is what
// a worker advertises to the control plane and what run assignments
// reference.
func NewGraph(name string) *Builder {
	return &Builder{
		name:  name,
		nodes: make(map[string]NodeFunc),
	}
}

// AddNode registers a named node. Names must be unique within the graph.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	if name == "" || name == END {
		b.errs = append(b.errs, fmt.Sprintf("invalid node name %q", name))
		return b
	}
	if fn == nil {
		b.errs = append(b.errs, fmt.Sprintf("node %q has nil function", name))
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.errs = append(b.errs, fmt.Sprintf("duplicate node %q", name))
		return b
	}
	b.nodes[name] = fn
	b.order = append(b.order, name)
	return b
}

// AddEdge declares that to runs after from. Use END as the target to
// terminate the plan.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, edge{From: from, To: to})
	return b
}

// SetEntry declares the node execution starts at.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// Compile validates the graph and returns an immutable Graph. Validation
// failures are fatal to registration, never to an in-flight run.
func (b *Builder) Compile() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, &ValidationError{Graph: b.name, Msg: b.errs[0]}
	}
	if len(b.nodes) == 0 {
		return nil, &ValidationError{Graph: b.name, Msg: "empty graph", Err: ErrEmptyGraph}
	}
	if b.entry == "" {
		return nil, &ValidationError{Graph: b.name, Msg: "entry not set", Err: ErrNoEntry}
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, &ValidationError{Graph: b.name, Msg: fmt.Sprintf("entry references unknown node %q", b.entry)}
	}

	adjacency := make(map[string][]string)
	for _, e := range b.edges {
		if e.From == e.To {
			return nil, &ValidationError{Graph: b.name, Msg: fmt.Sprintf("self-referential edge %q -> %q", e.From, e.To)}
		}
		if _, ok := b.nodes[e.From]; !ok {
			return nil, &ValidationError{Graph: b.name, Msg: fmt.Sprintf("edge references unknown node %q", e.From)}
		}
		if e.To == END {
			continue
		}
		if _, ok := b.nodes[e.To]; !ok {
			return nil, &ValidationError{Graph: b.name, Msg: fmt.Sprintf("edge references unknown node %q", e.To)}
		}
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	if cycle := findCycle(b.order, adjacency); cycle != nil {
		return nil, &CycleError{Graph: b.name, Cycle: cycle}
	}

	levels, err := b.buildLevels(adjacency)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		name:   b.name,
		nodes:  b.nodes,
		order:  append([]string(nil), b.order...),
		entry:  b.entry,
		levels: levels,
	}
	g.version = computeVersion(b.name, b.order, b.edges, b.entry)
	return g, nil
}

// findCycle runs DFS with coloring over the adjacency list and returns
// the first cycle found as a closed node path, or nil. Roots and
// neighbors are visited in deterministic order.
func findCycle(order []string, adjacency map[string][]string) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // in progress
		black = 2 // done
	)
	color := make(map[string]int, len(order))
	var path []string
	var cycle []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		color[node] = gray
		path = append(path, node)

		neighbors := append([]string(nil), adjacency[node]...)
		sort.Strings(neighbors)
		for _, next := range neighbors {
			switch color[next] {
			case gray:
				// Close the loop from the first occurrence of next.
				start := 0
				for i, n := range path {
					if n == next {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), path[start:]...), next)
				return true
			case white:
				if dfs(next) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[node] = black
		return false
	}

	for _, node := range order {
		if color[node] == white && dfs(node) {
			return cycle
		}
	}
	return nil
}

// buildLevels derives the execution plan: dependency levels starting at
// the entry node. Nodes in the same level have no path between them and
// may execute concurrently; within a level, nodes are ordered by
// declaration order, which is the tiebreak for state merges.
func (b *Builder) buildLevels(adjacency map[string][]string) ([][]string, error) {
	depth := map[string]int{b.entry: 0}
	queue := []string{b.entry}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[node] {
			d := depth[node] + 1
			if cur, seen := depth[next]; !seen || d > cur {
				depth[next] = d
				queue = append(queue, next)
			}
		}
	}

	for _, name := range b.order {
		if _, ok := depth[name]; !ok {
			return nil, &ValidationError{Graph: b.name, Msg: fmt.Sprintf("node %q unreachable from entry %q", name, b.entry)}
		}
	}

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	declared := make(map[string]int, len(b.order))
	for i, name := range b.order {
		declared[name] = i
	}

	levels := make([][]string, maxDepth+1)
	for name, d := range depth {
		levels[d] = append(levels[d], name)
	}
	for _, level := range levels {
		sort.Slice(level, func(i, j int) bool {
			return declared[level[i]] < declared[level[j]]
		})
	}
	return levels, nil
}

// computeVersion hashes the graph's structure so the control plane can
// tell two definitions registered under the same name apart. The hash
// covers node names, edges, and the entry; node functions cannot be
// hashed and are deliberately excluded.
func computeVersion(name string, order []string, edges []edge, entry string) string {
	nodes := append([]string(nil), order...)
	sort.Strings(nodes)
	sorted := append([]edge(nil), edges...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].From != sorted[j].From {
			return sorted[i].From < sorted[j].From
		}
		return sorted[i].To < sorted[j].To
	})

	payload := struct {
		Name  string   `json:"name"`
		Nodes []string `json:"nodes"`
		Edges []edge   `json:"edges"`
		Entry string   `json:"entry"`
	}{name, nodes, sorted, entry}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// Graph
// =============================================================================

// Graph is an immutable, validated collection of nodes plus an execution
// plan. Graphs are built once at worker startup and live for the process
// lifetime; nothing mutates a compiled graph.
type Graph struct {
	name    string
	version string
	nodes   map[string]NodeFunc
	order   []string
	entry   string
	levels  [][]string
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// Version returns the content hash of the graph's structure.
func (g *Graph) Version() string { return g.version }

// Entry returns the entry node's name.
func (g *Graph) Entry() string { return g.entry }

// NodeNames returns the node names in declaration order.
func (g *Graph) NodeNames() []string {
	return append([]string(nil), g.order...)
}

// Plan returns the execution plan as dependency levels. Nodes within a
// level may execute concurrently.
func (g *Graph) Plan() [][]string {
	out := make([][]string, len(g.levels))
	for i, level := range g.levels {
		out[i] = append([]string(nil), level...)
	}
	return out
}

// node returns the function registered under name.
func (g *Graph) node(name string) NodeFunc {
	return g.nodes[name]
}

// declaredIndex returns name's declaration position.
func (g *Graph) declaredIndex(name string) int {
	for i, n := range g.order {
		if n == name {
			return i
		}
	}
	return -1
}
