package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Node is one package in a dependency graph.
type Node struct {
	Name         string
	Dependencies []string
}

// DependencyGraph represents the dependency relation between packages.
type DependencyGraph struct {
	// nodes holds every registered package name
	nodes map[string]bool

	// edges maps a package to the packages it depends on
	edges map[string][]string

	// reverseEdges maps a package to the packages that depend on it
	reverseEdges map[string][]string
}

// BuildDependencyGraph constructs a graph from nodes. Dependencies on names
// that are not themselves nodes are dropped; the caller decides whether a
// missing package is fatal.
func BuildDependencyGraph(nodes []Node) *DependencyGraph {
	g := &DependencyGraph{
		nodes:        make(map[string]bool),
		edges:        make(map[string][]string),
		reverseEdges: make(map[string][]string),
	}

	// First pass: register all nodes
	for _, n := range nodes {
		g.nodes[n.Name] = true
	}

	// Second pass: build edges
	for _, n := range nodes {
		seen := make(map[string]bool)
		for _, dep := range n.Dependencies {
			if !g.nodes[dep] || dep == n.Name || seen[dep] {
				continue
			}
			seen[dep] = true
			g.edges[n.Name] = append(g.edges[n.Name], dep)
			g.reverseEdges[dep] = append(g.reverseEdges[dep], n.Name)
		}
	}

	for name := range g.reverseEdges {
		sort.Strings(g.reverseEdges[name])
	}

	return g
}

// TopologicalSort returns package names dependencies first, using Kahn's
// algorithm with a name-ordered queue so the result is deterministic.
//
// When the graph contains a cycle the packages that could not be ordered are
// appended by name and a GraphError describing one cycle is returned alongside
// the complete order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for node := range g.nodes {
		inDegree[node] = len(g.edges[node])
	}

	var queue []string
	for node, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, node)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(g.nodes))
	done := make(map[string]bool, len(g.nodes))

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)
		done[current] = true

		var ready []string
		for _, dependent := range g.reverseEdges[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		queue = append(queue, ready...)
		sort.Strings(queue)
	}

	if len(result) == len(g.nodes) {
		return result, nil
	}

	var rest []string
	for node := range g.nodes {
		if !done[node] {
			rest = append(rest, node)
		}
	}
	sort.Strings(rest)
	result = append(result, rest...)

	cycle := g.findCycle()
	return result, &GraphError{
		Type:     ErrorCircularDependency,
		NodeName: cycle[0],
		Message:  fmt.Sprintf("circular dependency prevents ordering: %s", strings.Join(cycle, " → ")),
		Details: map[string]string{
			"cycle": strings.Join(cycle, " → "),
		},
	}
}

// findCycle detects and returns a cycle in the graph, or nil if no cycle exists
func (g *DependencyGraph) findCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	parent := make(map[string]string)

	var dfs func(node string) []string

	dfs = func(node string) []string {
		visited[node] = true
		recStack[node] = true

		for _, dep := range g.edges[node] {
			if !visited[dep] {
				parent[dep] = node
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			} else if recStack[dep] {
				cycle := []string{dep}
				current := node
				for current != dep {
					cycle = append([]string{current}, cycle...)
					current = parent[current]
				}
				cycle = append(cycle, dep)
				return cycle
			}
		}

		recStack[node] = false
		return nil
	}

	for _, node := range g.Nodes() {
		if !visited[node] {
			if cycle := dfs(node); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// Nodes returns all package names in sorted order.
func (g *DependencyGraph) Nodes() []string {
	nodes := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		nodes = append(nodes, name)
	}
	sort.Strings(nodes)
	return nodes
}

// OrderDependencies is a shorthand for building a graph and sorting it.
func OrderDependencies(nodes []Node) ([]string, error) {
	return BuildDependencyGraph(nodes).TopologicalSort()
}

// GraphError represents errors that occur during graph operations
type GraphError struct {
	Type     ErrorType
	NodeName string
	Message  string
	Details  map[string]string
}

func (e *GraphError) Error() string {
	return e.Message
}

// ErrorType represents different types of graph errors
type ErrorType int

const (
	ErrorCircularDependency ErrorType = iota
	ErrorInvalidGraph
)

func (t ErrorType) String() string {
	switch t {
	case ErrorCircularDependency:
		return "CircularDependency"
	case ErrorInvalidGraph:
		return "InvalidGraph"
	default:
		return "Unknown"
	}
}
