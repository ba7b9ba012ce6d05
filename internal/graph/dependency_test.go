package graph

import (
	"errors"
	"testing"
)

func TestBuildDependencyGraph_LinearChain(t *testing.T) {
	// a → b → c
	graph := BuildDependencyGraph([]Node{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"c"}},
		{Name: "c"},
	})

	if deps := graph.edges["a"]; len(deps) != 1 || deps[0] != "b" {
		t.Errorf("Expected a to depend on [b], got %v", deps)
	}

	if deps := graph.edges["c"]; len(deps) != 0 {
		t.Errorf("Expected c to have no dependencies, got %v", deps)
	}

	if dependents := graph.reverseEdges["c"]; len(dependents) != 1 || dependents[0] != "b" {
		t.Errorf("Expected c to be depended on by [b], got %v", dependents)
	}
}

func TestBuildDependencyGraph_IgnoresUnknownAndSelf(t *testing.T) {
	graph := BuildDependencyGraph([]Node{
		{Name: "a", Dependencies: []string{"a", "left-pad", "b", "b"}},
		{Name: "b"},
	})

	deps := graph.edges["a"]
	if len(deps) != 1 || deps[0] != "b" {
		t.Errorf("Expected a to depend on [b], got %v", deps)
	}

	if cycle := graph.findCycle(); cycle != nil {
		t.Errorf("Expected self references to be ignored, got cycle %v", cycle)
	}
}

func TestTopologicalSort_LinearChain(t *testing.T) {
	order, err := OrderDependencies([]Node{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"c"}},
		{Name: "c"},
	})
	if err != nil {
		t.Fatalf("TopologicalSort failed: %v", err)
	}

	expected := []string{"c", "b", "a"}
	if !equal(order, expected) {
		t.Errorf("Expected order %v, got %v", expected, order)
	}
}

func TestTopologicalSort_DiamondDependency(t *testing.T) {
	//     a
	//    / \
	//   b   c
	//    \ /
	//     d
	order, err := OrderDependencies([]Node{
		{Name: "a", Dependencies: []string{"c", "b"}},
		{Name: "b", Dependencies: []string{"d"}},
		{Name: "c", Dependencies: []string{"d"}},
		{Name: "d"},
	})
	if err != nil {
		t.Fatalf("TopologicalSort failed: %v", err)
	}

	// ties are broken by name
	expected := []string{"d", "b", "c", "a"}
	if !equal(order, expected) {
		t.Errorf("Expected order %v, got %v", expected, order)
	}
}

func TestTopologicalSort_Deterministic(t *testing.T) {
	nodes := []Node{
		{Name: "zeta"},
		{Name: "alpha"},
		{Name: "mid", Dependencies: []string{"zeta"}},
	}

	first, _ := OrderDependencies(nodes)
	for i := 0; i < 20; i++ {
		again, _ := OrderDependencies(nodes)
		if !equal(first, again) {
			t.Fatalf("Expected stable order, got %v then %v", first, again)
		}
	}

	expected := []string{"alpha", "zeta", "mid"}
	if !equal(first, expected) {
		t.Errorf("Expected order %v, got %v", expected, first)
	}
}

func TestTopologicalSort_Cycle(t *testing.T) {
	order, err := OrderDependencies([]Node{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"a"}},
		{Name: "c"},
	})
	if err == nil {
		t.Fatal("Expected a cycle error")
	}

	var graphErr *GraphError
	if !errors.As(err, &graphErr) {
		t.Fatalf("Expected GraphError, got %T", err)
	}
	if graphErr.Type != ErrorCircularDependency {
		t.Errorf("Expected ErrorCircularDependency, got %v", graphErr.Type)
	}
	if graphErr.Details["cycle"] == "" {
		t.Error("Expected cycle details")
	}

	expected := []string{"c", "a", "b"}
	if !equal(order, expected) {
		t.Errorf("Expected cycle members appended by name %v, got %v", expected, order)
	}
}

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errType  ErrorType
		expected string
	}{
		{ErrorCircularDependency, "CircularDependency"},
		{ErrorInvalidGraph, "InvalidGraph"},
		{ErrorType(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.errType.String(); got != tt.expected {
			t.Errorf("ErrorType(%d).String() = %q, want %q", tt.errType, got, tt.expected)
		}
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
