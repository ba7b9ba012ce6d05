package graph

import (
	"errors"
	"fmt"

	dgraph "github.com/dominikbraun/graph"

	"github.com/BDNK1/blockflow/flow"
)

// IssueKind classifies a problem found while analyzing a flow graph. Issues
// never abort analysis; the offending edge or block is left out.
type IssueKind int

const (
	IssueInvalidEdge IssueKind = iota
	IssueCycleEdge
	IssueComparisonArity
	IssueExportArity
)

func (k IssueKind) String() string {
	switch k {
	case IssueInvalidEdge:
		return "InvalidEdge"
	case IssueCycleEdge:
		return "CycleEdge"
	case IssueComparisonArity:
		return "ComparisonArity"
	case IssueExportArity:
		return "ExportArity"
	default:
		return "Unknown"
	}
}

// Issue is a structural problem found while analyzing a flow.
type Issue struct {
	Kind    IssueKind
	BlockID string
	EdgeID  string
	Message string
}

// Analysis is the checked shape of a flow: the edges that survived validation,
// indexed both ways in declaration order.
type Analysis struct {
	Blocks   map[string]flow.Block
	Order    []string // blocks in declaration order
	Incoming map[string][]flow.Edge
	Outgoing map[string][]flow.Edge
	Issues   []Issue

	g dgraph.Graph[string, flow.Block]
}

func blockHash(b flow.Block) string {
	return b.ID
}

// Analyze builds the directed graph of f. Edges that break the transition
// table or would close a cycle are rejected with an issue, as are comparison
// and export blocks with the wrong number of inputs. f must already pass
// Validate.
func Analyze(f flow.Flow) (*Analysis, error) {
	a := &Analysis{
		Blocks:   make(map[string]flow.Block, len(f.Blocks)),
		Incoming: make(map[string][]flow.Edge),
		Outgoing: make(map[string][]flow.Edge),
		g:        dgraph.New(blockHash, dgraph.Directed(), dgraph.PreventCycles()),
	}

	for _, b := range f.Blocks {
		if err := a.g.AddVertex(b); err != nil {
			return nil, &GraphError{
				Type:     ErrorInvalidGraph,
				NodeName: b.ID,
				Message:  fmt.Sprintf("block %s: %v", b.ID, err),
			}
		}
		a.Blocks[b.ID] = b
		a.Order = append(a.Order, b.ID)
	}

	for _, e := range f.Edges {
		source, okSource := a.Blocks[e.Source]
		target, okTarget := a.Blocks[e.Target]
		if !okSource || !okTarget {
			a.issue(IssueInvalidEdge, e.Target, e.ID, fmt.Sprintf("edge %s references an unknown block", e.ID))
			continue
		}
		if !flow.CanConnect(source.Kind, target.Kind) {
			a.issue(IssueInvalidEdge, e.Target, e.ID,
				fmt.Sprintf("edge %s: %s block %s cannot feed %s block %s", e.ID, source.Kind, source.ID, target.Kind, target.ID))
			continue
		}

		err := a.g.AddEdge(e.Source, e.Target, dgraph.EdgeAttribute("id", e.ID))
		switch {
		case errors.Is(err, dgraph.ErrEdgeCreatesCycle):
			a.issue(IssueCycleEdge, e.Target, e.ID, fmt.Sprintf("edge %s: %s -> %s would create a cycle", e.ID, e.Source, e.Target))
			continue
		case errors.Is(err, dgraph.ErrEdgeAlreadyExists):
			a.issue(IssueInvalidEdge, e.Target, e.ID, fmt.Sprintf("edge %s duplicates an existing edge %s -> %s", e.ID, e.Source, e.Target))
			continue
		case err != nil:
			a.issue(IssueInvalidEdge, e.Target, e.ID, fmt.Sprintf("edge %s: %v", e.ID, err))
			continue
		}

		a.Outgoing[e.Source] = append(a.Outgoing[e.Source], e)
		a.Incoming[e.Target] = append(a.Incoming[e.Target], e)
	}

	for _, id := range a.Order {
		b := a.Blocks[id]
		n := len(a.Incoming[id])
		switch {
		case b.Kind == flow.KindComparison && n != 2:
			a.issue(IssueComparisonArity, id, "",
				fmt.Sprintf("comparison block %s needs exactly 2 inputs, has %d; skipped", id, n))
		case b.Kind == flow.KindExport && n != 1:
			a.issue(IssueExportArity, id, "",
				fmt.Sprintf("export block %s needs exactly 1 input, has %d; skipped", id, n))
		}
	}

	return a, nil
}

func (a *Analysis) issue(kind IssueKind, blockID, edgeID, msg string) {
	a.Issues = append(a.Issues, Issue{Kind: kind, BlockID: blockID, EdgeID: edgeID, Message: msg})
}

// Skipped reports whether analysis excluded the block from execution.
func (a *Analysis) Skipped(id string) bool {
	for _, is := range a.Issues {
		if is.BlockID == id && (is.Kind == IssueComparisonArity || is.Kind == IssueExportArity) {
			return true
		}
	}
	return false
}

// NearestImport walks backward from id breadth-first and returns the first
// import block found. Among equally distant imports the one reached through
// the earliest declared edge wins.
func (a *Analysis) NearestImport(id string) (string, bool) {
	if b, ok := a.Blocks[id]; ok && b.Kind == flow.KindImport {
		return id, true
	}
	visited := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range a.Incoming[current] {
			if visited[e.Source] {
				continue
			}
			visited[e.Source] = true
			if a.Blocks[e.Source].Kind == flow.KindImport {
				return e.Source, true
			}
			queue = append(queue, e.Source)
		}
	}
	return "", false
}
