// Package plan holds the intermediate representation of a compiled flow: an
// ordered list of typed steps that an emitter turns into program text.
package plan

import (
	"github.com/BDNK1/blockflow/flow"
	"github.com/BDNK1/blockflow/internal/registry"
)

// Plan is the compiled, template-ready form of a flow.
type Plan struct {
	FlowID      string
	FlowName    string
	ModelConfig flow.ModelConfig
	ItemLimit   *int

	// Callers holds one entry per block bound to an action, in binding order.
	Callers     []Caller
	Imports     []Import
	Comparisons []Comparison
	Exports     []Export

	// ResultKeys lists every block id whose per-item outputs are collected.
	ResultKeys []string
}

// Caller is the config-bound executable form of an action within one block.
type Caller struct {
	BlockID  string
	Ident    string // identifier suffix, unique within the program
	Kind     flow.BlockKind
	ActionID string
	Snippet  registry.Snippet
	Config   map[string]any
	Wrapped  bool
}

// Stage runs one transform for an item. From is the block whose output is the
// stage input.
type Stage struct {
	NodeID string
	From   string
	Caller string // Ident of the bound caller; empty for pass-through
}

// Import reads one input file and runs its transform stages per item.
type Import struct {
	BlockID string
	Name    string
	File    string
	Format  string // json, csv or text
	Caller  string

	// Stages in depth-first pre-order; every transform appears at most once.
	Stages []Stage
	// Chains lists each root-to-terminal path of transform ids.
	Chains [][]string
	// Terminal is the block whose output is recorded under the import id.
	Terminal string
}

// Source is one input of a comparison or export.
type Source struct {
	BlockID string
	Kind    flow.BlockKind
	Label   string
}

// Comparison joins the results of two sources.
type Comparison struct {
	BlockID string
	Name    string
	Left    Source
	Right   Source
	Caller  string
}

// Export writes one source to Dir/Filename.
type Export struct {
	BlockID  string
	Name     string
	Input    Source
	Caller   string
	Dir      string
	Filename string
}

// IsComparison reports whether the caller takes two inputs.
func (c Caller) IsComparison() bool {
	return c.Kind == flow.KindComparison
}

func (s Source) IsComparison() bool {
	return s.Kind == flow.KindComparison
}
