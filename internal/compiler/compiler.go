// Package compiler turns a flow and its actions into a Plan and renders it
// into a single program. It performs no I/O.
package compiler

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BDNK1/blockflow/flow"
	"github.com/BDNK1/blockflow/internal/generator"
	"github.com/BDNK1/blockflow/internal/graph"
	"github.com/BDNK1/blockflow/internal/plan"
	"github.com/BDNK1/blockflow/internal/registry"
)

// Result is a compiled program together with its plan and the warnings
// raised while building it.
type Result struct {
	Program  string
	Plan     *plan.Plan
	Warnings []Warning
}

// Compile builds the program for req. Actions are resolved through reg, or
// through the built-ins plus req.Actions when reg is nil. Only structural
// errors fail compilation; everything else becomes a warning.
func Compile(req flow.ExecutionRequest, reg registry.Registry) (*Result, error) {
	if reg == nil {
		reg = registry.New(req.Actions)
	}

	f := req.Flow
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow %s: %w", f.ID, err)
	}
	if len(f.BlocksOfKind(flow.KindImport)) == 0 {
		return nil, ErrEmptyFlow
	}

	analysis, err := graph.Analyze(f)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze flow %s: %w", f.ID, err)
	}

	c := &compilation{
		flow:     f,
		reg:      reg,
		analysis: analysis,
		idents:   make(map[string]string),
		plan: &plan.Plan{
			FlowID:      f.ID,
			FlowName:    f.Name,
			ModelConfig: req.ModelConfig,
			ItemLimit:   req.ItemLimit,
		},
	}
	if req.ItemLimit != nil && *req.ItemLimit < 0 {
		zero := 0
		c.plan.ItemLimit = &zero
	}

	for _, is := range analysis.Issues {
		c.warn(issueCode(is.Kind), is.BlockID, is.Message)
	}

	c.buildImports()
	c.markUnreachable()
	c.buildComparisons()
	c.buildExports()

	program, err := generator.RenderProgram(c.plan)
	if err != nil {
		return nil, fmt.Errorf("failed to render program for flow %s: %w", f.ID, err)
	}

	return &Result{Program: program, Plan: c.plan, Warnings: c.warnings}, nil
}

type compilation struct {
	flow     flow.Flow
	reg      registry.Registry
	analysis *graph.Analysis
	plan     *plan.Plan
	warnings []Warning

	// idents maps block ids to caller idents for blocks already bound.
	idents map[string]string
	// reached holds transforms scheduled by at least one import.
	reached map[string]bool
}

func (c *compilation) warn(code WarningCode, blockID, msg string) {
	c.warnings = append(c.warnings, Warning{Code: code, BlockID: blockID, Message: msg})
}

func issueCode(kind graph.IssueKind) WarningCode {
	switch kind {
	case graph.IssueCycleEdge:
		return WarnCycleEdge
	case graph.IssueComparisonArity:
		return WarnComparisonArity
	case graph.IssueExportArity:
		return WarnExportArity
	default:
		return WarnInvalidEdge
	}
}

var identUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// bind resolves the action of block b and registers its caller. It returns
// the caller ident, or "" when the block runs as a pass-through.
func (c *compilation) bind(b flow.Block) string {
	if ident, ok := c.idents[b.ID]; ok {
		return ident
	}
	if b.ActionID == "" {
		c.idents[b.ID] = ""
		return ""
	}

	action, ok := c.reg.Lookup(b.ActionID)
	if !ok {
		c.warn(WarnMissingAction, b.ID, fmt.Sprintf("action %q not found; running as pass-through", b.ActionID))
		c.idents[b.ID] = ""
		return ""
	}
	if want := b.Kind.ActionType(); action.Type != want {
		c.warn(WarnActionTypeMismatch, b.ID,
			fmt.Sprintf("action %q has type %s, %s blocks need %s; running as pass-through", action.ID, action.Type, b.Kind, want))
		c.idents[b.ID] = ""
		return ""
	}
	snippet := registry.NewSnippet(action.Code)
	if lo, hi := arityRange(b.Kind); snippet.Arity() >= 0 && (snippet.Arity() < lo || snippet.Arity() > hi) {
		c.warn(WarnActionTypeMismatch, b.ID,
			fmt.Sprintf("action %q declares %d parameters, %s blocks call it with %d to %d; running as pass-through",
				action.ID, snippet.Arity(), b.Kind, lo, hi))
		c.idents[b.ID] = ""
		return ""
	}

	ident := fmt.Sprintf("%d_%s", len(c.plan.Callers), strings.Trim(identUnsafe.ReplaceAllString(b.ID, "_"), "_"))
	ident = strings.TrimSuffix(ident, "_")

	config, problems := synthesizeConfig(action.Config, b.Config)
	for _, p := range problems {
		c.warn(WarnInvalidConfig, b.ID, p)
	}

	c.plan.Callers = append(c.plan.Callers, plan.Caller{
		BlockID:  b.ID,
		Ident:    ident,
		Kind:     b.Kind,
		ActionID: action.ID,
		Snippet:  snippet,
		Config:   config,
		Wrapped:  action.WrapInAitomics && (b.Kind == flow.KindImport || b.Kind == flow.KindTransform),
	})
	c.idents[b.ID] = ident
	return ident
}

// arityRange is the parameter count an action may declare for a block kind.
// Comparisons receive (left, right, config); the rest receive (value, config).
func arityRange(kind flow.BlockKind) (int, int) {
	if kind == flow.KindComparison {
		return 2, 3
	}
	return 1, 2
}

func (c *compilation) buildImports() {
	c.reached = make(map[string]bool)
	keys := make(map[string]bool)

	for _, id := range c.analysis.Order {
		b := c.analysis.Blocks[id]
		if b.Kind != flow.KindImport {
			continue
		}

		imp := plan.Import{
			BlockID: b.ID,
			Name:    b.DisplayName(),
			File:    b.File,
			Format:  importFormat(b.File),
			Caller:  c.bind(b),
		}
		imp.Stages, imp.Chains = c.walk(b.ID)
		imp.Terminal = b.ID
		if len(imp.Chains) > 0 {
			first := imp.Chains[0]
			imp.Terminal = first[len(first)-1]
		}

		for i := range imp.Stages {
			s := &imp.Stages[i]
			s.Caller = c.bind(c.analysis.Blocks[s.NodeID])
			c.reached[s.NodeID] = true
			keys[s.NodeID] = true
		}
		keys[b.ID] = true

		c.plan.Imports = append(c.plan.Imports, imp)
	}

	for _, id := range c.analysis.Order {
		if keys[id] {
			c.plan.ResultKeys = append(c.plan.ResultKeys, id)
		}
	}
}

// walk performs the depth-first chain walk from an import along transform
// targets. A visited set guarantees that a transform reachable through
// several edges is scheduled once.
func (c *compilation) walk(root string) ([]plan.Stage, [][]string) {
	var (
		stages  []plan.Stage
		chains  [][]string
		path    []string
		visited = map[string]bool{root: true}
	)

	var visit func(node string)
	visit = func(node string) {
		descended := false
		for _, e := range c.analysis.Outgoing[node] {
			if c.analysis.Blocks[e.Target].Kind != flow.KindTransform || visited[e.Target] {
				continue
			}
			visited[e.Target] = true
			descended = true

			stages = append(stages, plan.Stage{NodeID: e.Target, From: node})
			path = append(path, e.Target)
			visit(e.Target)
			path = path[:len(path)-1]
		}
		if !descended && len(path) > 0 {
			chains = append(chains, append([]string(nil), path...))
		}
	}
	visit(root)

	return stages, chains
}

func (c *compilation) markUnreachable() {
	for _, id := range c.analysis.Order {
		b := c.analysis.Blocks[id]
		if b.Kind == flow.KindTransform && !c.reached[id] {
			c.warn(WarnUnreachable, id, fmt.Sprintf("transform %s is not reachable from any import; skipped", b.DisplayName()))
		}
	}
}

// source describes the block feeding edge e for a comparison or export.
func (c *compilation) source(e flow.Edge) plan.Source {
	b := c.analysis.Blocks[e.Source]
	label := b.DisplayName()
	if imp, ok := c.analysis.NearestImport(b.ID); ok {
		label = c.analysis.Blocks[imp].DisplayName()
	}
	return plan.Source{BlockID: b.ID, Kind: b.Kind, Label: label}
}

// producesResults reports whether a block's outputs are collected at runtime.
func (c *compilation) producesResults(id string) bool {
	for _, k := range c.plan.ResultKeys {
		if k == id {
			return true
		}
	}
	return false
}

func (c *compilation) buildComparisons() {
	for _, id := range c.analysis.Order {
		b := c.analysis.Blocks[id]
		if b.Kind != flow.KindComparison || c.analysis.Skipped(id) {
			continue
		}
		in := c.analysis.Incoming[id]
		left, right := c.source(in[0]), c.source(in[1])

		for _, s := range []plan.Source{left, right} {
			if !c.producesResults(s.BlockID) {
				c.warn(WarnUnreachable, id, fmt.Sprintf("comparison input %s produces no results", s.BlockID))
			}
		}

		c.plan.Comparisons = append(c.plan.Comparisons, plan.Comparison{
			BlockID: b.ID,
			Name:    b.DisplayName(),
			Left:    left,
			Right:   right,
			Caller:  c.bind(b),
		})
	}
}

func (c *compilation) buildExports() {
	compared := make(map[string]bool)
	for _, cmp := range c.plan.Comparisons {
		compared[cmp.BlockID] = true
	}

	for _, id := range c.analysis.Order {
		b := c.analysis.Blocks[id]
		if b.Kind != flow.KindExport || c.analysis.Skipped(id) {
			continue
		}
		input := c.source(c.analysis.Incoming[id][0])
		if input.Kind == flow.KindComparison && !compared[input.BlockID] {
			c.warn(WarnInvalidEdge, id, fmt.Sprintf("input comparison %s was skipped; export skipped", input.BlockID))
			continue
		}

		dir := b.OutputPath
		if dir == "" {
			dir = "."
		}

		c.plan.Exports = append(c.plan.Exports, plan.Export{
			BlockID:  b.ID,
			Name:     b.DisplayName(),
			Input:    input,
			Caller:   c.bind(b),
			Dir:      dir,
			Filename: c.exportFilename(b),
		})
	}
}

func importFormat(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		return "json"
	case ".csv":
		return "csv"
	default:
		return "text"
	}
}
