package flow

import "fmt"

// BlockKind identifies the role of a node in a flow graph.
type BlockKind string

const (
	KindImport     BlockKind = "import"
	KindTransform  BlockKind = "transform"
	KindComparison BlockKind = "comparison"
	KindExport     BlockKind = "export"
)

// ActionType identifies which kind of block an action can be bound to.
type ActionType string

const (
	ActionInput      ActionType = "input"
	ActionOutput     ActionType = "output"
	ActionTransform  ActionType = "transform"
	ActionComparison ActionType = "comparison"
)

// ActionType returns the action type a block of this kind accepts.
func (k BlockKind) ActionType() ActionType {
	switch k {
	case KindImport:
		return ActionInput
	case KindTransform:
		return ActionTransform
	case KindComparison:
		return ActionComparison
	case KindExport:
		return ActionOutput
	default:
		return ""
	}
}

// Valid reports whether k is one of the four block kinds.
func (k BlockKind) Valid() bool {
	return k.ActionType() != ""
}

var transitions = map[BlockKind][]BlockKind{
	KindImport:     {KindTransform, KindComparison},
	KindTransform:  {KindTransform, KindExport, KindComparison},
	KindComparison: {KindExport},
}

// CanConnect reports whether an edge from a block of kind source to a block of
// kind target is allowed.
func CanConnect(source, target BlockKind) bool {
	for _, allowed := range transitions[source] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Flow is a directed graph of blocks connected by edges.
type Flow struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Blocks []Block `yaml:"blocks" json:"blocks"`
	Edges  []Edge  `yaml:"edges" json:"edges"`
}

// Block is one node of a flow. An empty ActionID makes it a pass-through.
type Block struct {
	ID             string         `yaml:"id" json:"id"`
	Kind           BlockKind      `yaml:"kind" json:"kind"`
	Name           string         `yaml:"name" json:"name"`
	ActionID       string         `yaml:"actionId,omitempty" json:"actionId,omitempty"`
	Config         map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	File           string         `yaml:"file,omitempty" json:"file,omitempty"`
	OutputPath     string         `yaml:"outputPath,omitempty" json:"outputPath,omitempty"`
	OutputFilename string         `yaml:"outputFilename,omitempty" json:"outputFilename,omitempty"`
}

// DisplayName returns the block name, falling back to its id.
func (b Block) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.ID
}

// Edge carries the output of Source into Target.
type Edge struct {
	ID     string `yaml:"id" json:"id"`
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
}

// FieldType is the declared type of an action config field.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldSelect  FieldType = "select"
	FieldJSON    FieldType = "json"
	FieldList    FieldType = "list"
)

// ConfigField declares one configurable value of an action.
type ConfigField struct {
	Type         FieldType `yaml:"type" json:"type"`
	Label        string    `yaml:"label" json:"label"`
	Required     bool      `yaml:"required,omitempty" json:"required,omitempty"`
	DefaultValue any       `yaml:"defaultValue,omitempty" json:"defaultValue,omitempty"`
	Options      []string  `yaml:"options,omitempty" json:"options,omitempty"`
}

// Action is a reusable unit of processing logic. Code holds the source of a
// one or two argument function; it is normalized by the registry before use.
type Action struct {
	ID             string        `yaml:"id" json:"id"`
	Name           string        `yaml:"name,omitempty" json:"name,omitempty"`
	Type           ActionType    `yaml:"type" json:"type"`
	Code           string        `yaml:"code" json:"code"`
	Config         []ConfigField `yaml:"config,omitempty" json:"config,omitempty"`
	WrapInAitomics bool          `yaml:"wrapInAitomics,omitempty" json:"wrapInAitomics,omitempty"`
}

// ModelConfig is handed to the analysis library once per run.
type ModelConfig struct {
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"maxTokens" json:"maxTokens"`
	Endpoint    string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// ExecutionRequest is created once per run. Actions carries the user-defined
// actions; built-ins are supplied by the registry.
type ExecutionRequest struct {
	Flow        Flow        `yaml:"flow" json:"flow"`
	Actions     []Action    `yaml:"actions,omitempty" json:"actions,omitempty"`
	ItemLimit   *int        `yaml:"itemLimit,omitempty" json:"itemLimit,omitempty"`
	ModelConfig ModelConfig `yaml:"modelConfig" json:"modelConfig"`
}

// Block returns the block with the given id.
func (f *Flow) Block(id string) (Block, bool) {
	for _, b := range f.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return Block{}, false
}

// BlocksOfKind returns the blocks of the given kind in declaration order.
func (f *Flow) BlocksOfKind(kind BlockKind) []Block {
	var blocks []Block
	for _, b := range f.Blocks {
		if b.Kind == kind {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// Validate checks the invariants that make a flow impossible to compile.
// Arity and transition problems are reported later as compile warnings.
func (f *Flow) Validate() error {
	seen := make(map[string]bool, len(f.Blocks))
	for i, b := range f.Blocks {
		if b.ID == "" {
			return fmt.Errorf("block #%d: id is required", i)
		}
		if seen[b.ID] {
			return fmt.Errorf("block %s: duplicate id", b.ID)
		}
		seen[b.ID] = true
		if !b.Kind.Valid() {
			return fmt.Errorf("block %s: unknown kind %q", b.ID, b.Kind)
		}
	}

	for i, e := range f.Edges {
		if !seen[e.Source] {
			return fmt.Errorf("edge #%d (%s): unknown source block %q", i, e.ID, e.Source)
		}
		if !seen[e.Target] {
			return fmt.Errorf("edge #%d (%s): unknown target block %q", i, e.ID, e.Target)
		}
	}

	return nil
}
