package flow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanConnect(t *testing.T) {
	tests := []struct {
		source BlockKind
		target BlockKind
		want   bool
	}{
		{KindImport, KindTransform, true},
		{KindImport, KindComparison, true},
		{KindImport, KindExport, false},
		{KindTransform, KindTransform, true},
		{KindTransform, KindExport, true},
		{KindTransform, KindComparison, true},
		{KindTransform, KindImport, false},
		{KindComparison, KindExport, true},
		{KindComparison, KindTransform, false},
		{KindExport, KindTransform, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.source)+"->"+string(tt.target), func(t *testing.T) {
			assert.Equal(t, tt.want, CanConnect(tt.source, tt.target))
		})
	}
}

func TestBlockKind_ActionType(t *testing.T) {
	assert.Equal(t, ActionInput, KindImport.ActionType())
	assert.Equal(t, ActionTransform, KindTransform.ActionType())
	assert.Equal(t, ActionComparison, KindComparison.ActionType())
	assert.Equal(t, ActionOutput, KindExport.ActionType())
	assert.False(t, BlockKind("merge").Valid())
}

func TestFlow_Validate(t *testing.T) {
	t.Run("Should accept a well formed flow", func(t *testing.T) {
		f := Flow{
			Blocks: []Block{{ID: "a", Kind: KindImport}, {ID: "b", Kind: KindTransform}},
			Edges:  []Edge{{ID: "e1", Source: "a", Target: "b"}},
		}
		require.NoError(t, f.Validate())
	})

	t.Run("Should reject duplicate block ids", func(t *testing.T) {
		f := Flow{Blocks: []Block{{ID: "a", Kind: KindImport}, {ID: "a", Kind: KindTransform}}}
		err := f.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate id")
	})

	t.Run("Should reject unknown kinds", func(t *testing.T) {
		f := Flow{Blocks: []Block{{ID: "a", Kind: "merge"}}}
		require.ErrorContains(t, f.Validate(), `unknown kind "merge"`)
	})

	t.Run("Should reject edges to missing blocks", func(t *testing.T) {
		f := Flow{
			Blocks: []Block{{ID: "a", Kind: KindImport}},
			Edges:  []Edge{{ID: "e1", Source: "a", Target: "ghost"}},
		}
		require.ErrorContains(t, f.Validate(), `unknown target block "ghost"`)
	})
}

func TestLoadFlow(t *testing.T) {
	dir := t.TempDir()
	content := `
name: Doubling
blocks:
  - id: in
    kind: import
    file: data/items.json
  - id: out
    kind: export
    actionId: raw-export
    outputPath: out
    outputFilename: result.json
edges:
  - id: e1
    source: in
    target: out
`
	path := filepath.Join(dir, "doubling.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f, err := LoadFlow(path)
	require.NoError(t, err)

	assert.Equal(t, "doubling", f.ID)
	assert.Equal(t, "Doubling", f.Name)
	require.Len(t, f.Blocks, 2)
	assert.Equal(t, filepath.Join(dir, "data", "items.json"), f.Blocks[0].File)
	assert.Equal(t, filepath.Join(dir, "out"), f.Blocks[1].OutputPath)
}

func TestLoadFlow_UnsupportedExtension(t *testing.T) {
	_, err := LoadFlow("flow.toml")
	require.ErrorContains(t, err, "unsupported file extension")
}

func TestParseActions(t *testing.T) {
	t.Run("Should parse a plain list", func(t *testing.T) {
		actions, err := ParseActions([]byte(`[{"id": "double", "type": "transform", "code": "(input) => input.x * 2"}]`))
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, ActionTransform, actions[0].Type)
	})

	t.Run("Should parse a catalog object", func(t *testing.T) {
		actions, err := ParseActions([]byte("actions:\n  - id: a\n    type: output\n    code: '(d) => d'\n"))
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, "a", actions[0].ID)
	})
}
