package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripTypes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "untyped arrow is unchanged",
			in:   "(input) => input.x * 2",
			want: "(input) => input.x * 2",
		},
		{
			name: "parameter annotations",
			in:   "(input: any, config: { field?: string }) => input",
			want: "(input, config) => input",
		},
		{
			name: "return annotation on arrow",
			in:   "async (input: string): Promise<string> => input",
			want: "async (input) => input",
		},
		{
			name: "function declaration with optional parameter",
			in:   `function f(x?: number): string { return x ? "y" : "n" }`,
			want: `function f(x) { return x ? "y" : "n" }`,
		},
		{
			name: "default values survive",
			in:   "(input: number, factor: number = 2) => input * factor",
			want: "(input, factor = 2) => input * factor",
		},
		{
			name: "variable annotations",
			in:   "(input) => { const rows: any[] = [input]; let n: number = 1; return rows }",
			want: "(input) => { const rows = [input]; let n = 1; return rows }",
		},
		{
			name: "as casts",
			in:   "(input) => (input.value as string).trim()",
			want: "(input) => (input.value).trim()",
		},
		{
			name: "non-null assertions",
			in:   "(input) => input.items!.length + input.map![0]",
			want: "(input) => input.items.length + input.map[0]",
		},
		{
			name: "ternary is preserved",
			in:   `(input: any) => input.x > 1 ? "big" : "small"`,
			want: `(input) => input.x > 1 ? "big" : "small"`,
		},
		{
			name: "parenthesized ternary is preserved",
			in:   `(input) => (input.ok ? "a" : "b")`,
			want: `(input) => (input.ok ? "a" : "b")`,
		},
		{
			name: "strings and comments are untouched",
			in:   "(input) => { // (a: b) => c\n return \"(x: number) => x as y\" }",
			want: "(input) => { // (a: b) => c\n return \"(x: number) => x as y\" }",
		},
		{
			name: "template literals are untouched",
			in:   "(input: string) => `${input}: done`",
			want: "(input) => `${input}: done`",
		},
		{
			name: "regex literal containing a quote",
			in:   `(s: string) => s.replace(/"/g, "'")`,
			want: `(s) => s.replace(/"/g, "'")`,
		},
		{
			name: "function typed parameter",
			in:   "(input: any, cb: (x: number) => void) => cb(input)",
			want: "(input, cb) => cb(input)",
		},
		{
			name: "inequality is not an assertion",
			in:   "(a) => a != null && !a.skip",
			want: "(a) => a != null && !a.skip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripTypes(tt.in))
		})
	}
}

func TestNewSnippet(t *testing.T) {
	t.Run("Should report arity", func(t *testing.T) {
		s := NewSnippet("async (input: string, config: { prompt: string }): Promise<string> => input;\n")
		assert.Equal(t, "async (input, config) => input", s.Source)
		assert.Equal(t, 2, s.Arity())
	})

	t.Run("Should accept a bare parameter arrow", func(t *testing.T) {
		s := NewSnippet("input => input.x * 2")
		assert.Equal(t, 1, s.Arity())
	})

	t.Run("Should treat a rest parameter as any arity", func(t *testing.T) {
		s := NewSnippet("(left: any, ...rest: any[]) => rest.length")
		assert.Equal(t, "(left, ...rest) => rest.length", s.Source)
		assert.Equal(t, -1, s.Arity())
	})

	t.Run("Should count defaulted and destructured parameters", func(t *testing.T) {
		s := NewSnippet("({ x }: { x: number }, config = {}) => x")
		assert.Equal(t, 2, s.Arity())
		assert.Zero(t, NewSnippet("() => 42").Arity())
	})

	t.Run("Should accept function expressions", func(t *testing.T) {
		s := NewSnippet("function double(input: { x: number }) { return input.x * 2 }")
		assert.Equal(t, "function double(input) { return input.x * 2 }", s.Source)
		assert.Equal(t, 1, s.Arity())
	})

	t.Run("Should drop an export default prefix", func(t *testing.T) {
		s := NewSnippet("export default (data) => data")
		assert.Equal(t, "(data) => data", s.Source)
	})

	t.Run("Should normalize every built-in", func(t *testing.T) {
		for _, id := range Builtins().IDs() {
			a, ok := Builtins().Lookup(id)
			require.True(t, ok)
			s := NewSnippet(a.Code)
			assert.NotContains(t, s.Source, ": any", id)
			assert.NotZero(t, s.Arity(), id)
		}
	})
}
