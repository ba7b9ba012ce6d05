package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/BDNK1/blockflow/flow"
	"github.com/BDNK1/blockflow/internal/security"
)

var placeholder = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// exportFilename resolves the output file name of an export block. Names may
// contain {{ expression }} placeholders evaluated against the flow and block,
// for example "{{ flow.name }}-{{ block.id }}.json".
func (c *compilation) exportFilename(b flow.Block) string {
	fallback := b.ID + ".json"
	name := b.OutputFilename
	if strings.TrimSpace(name) == "" {
		return fallback
	}

	env := map[string]any{
		"flow":  map[string]any{"id": c.flow.ID, "name": c.flow.Name},
		"block": map[string]any{"id": b.ID, "name": b.DisplayName()},
	}

	var evalErr error
	resolved := placeholder.ReplaceAllStringFunc(name, func(m string) string {
		expression := placeholder.FindStringSubmatch(m)[1]
		out, err := evalPlaceholder(expression, env)
		if err != nil && evalErr == nil {
			evalErr = fmt.Errorf("placeholder %q: %w", m, err)
		}
		return out
	})
	if evalErr != nil {
		c.warn(WarnFilenameExpression, b.ID, fmt.Sprintf("%v; using %s", evalErr, fallback))
		return fallback
	}

	safe, err := security.SanitizeFilename(resolved)
	if err != nil {
		c.warn(WarnFilenameExpression, b.ID, fmt.Sprintf("%v; using %s", err, fallback))
		return fallback
	}
	if safe != strings.TrimSpace(resolved) {
		c.warn(WarnFilenameExpression, b.ID, fmt.Sprintf("file name %q may not contain path separators; using %s", resolved, safe))
	}
	return safe
}

func evalPlaceholder(expression string, env map[string]any) (string, error) {
	if expression == "" {
		return "", fmt.Errorf("empty expression")
	}
	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return "", err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", nil
	}
	return fmt.Sprint(out), nil
}
