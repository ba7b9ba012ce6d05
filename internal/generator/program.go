// Package generator renders compiled plans into the files a run needs: the
// flow program, the runner that drives it and the workspace manifest.
package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/BDNK1/blockflow/internal/constants"
	"github.com/BDNK1/blockflow/internal/plan"
)

var funcs = template.FuncMap{
	"json":    jsLiteral,
	"comment": commentText,
	"deref": func(p *int) int {
		if p == nil {
			return 0
		}
		return *p
	},
}

var (
	programTmpl = template.Must(template.New("program").Funcs(funcs).Parse(programTemplate))
	runnerTmpl  = template.Must(template.New("runner").Funcs(funcs).Parse(runnerTemplate))
)

type programView struct {
	*plan.Plan
	Marker     string
	EntryPoint string
	Results    map[string][]any
}

// RenderProgram emits the ES module for p. The module exports one async entry
// point and writes newline-delimited JSON log events to stdout.
func RenderProgram(p *plan.Plan) (string, error) {
	view := programView{
		Plan:       p,
		Marker:     constants.LogMarker,
		EntryPoint: constants.EntryPoint,
		Results:    make(map[string][]any, len(p.ResultKeys)),
	}
	for _, k := range p.ResultKeys {
		view.Results[k] = []any{}
	}

	var buf bytes.Buffer
	if err := programTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to execute program template: %w", err)
	}
	return buf.String(), nil
}

type runnerView struct {
	FlowID             string
	Program            string
	EntryPoint         string
	TerminatedExitCode int
}

// TerminatedExitCode is the status the runner exits with after a cooperative
// termination request.
const TerminatedExitCode = 130

// RenderRunner emits the wrapper that imports the program, listens for the
// terminate request on stdin and reports uncaught failures.
func RenderRunner(flowID string) (string, error) {
	view := runnerView{
		FlowID:             flowID,
		Program:            "./" + constants.ProgramFile,
		EntryPoint:         constants.EntryPoint,
		TerminatedExitCode: TerminatedExitCode,
	}

	var buf bytes.Buffer
	if err := runnerTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to execute runner template: %w", err)
	}
	return buf.String(), nil
}

// jsLiteral renders v as a JSON value, which is also a valid JavaScript
// expression. Map keys come out sorted.
func jsLiteral(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// commentText makes s safe to place on a single-line comment.
func commentText(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ", "\u2028", " ", "\u2029", " ").Replace(s)
}
