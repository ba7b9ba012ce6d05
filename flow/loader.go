package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Extensions lists the file extensions the loaders accept. JSON documents
// are parsed by the YAML decoder.
var Extensions = []string{".yaml", ".yml", ".json"}

// LoadFlow reads a flow definition. Relative import files and export paths are
// resolved against the directory holding the flow file.
func LoadFlow(path string) (Flow, error) {
	var f Flow
	if err := readDocument(path, &f); err != nil {
		return Flow{}, err
	}

	f.ResolvePaths(filepath.Dir(path))

	if f.ID == "" {
		f.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return f, nil
}

// ResolvePaths makes relative file references absolute against baseDir.
func (f *Flow) ResolvePaths(baseDir string) {
	for i := range f.Blocks {
		b := &f.Blocks[i]
		if b.File != "" && !filepath.IsAbs(b.File) {
			b.File = filepath.Join(baseDir, b.File)
		}
		if b.Kind == KindExport && !filepath.IsAbs(b.OutputPath) {
			b.OutputPath = filepath.Join(baseDir, b.OutputPath)
		}
	}
}

type actionCatalog struct {
	Actions []Action `yaml:"actions"`
}

// LoadActions reads a catalog of user-defined actions. The document is either
// a list of actions or an object with an "actions" key.
func LoadActions(path string) ([]Action, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read actions file %q: %w", path, err)
	}
	return ParseActions(data)
}

// ParseActions reads actions from YAML, either a bare list or a catalog
// with an actions key.
func ParseActions(data []byte) ([]Action, error) {
	var list []Action
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var catalog actionCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse actions: %w", err)
	}
	return catalog.Actions, nil
}

// LoadRequest reads a complete execution request from a file.
func LoadRequest(path string) (ExecutionRequest, error) {
	var req ExecutionRequest
	if err := readDocument(path, &req); err != nil {
		return ExecutionRequest{}, err
	}
	req.Flow.ResolvePaths(filepath.Dir(path))
	return req, nil
}

func readDocument(path string, target any) error {
	ext := strings.ToLower(filepath.Ext(path))
	supported := false
	for _, e := range Extensions {
		if ext == e {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("unsupported file extension %q for %s", ext, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("error unmarshalling %q: %w", path, err)
	}

	return nil
}
