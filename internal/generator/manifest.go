package generator

import (
	"fmt"
	"sort"

	"github.com/Jeffail/gabs/v2"
)

// Dependency is one package the workspace declares.
type Dependency struct {
	Name    string
	Version string
}

// RenderManifest produces the workspace package.json. The manifest marks the
// directory as an ES module package and declares the snapshot packages so
// module resolution stays inside the workspace.
func RenderManifest(name string, deps []Dependency) (string, error) {
	doc := gabs.New()
	if _, err := doc.Set(name, "name"); err != nil {
		return "", fmt.Errorf("failed to set manifest name: %w", err)
	}
	if _, err := doc.Set(true, "private"); err != nil {
		return "", err
	}
	if _, err := doc.Set("module", "type"); err != nil {
		return "", err
	}
	if _, err := doc.Object("dependencies"); err != nil {
		return "", err
	}

	sorted := append([]Dependency(nil), deps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, d := range sorted {
		version := d.Version
		if version == "" {
			version = "*"
		}
		if _, err := doc.Set(version, "dependencies", d.Name); err != nil {
			return "", fmt.Errorf("failed to declare dependency %s: %w", d.Name, err)
		}
	}

	return doc.StringIndent("", "  ") + "\n", nil
}
