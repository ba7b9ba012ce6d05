package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/Masterminds/semver/v3"

	"github.com/BDNK1/blockflow/internal/constants"
	"github.com/BDNK1/blockflow/internal/security"
)

// Manifest records what a snapshot contains. It is written as snapshot.json.
type Manifest struct {
	CreatedAt time.Time `json:"createdAt"`
	Root      string    `json:"root"`
	Packages  []Package `json:"packages"`
}

// Package is a package copied into the snapshot.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// StalePackage is a snapshot package whose installed counterpart differs.
type StalePackage struct {
	Name      string
	Snapshot  string
	Installed string // empty when the package is no longer installed
}

// LoadManifest reads the manifest of the snapshot in dir.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, constants.SnapshotManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot manifest: %w", err)
	}
	return &m, nil
}

func (m *Manifest) write(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, constants.SnapshotManifestFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Version returns the recorded version of a package.
func (m *Manifest) Version(name string) (string, bool) {
	for _, p := range m.Packages {
		if p.Name == name {
			return p.Version, true
		}
	}
	return "", false
}

// Stale compares the snapshot against the packages installed under
// modulesPath. Deciding whether to re-prepare is left to the caller.
func (m *Manifest) Stale(modulesPath string) ([]StalePackage, error) {
	var stale []StalePackage
	for _, p := range m.Packages {
		dir, err := security.PackageDir(modulesPath, p.Name)
		if err != nil {
			return nil, err
		}
		installed, err := readVersion(dir)
		if errors.Is(err, fs.ErrNotExist) {
			stale = append(stale, StalePackage{Name: p.Name, Snapshot: p.Version})
			continue
		}
		if err != nil {
			return nil, err
		}
		if !sameVersion(p.Version, installed) {
			stale = append(stale, StalePackage{Name: p.Name, Snapshot: p.Version, Installed: installed})
		}
	}
	return stale, nil
}

func sameVersion(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return va.Equal(vb)
}

func readVersion(dir string) (string, error) {
	doc, err := gabs.ParseJSONFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "", err
	}
	v, _ := doc.Path("version").Data().(string)
	return v, nil
}
