// Package snapshot builds a self-contained copy of the JavaScript packages a
// generated program imports, so runs never resolve modules from the host
// application's own install.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/otiai10/copy"

	"github.com/BDNK1/blockflow/internal/constants"
	"github.com/BDNK1/blockflow/internal/graph"
	"github.com/BDNK1/blockflow/internal/security"
)

// DefaultRoots are the packages every generated program may import.
var DefaultRoots = []string{constants.AnalysisModule}

// dependencyFields are read from each package.json. Only "dependencies" are
// required to be installed.
var dependencyFields = []string{"dependencies", "optionalDependencies", "peerDependencies"}

var localSpecPrefixes = []string{"file:", "link:", "workspace:"}

// Preparer copies the packages reachable from Roots into a snapshot
// directory.
type Preparer struct {
	Dir   string
	Roots []string

	l   *slog.Logger
	now func() time.Time
}

// NewPreparer returns a preparer writing into dir. The default roots are
// always included; extra adds further top-level packages.
func NewPreparer(dir string, extra []string, l *slog.Logger) *Preparer {
	if l == nil {
		l = slog.Default()
	}
	roots := append([]string(nil), DefaultRoots...)
	for _, name := range extra {
		if name != "" && !containsString(roots, name) {
			roots = append(roots, name)
		}
	}
	return &Preparer{Dir: dir, Roots: roots, l: l, now: time.Now}
}

type resolved struct {
	name    string
	version string
	dir     string
	deps    []string
}

// Prepare copies the roots and their transitive dependencies from
// modulesPath into the snapshot and writes its manifest. Packages already in
// the snapshot are not copied again. Concurrent calls for the same snapshot
// are serialized through a lock file.
func (p *Preparer) Prepare(ctx context.Context, modulesPath string) (string, error) {
	info, err := os.Stat(modulesPath)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", modulesPath)
		}
		return "", &SnapshotError{Package: p.Roots[0], Op: "locate", Err: fmt.Errorf("modules directory %s: %w", modulesPath, err)}
	}

	target := filepath.Join(p.Dir, constants.ModulesDir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", &SnapshotError{Op: "create", Err: err}
	}

	lock := flock.New(filepath.Join(p.Dir, constants.SnapshotLockFile))
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return "", &SnapshotError{Op: "lock", Err: err}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			p.l.WarnContext(ctx, "Failed to release snapshot lock", "error", err)
		}
	}()

	pkgs, err := p.resolve(modulesPath)
	if err != nil {
		return "", err
	}

	nodes := make([]graph.Node, 0, len(pkgs))
	for _, r := range pkgs {
		nodes = append(nodes, graph.Node{Name: r.name, Dependencies: r.deps})
	}
	order, err := graph.OrderDependencies(nodes)
	if err != nil {
		p.l.WarnContext(ctx, "Snapshot packages contain a dependency cycle, copying remaining packages by name", "error", err)
	}

	manifest := &Manifest{CreatedAt: p.now().UTC(), Root: absPath(modulesPath)}
	copied := 0
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return "", &SnapshotError{Package: name, Op: "copy", Err: err}
		}
		r := pkgs[name]
		fresh, err := p.copyPackage(r, target)
		if err != nil {
			return "", err
		}
		if fresh {
			copied++
		}
		manifest.Packages = append(manifest.Packages, Package{Name: r.name, Version: r.version})
	}
	sort.Slice(manifest.Packages, func(i, j int) bool { return manifest.Packages[i].Name < manifest.Packages[j].Name })

	if err := manifest.write(p.Dir); err != nil {
		return "", &SnapshotError{Op: "manifest", Err: err}
	}

	p.l.InfoContext(ctx, "Snapshot prepared", "dir", p.Dir, "packages", len(order), "copied", copied)
	return p.Dir, nil
}

// resolve walks the roots' declared dependencies breadth-first. A dependency
// is looked up the way the runtime does: in the requiring package's own
// node_modules chain first, then in modulesPath. Packages found nested inside
// another tree travel with that tree but their manifests are still walked, so
// anything they need from modulesPath is copied too.
func (p *Preparer) resolve(modulesPath string) (map[string]*resolved, error) {
	pkgs := make(map[string]*resolved)
	nested := make(map[string]bool)
	type pending struct {
		name     string
		required bool
		parent   string
		owner    string   // top-level package whose tree requires name
		lookup   []string // node_modules dirs to search, nearest first
	}
	queue := make([]pending, 0, len(p.Roots))
	for _, r := range p.Roots {
		queue = append(queue, pending{name: r, required: true, lookup: []string{modulesPath}})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		dir, depth, err := locate(item.name, item.lookup)
		if err != nil {
			return nil, &SnapshotError{Package: item.name, Op: "resolve", Err: err}
		}
		if dir == "" {
			if !item.required {
				p.l.Debug("Skipping optional package that is not installed", "package", item.name, "parent", item.parent)
				continue
			}
			err := fmt.Errorf("package not installed in %s", modulesPath)
			if item.parent != "" {
				err = fmt.Errorf("required by %s: %w", item.parent, err)
			}
			return nil, &SnapshotError{Package: item.name, Op: "resolve", Err: err}
		}

		topLevel := depth == len(item.lookup)-1
		owner := item.owner
		lookup := append([]string{filepath.Join(dir, constants.ModulesDir)}, item.lookup...)
		if topLevel {
			if owner != "" && owner != item.name && !containsString(pkgs[owner].deps, item.name) {
				pkgs[owner].deps = append(pkgs[owner].deps, item.name)
			}
			if _, ok := pkgs[item.name]; ok {
				continue
			}
			owner = item.name
			lookup = []string{filepath.Join(dir, constants.ModulesDir), modulesPath}
		} else {
			if nested[dir] {
				continue
			}
			nested[dir] = true
		}

		doc, err := gabs.ParseJSONFile(filepath.Join(dir, "package.json"))
		if err != nil {
			return nil, &SnapshotError{Package: item.name, Op: "resolve", Err: err}
		}
		if topLevel {
			r := &resolved{name: item.name, dir: dir}
			r.version, _ = doc.Path("version").Data().(string)
			pkgs[item.name] = r
		} else {
			p.l.Debug("Walking nested package", "package", item.name, "dir", dir, "carried_by", owner)
		}

		for _, dep := range declaredDependencies(doc, item.name) {
			queue = append(queue, pending{
				name:     dep.name,
				required: dep.required,
				parent:   item.name,
				owner:    owner,
				lookup:   lookup,
			})
		}
	}

	return pkgs, nil
}

type declared struct {
	name     string
	required bool
}

// declaredDependencies lists the dependencies a manifest declares, in field
// order and then by name. Only plain dependencies are required.
func declaredDependencies(doc *gabs.Container, self string) []declared {
	var out []declared
	seen := make(map[string]bool)
	for i, field := range dependencyFields {
		deps, ok := doc.Search(field).Data().(map[string]any)
		if !ok {
			continue
		}
		names := make([]string, 0, len(deps))
		for dep := range deps {
			names = append(names, dep)
		}
		sort.Strings(names)

		for _, dep := range names {
			spec, _ := deps[dep].(string)
			if seen[dep] || skipDependency(self, dep, spec) {
				continue
			}
			seen[dep] = true
			out = append(out, declared{name: dep, required: i == 0})
		}
	}
	return out
}

// locate returns the directory of the first install of name in lookup and
// the index it was found at. An empty dir means it is not installed.
func locate(name string, lookup []string) (string, int, error) {
	for i, modules := range lookup {
		dir, err := security.PackageDir(modules, name)
		if err != nil {
			return "", 0, err
		}
		if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
			return dir, i, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", 0, err
		}
	}
	return "", -1, nil
}

func skipDependency(parent, dep, spec string) bool {
	if dep == parent || strings.HasPrefix(dep, "@types/") || strings.HasPrefix(dep, "node:") {
		return true
	}
	for _, prefix := range localSpecPrefixes {
		if strings.HasPrefix(spec, prefix) {
			return true
		}
	}
	return false
}

// copyPackage copies one package tree unless the snapshot already has it.
// Symlinks are dereferenced so the snapshot does not point back into the
// host install. The copy lands in a temporary sibling first and is renamed
// into place.
func (p *Preparer) copyPackage(r *resolved, target string) (bool, error) {
	dest, err := security.PackageDir(target, r.name)
	if err != nil {
		return false, &SnapshotError{Package: r.name, Op: "copy", Err: err}
	}
	if _, err := os.Stat(filepath.Join(dest, "package.json")); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, &SnapshotError{Package: r.name, Op: "copy", Err: err}
	}
	tmp := filepath.Join(filepath.Dir(dest), ".tmp-"+uuid.NewString())
	opts := copy.Options{
		OnSymlink: func(string) copy.SymlinkAction { return copy.Deep },
	}
	if err := copy.Copy(r.dir, tmp, opts); err != nil {
		_ = os.RemoveAll(tmp)
		return false, &SnapshotError{Package: r.name, Op: "copy", Err: err}
	}
	_ = os.RemoveAll(dest)
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.RemoveAll(tmp)
		return false, &SnapshotError{Package: r.name, Op: "copy", Err: err}
	}

	p.l.Debug("Copied package into snapshot", "package", r.name, "version", r.version)
	return true, nil
}

// Exists reports whether dir holds a prepared snapshot.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, constants.SnapshotManifestFile))
	return err == nil
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
