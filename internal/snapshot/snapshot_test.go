package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePackage(t *testing.T, modules, name string, manifest map[string]any) string {
	t.Helper()
	dir := filepath.Join(modules, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest["name"] = name
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("export default 1;\n"), 0o644))
	return dir
}

func installFixture(t *testing.T) string {
	t.Helper()
	modules := filepath.Join(t.TempDir(), "node_modules")
	writePackage(t, modules, "aitomics", map[string]any{
		"version": "1.4.0",
		"dependencies": map[string]any{
			"aitomics":    "*",
			"lodash":      "^4.17.0",
			"@types/node": "^20",
			"local-thing": "file:../local-thing",
		},
		"optionalDependencies": map[string]any{"fsevents": "^2"},
		"peerDependencies":     map[string]any{"@scope/peer": "^1"},
	})
	writePackage(t, modules, "lodash", map[string]any{"version": "4.17.21"})
	writePackage(t, modules, "@scope/peer", map[string]any{
		"version":      "1.0.0",
		"dependencies": map[string]any{"lodash": "^4"},
	})
	return modules
}

func TestPreparer_Prepare(t *testing.T) {
	modules := installFixture(t)
	snapDir := filepath.Join(t.TempDir(), "snapshot")
	p := NewPreparer(snapDir, nil, nil)

	dir, err := p.Prepare(context.Background(), modules)
	require.NoError(t, err)
	assert.Equal(t, snapDir, dir)

	for _, name := range []string{"aitomics", "lodash", "@scope/peer"} {
		assert.FileExists(t, filepath.Join(dir, "node_modules", filepath.FromSlash(name), "package.json"), name)
	}
	assert.NoDirExists(t, filepath.Join(dir, "node_modules", "@types"))
	assert.NoDirExists(t, filepath.Join(dir, "node_modules", "local-thing"))

	m, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, []Package{
		{Name: "@scope/peer", Version: "1.0.0"},
		{Name: "aitomics", Version: "1.4.0"},
		{Name: "lodash", Version: "4.17.21"},
	}, m.Packages)
	assert.False(t, m.CreatedAt.IsZero())
	assert.True(t, Exists(dir))
}

func TestPreparer_Idempotent(t *testing.T) {
	modules := installFixture(t)
	snapDir := filepath.Join(t.TempDir(), "snapshot")
	p := NewPreparer(snapDir, nil, nil)

	_, err := p.Prepare(context.Background(), modules)
	require.NoError(t, err)

	marker := filepath.Join(snapDir, "node_modules", "lodash", "index.js")
	require.NoError(t, os.WriteFile(marker, []byte("// kept\n"), 0o644))

	_, err = p.Prepare(context.Background(), modules)
	require.NoError(t, err)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "// kept\n", string(data), "existing packages are not copied again")
}

func TestPreparer_MissingPackage(t *testing.T) {
	modules := filepath.Join(t.TempDir(), "node_modules")
	writePackage(t, modules, "aitomics", map[string]any{
		"version":      "1.0.0",
		"dependencies": map[string]any{"left-pad": "^1"},
	})

	_, err := NewPreparer(filepath.Join(t.TempDir(), "snap"), nil, nil).Prepare(context.Background(), modules)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "left-pad")

	var snapErr *SnapshotError
	require.True(t, errors.As(err, &snapErr))
	assert.Equal(t, "left-pad", snapErr.Package)
	assert.Equal(t, "resolve", snapErr.Op)
}

func TestPreparer_MissingRoot(t *testing.T) {
	modules := filepath.Join(t.TempDir(), "node_modules")
	require.NoError(t, os.MkdirAll(modules, 0o755))

	_, err := NewPreparer(filepath.Join(t.TempDir(), "snap"), []string{"zod"}, nil).Prepare(context.Background(), modules)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"aitomics"`)
}

func TestPreparer_MissingModulesDir(t *testing.T) {
	_, err := NewPreparer(t.TempDir(), nil, nil).Prepare(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)

	var snapErr *SnapshotError
	require.True(t, errors.As(err, &snapErr))
	assert.Equal(t, "locate", snapErr.Op)
	assert.Contains(t, err.Error(), "aitomics")
}

func TestPreparer_NestedDependencies(t *testing.T) {
	modules := filepath.Join(t.TempDir(), "node_modules")
	root := writePackage(t, modules, "aitomics", map[string]any{
		"version":      "1.0.0",
		"dependencies": map[string]any{"only-nested": "^1"},
	})
	writePackage(t, filepath.Join(root, "node_modules"), "only-nested", map[string]any{"version": "1.0.0"})

	snapDir := filepath.Join(t.TempDir(), "snap")
	_, err := NewPreparer(snapDir, nil, nil).Prepare(context.Background(), modules)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(snapDir, "node_modules", "aitomics", "node_modules", "only-nested", "package.json"))
	assert.NoDirExists(t, filepath.Join(snapDir, "node_modules", "only-nested"))
}

func TestPreparer_NestedPackageHoistedDependencies(t *testing.T) {
	modules := filepath.Join(t.TempDir(), "node_modules")
	root := writePackage(t, modules, "aitomics", map[string]any{
		"version":      "1.0.0",
		"dependencies": map[string]any{"nested": "^2"},
	})
	nested := writePackage(t, filepath.Join(root, "node_modules"), "nested", map[string]any{
		"version":      "2.0.0",
		"dependencies": map[string]any{"hoisted": "^1", "deeper": "^1"},
	})
	writePackage(t, filepath.Join(nested, "node_modules"), "deeper", map[string]any{
		"version":      "1.0.0",
		"dependencies": map[string]any{"leaf": "^3"},
	})
	writePackage(t, modules, "hoisted", map[string]any{"version": "1.2.0"})
	writePackage(t, modules, "leaf", map[string]any{"version": "3.0.0"})
	writePackage(t, modules, "nested", map[string]any{"version": "1.0.0"})

	snapDir := filepath.Join(t.TempDir(), "snap")
	_, err := NewPreparer(snapDir, nil, nil).Prepare(context.Background(), modules)
	require.NoError(t, err)

	snapModules := filepath.Join(snapDir, "node_modules")
	assert.FileExists(t, filepath.Join(snapModules, "aitomics", "node_modules", "nested", "package.json"))
	assert.FileExists(t, filepath.Join(snapModules, "aitomics", "node_modules", "nested", "node_modules", "deeper", "package.json"))
	assert.FileExists(t, filepath.Join(snapModules, "hoisted", "package.json"))
	assert.FileExists(t, filepath.Join(snapModules, "leaf", "package.json"))
	assert.NoDirExists(t, filepath.Join(snapModules, "nested"), "the top-level copy is not required by anyone")

	m, err := LoadManifest(snapDir)
	require.NoError(t, err)
	assert.Equal(t, []Package{
		{Name: "aitomics", Version: "1.0.0"},
		{Name: "hoisted", Version: "1.2.0"},
		{Name: "leaf", Version: "3.0.0"},
	}, m.Packages)
}

func TestPreparer_NestedPackageMissingDependency(t *testing.T) {
	modules := filepath.Join(t.TempDir(), "node_modules")
	root := writePackage(t, modules, "aitomics", map[string]any{
		"version":      "1.0.0",
		"dependencies": map[string]any{"nested": "^2"},
	})
	writePackage(t, filepath.Join(root, "node_modules"), "nested", map[string]any{
		"version":      "2.0.0",
		"dependencies": map[string]any{"absent": "^1"},
	})

	_, err := NewPreparer(filepath.Join(t.TempDir(), "snap"), nil, nil).Prepare(context.Background(), modules)
	require.Error(t, err)

	var snapErr *SnapshotError
	require.True(t, errors.As(err, &snapErr))
	assert.Equal(t, "absent", snapErr.Package)
	assert.Contains(t, err.Error(), "required by nested")
}

func TestPreparer_DereferencesSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}
	modules := filepath.Join(t.TempDir(), "node_modules")
	store := writePackage(t, t.TempDir(), "aitomics", map[string]any{"version": "2.0.0"})
	require.NoError(t, os.MkdirAll(modules, 0o755))
	require.NoError(t, os.Symlink(store, filepath.Join(modules, "aitomics")))

	snapDir := filepath.Join(t.TempDir(), "snap")
	_, err := NewPreparer(snapDir, nil, nil).Prepare(context.Background(), modules)
	require.NoError(t, err)

	info, err := os.Lstat(filepath.Join(snapDir, "node_modules", "aitomics"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Zero(t, info.Mode()&os.ModeSymlink)
}

func TestPreparer_CanceledContext(t *testing.T) {
	modules := installFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPreparer(filepath.Join(t.TempDir(), "snap"), nil, nil).Prepare(ctx, modules)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManifest_Stale(t *testing.T) {
	modules := installFixture(t)
	snapDir := filepath.Join(t.TempDir(), "snapshot")
	_, err := NewPreparer(snapDir, nil, nil).Prepare(context.Background(), modules)
	require.NoError(t, err)

	m, err := LoadManifest(snapDir)
	require.NoError(t, err)

	stale, err := m.Stale(modules)
	require.NoError(t, err)
	assert.Empty(t, stale)

	writePackage(t, modules, "lodash", map[string]any{"version": "4.18.0"})
	require.NoError(t, os.RemoveAll(filepath.Join(modules, "@scope")))

	stale, err = m.Stale(modules)
	require.NoError(t, err)
	assert.Equal(t, []StalePackage{
		{Name: "@scope/peer", Snapshot: "1.0.0"},
		{Name: "lodash", Snapshot: "4.17.21", Installed: "4.18.0"},
	}, stale)
}

func TestSameVersion(t *testing.T) {
	assert.True(t, sameVersion("1.2.0", "v1.2.0"))
	assert.False(t, sameVersion("1.2.0", "1.2.1"))
	assert.True(t, sameVersion("nightly", "nightly"))
	assert.False(t, sameVersion("nightly", "1.0.0"))
}
