package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BDNK1/blockflow/flow"
	"github.com/BDNK1/blockflow/internal/snapshot"
	"github.com/BDNK1/blockflow/internal/supervisor"
)

const fakeAnalysisModule = `export const _ = { wrap: (value) => ({ value }) };
export function $(fn, id) {
  return { id, run: async (wrapped) => ({ output: await fn(wrapped.value) }) };
}
export let modelConfig = null;
export function setConfig(config) { modelConfig = config; }
export class ComparisonModel {
  constructor(left, right) { this.left = left; this.right = right; }
  agreement() { return 1; }
  kappa() { return 1; }
}
`

// installModules lays out a node_modules holding a stand-in for the analysis
// library at the given version.
func installModules(t *testing.T, version string) string {
	t.Helper()
	modules := filepath.Join(t.TempDir(), "node_modules")
	writeModule(t, modules, version)
	return modules
}

func writeModule(t *testing.T, modules, version string) {
	t.Helper()
	dir := filepath.Join(modules, "aitomics")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest, err := json.Marshal(map[string]any{
		"name":    "aitomics",
		"version": version,
		"type":    "module",
		"exports": "./index.js",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), manifest, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte(fakeAnalysisModule), 0o644))
}

func newEngine(t *testing.T, modules string, mutate func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		ModulesPath: modules,
		SnapshotDir: filepath.Join(t.TempDir(), "snapshot"),
		Model:       flow.ModelConfig{Model: "llama3", Endpoint: "http://localhost:11434", Temperature: 0.2, MaxTokens: 128},
		Supervisor:  supervisor.Options{Timeout: 30 * time.Second},
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return e
}

func doublingRequest(dataDir string) flow.ExecutionRequest {
	return flow.ExecutionRequest{
		Flow: flow.Flow{
			ID:   "doubling",
			Name: "Doubling",
			Blocks: []flow.Block{
				{ID: "in", Kind: flow.KindImport, File: filepath.Join(dataDir, "items.json")},
				{ID: "t1", Kind: flow.KindTransform, ActionID: "double"},
				{ID: "out", Kind: flow.KindExport, ActionID: "raw-export", OutputPath: filepath.Join(dataDir, "out"), OutputFilename: "doubled.json"},
			},
			Edges: []flow.Edge{
				{ID: "e1", Source: "in", Target: "t1"},
				{ID: "e2", Source: "t1", Target: "out"},
			},
		},
		Actions: []flow.Action{{
			ID:   "double",
			Type: flow.ActionTransform,
			Code: "(input: { x: number }) => ({ x: input.x * 2 })",
		}},
	}
}

func TestNew_RequiresSnapshotDir(t *testing.T) {
	_, err := New(Options{}, nil)
	require.Error(t, err)
}

func TestEngine_Compile(t *testing.T) {
	t.Run("Should fill model defaults", func(t *testing.T) {
		e := newEngine(t, "", nil)
		req := doublingRequest("/data")
		req.ModelConfig = flow.ModelConfig{Model: "mistral"}

		res, err := e.Compile(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "mistral", res.Plan.ModelConfig.Model)
		assert.Equal(t, "http://localhost:11434", res.Plan.ModelConfig.Endpoint)
		assert.Equal(t, 128, res.Plan.ModelConfig.MaxTokens)
	})

	t.Run("Should prefer request actions over configured ones", func(t *testing.T) {
		e := newEngine(t, "", func(o *Options) {
			o.Actions = []flow.Action{{ID: "double", Type: flow.ActionTransform, Code: "(input) => input"}}
		})

		res, err := e.Compile(context.Background(), doublingRequest("/data"))
		require.NoError(t, err)
		assert.Contains(t, res.Program, "x: input.x * 2")
	})

	t.Run("Should use configured actions", func(t *testing.T) {
		e := newEngine(t, "", func(o *Options) {
			o.Actions = []flow.Action{{ID: "double", Type: flow.ActionTransform, Code: "(input) => input"}}
		})
		req := doublingRequest("/data")
		req.Actions = nil

		res, err := e.Compile(context.Background(), req)
		require.NoError(t, err)
		assert.Empty(t, res.Warnings)
	})
}

func TestEngine_EnsureSnapshot(t *testing.T) {
	modules := installModules(t, "1.0.0")
	e := newEngine(t, modules, nil)
	ctx := context.Background()

	dir, err := e.EnsureSnapshot(ctx)
	require.NoError(t, err)
	first, err := snapshot.LoadManifest(dir)
	require.NoError(t, err)

	t.Run("Should reuse a current snapshot", func(t *testing.T) {
		_, err := e.EnsureSnapshot(ctx)
		require.NoError(t, err)
		again, err := snapshot.LoadManifest(dir)
		require.NoError(t, err)
		assert.Equal(t, first.CreatedAt, again.CreatedAt)
	})

	t.Run("Should refresh stale packages", func(t *testing.T) {
		writeModule(t, modules, "1.1.0")

		_, err := e.EnsureSnapshot(ctx)
		require.NoError(t, err)
		m, err := snapshot.LoadManifest(dir)
		require.NoError(t, err)
		v, ok := m.Version("aitomics")
		require.True(t, ok)
		assert.Equal(t, "1.1.0", v)
	})

	t.Run("Should keep the snapshot when modules are gone", func(t *testing.T) {
		require.NoError(t, os.RemoveAll(modules))
		got, err := e.EnsureSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, dir, got)
	})
}

func TestEngine_Execute(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node is not installed")
	}

	data := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(data, "items.json"), []byte(`[{"x":1},{"x":2},{"x":3}]`), 0o644))

	e := newEngine(t, installModules(t, "1.0.0"), nil)
	ctx := context.Background()

	req := doublingRequest(data)
	limit := 2
	req.ItemLimit = &limit

	run, res, err := e.Execute(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	var progress int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range run.Events() {
			if _, ok := ev.Structured(); ok {
				progress++
			}
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	result, err := run.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateCompleted, result.State)
	<-done
	assert.Equal(t, 2, progress)

	out, err := os.ReadFile(filepath.Join(data, "out", "doubled.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"x":2},{"x":4}]`, string(out))
}
