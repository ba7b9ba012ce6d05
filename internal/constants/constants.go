package constants

import "time"

const (
	// AnalysisModule is the package every generated program imports.
	AnalysisModule = "aitomics"

	// EntryPoint is the function a generated program exports for the runner.
	EntryPoint = "executeFlow"

	// LogMarker prefixes structured messages that must never be de-duplicated.
	LogMarker = "@@flow:"

	ProgramFile  = "program.mjs"
	RunnerFile   = "runner.mjs"
	ManifestFile = "package.json"
	ModulesDir   = "node_modules"

	SnapshotManifestFile = "snapshot.json"
	SnapshotLockFile     = ".lock"

	WorkspacePrefix = "blockflow-run-"

	DefaultRuntimeCommand = "node"
	DefaultTimeout        = 5 * time.Minute
	DefaultGracePeriod    = 2 * time.Second
	DefaultKillDelay      = 500 * time.Millisecond

	DefaultServerAddress = "127.0.0.1:8080"
	DefaultModelEndpoint = "http://localhost:11434"
	DefaultConfigFile    = "blockflow.yaml"
)

// TerminateMessage is written to the child's stdin to request shutdown.
const TerminateMessage = `{"type":"terminate"}`
