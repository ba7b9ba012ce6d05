package snapshot

import "fmt"

// SnapshotError reports a failed preparation step for one package.
type SnapshotError struct {
	Package string
	Op      string
	Err     error
}

func (e *SnapshotError) Error() string {
	if e.Package == "" {
		return fmt.Sprintf("snapshot %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("snapshot %s package %q: %v", e.Op, e.Package, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}
