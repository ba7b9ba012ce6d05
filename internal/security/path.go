package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinBoundary ensures that targetPath is within or equal to
// boundaryPath once both are made absolute, so "../" sequences cannot escape.
func ValidatePathWithinBoundary(boundaryPath, targetPath string) error {
	absBoundary, err := filepath.Abs(boundaryPath)
	if err != nil {
		return fmt.Errorf("failed to resolve boundary path %q: %w", boundaryPath, err)
	}

	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return fmt.Errorf("failed to resolve target path %q: %w", targetPath, err)
	}

	rel, err := filepath.Rel(absBoundary, absTarget)
	if err != nil {
		return fmt.Errorf("invalid path relationship between %q and %q: %w", absBoundary, absTarget, err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %q escapes boundary %q", targetPath, boundaryPath)
	}

	return nil
}

// PackageDir returns the directory of an npm package below modulesDir,
// rejecting names that would resolve outside it. Scoped names keep their
// "@scope/name" layout.
func PackageDir(modulesDir, name string) (string, error) {
	if err := ValidatePackageName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(modulesDir, filepath.FromSlash(name))
	if err := ValidatePathWithinBoundary(modulesDir, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// ValidatePackageName accepts "name" and "@scope/name".
func ValidatePackageName(name string) error {
	parts := strings.Split(name, "/")
	switch {
	case name == "":
		return fmt.Errorf("empty package name")
	case len(parts) == 2 && strings.HasPrefix(parts[0], "@") && len(parts[0]) > 1:
	case len(parts) == 1 && !strings.HasPrefix(name, "@"):
	default:
		return fmt.Errorf("invalid package name %q", name)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `\:`) {
			return fmt.Errorf("invalid package name %q", name)
		}
	}
	return nil
}

// SanitizeFilename reduces name to a single path element. It returns an error
// when nothing usable is left.
func SanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "_", `\`, "_", "\x00", "").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return name, nil
}
