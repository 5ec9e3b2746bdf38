// Package boundary validates externally supplied identifiers before they are
// used as file names inside the store. Event IDs, session IDs, and transcript
// names all arrive from hook input; every path the core builds from them must
// stay inside its own directory.
package boundary

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateName rejects identifiers that cannot safely become a single path
// component: empty strings, path separators, and dot traversal.
func ValidateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("boundary: empty %s", kind)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("boundary: %s %q contains a path separator", kind, name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("boundary: %s %q is a traversal component", kind, name)
	}
	return nil
}

// Join validates name and joins it onto dir. The result is guaranteed to be a
// direct child of dir.
func Join(dir, kind, name string) (string, error) {
	if err := ValidateName(kind, name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Within reports whether path resolves to dir or a descendant of it. Both
// arguments are cleaned; symlinks are not followed.
func Within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
