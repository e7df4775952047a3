package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxClientIDLength bounds client identifiers.
const MaxClientIDLength = 128

var (
	// ErrInvalidClientID indicates a client ID that cannot be used.
	ErrInvalidClientID = errors.New("invalid client ID")

	// ErrPathTraversal indicates a path escapes its root.
	ErrPathTraversal = errors.New("path escapes its root")

	// ErrEmptyPath indicates an empty path.
	ErrEmptyPath = errors.New("path cannot be empty")
)

var namespacePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidNamespace reports whether name is a usable namespace name.
func ValidNamespace(name string) bool {
	return namespacePattern.MatchString(name)
}

// ValidateClientID checks that id is non-empty valid UTF-8 of bounded length
// without control characters or path separators.
func ValidateClientID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidClientID)
	case len(id) > MaxClientIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidClientID, MaxClientIDLength)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidClientID)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: contains a path separator", ErrInvalidClientID)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidClientID)
		}
	}
	return nil
}

// ValidatePath cleans path and, when root is set, requires it to resolve inside root.
// It returns the absolute cleaned path.
func ValidatePath(path, root string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if root == "" {
		return abs, nil
	}

	absRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s not under %s", ErrPathTraversal, path, root)
	}
	return abs, nil
}
