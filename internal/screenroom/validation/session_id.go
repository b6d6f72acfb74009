package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"screenroom/pkg/errors"
)

// sessionIDPattern is the strict allow-list for session identifiers.
// Anything outside alphanumerics, underscore and hyphen is rejected before
// the id ever reaches the process table, the filesystem or an object key.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// MaxSessionIDLength caps identifiers so they stay usable as file names and
// object key segments.
const MaxSessionIDLength = 128

// SessionID validates a session identifier against the allow-list shared by
// the recording manager and recording storage.
func SessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty", errors.ErrInvalidSessionID)
	}
	if len(sessionID) > MaxSessionIDLength {
		return fmt.Errorf("%w: %d characters exceeds limit of %d",
			errors.ErrInvalidSessionID, len(sessionID), MaxSessionIDLength)
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("%w: %q", errors.ErrInvalidSessionID, sessionID)
	}
	return nil
}

// ContainedPath resolves path and verifies it remains a descendant of root.
// Both arguments are made absolute before comparison so ".." segments and
// relative tricks cannot escape the root.
func ContainedPath(root, path string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes %s", errors.ErrInvalidSessionID, path, root)
	}

	return absPath, nil
}
