// Package vault confines every file operation to a single storage root.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moyoez/localvault/types"
)

// Root is the storage root. All relative paths given to it are slash separated.
type Root struct {
	dir string
	// absolute paths under dir that no caller may address, such as the upload temp area
	reserved []string
}

// NewRoot creates dir when missing and returns a Root anchored at its absolute path.
func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	// resolve symlinks on the root itself so containment checks compare like with like
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &Root{dir: abs}, nil
}

// Reserve takes dir out of the vault: Resolve refuses it and everything beneath it, and Delete
// and Rename refuse any folder holding it. A dir outside the root is ignored. Call before serving.
func (r *Root) Reserve(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve reserved dir: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	if abs == r.dir {
		return fmt.Errorf("%w: cannot reserve the storage root itself", types.ErrInvalidName)
	}
	if r.contains(abs) {
		r.reserved = append(r.reserved, abs)
	}
	return nil
}

// Dir returns the absolute root directory.
func (r *Root) Dir() string {
	return r.dir
}

// Resolve maps a relative path onto the root. Absolute-looking paths are treated as
// relative to the root; any ".." segment or NUL byte is rejected outright.
func (r *Root) Resolve(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", types.ErrPathOutsideRoot
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", types.ErrPathOutsideRoot
		}
	}
	full := filepath.Join(r.dir, filepath.FromSlash(strings.TrimLeft(rel, "/")))
	if !r.contains(full) || r.isReserved(full) {
		return "", types.ErrPathOutsideRoot
	}
	return full, nil
}

func (r *Root) isReserved(full string) bool {
	for _, res := range r.reserved {
		if full == res || strings.HasPrefix(full, res+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// holdsReserved reports whether removing or moving full would take a reserved dir with it.
func (r *Root) holdsReserved(full string) bool {
	for _, res := range r.reserved {
		if strings.HasPrefix(res, full+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Rel converts an absolute path under the root back to its slash separated relative form.
func (r *Root) Rel(full string) (string, error) {
	if !r.contains(full) {
		return "", types.ErrPathOutsideRoot
	}
	rel, err := filepath.Rel(r.dir, full)
	if err != nil {
		return "", types.ErrPathOutsideRoot
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (r *Root) contains(full string) bool {
	clean := filepath.Clean(full)
	if clean == r.dir {
		return true
	}
	return strings.HasPrefix(clean, r.dir+string(filepath.Separator))
}

// IsRoot reports whether rel names the root itself.
func (r *Root) IsRoot(rel string) bool {
	full, err := r.Resolve(rel)
	return err == nil && full == r.dir
}
