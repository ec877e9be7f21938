// Package scratch manages the per-scan working directory that rule documents
// reach through the [save_path] placeholder.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/logging"
)

const dirPerm = 0o700

// Dir is a scratch directory owned by one scan.
type Dir struct {
	path string
}

// New creates a uniquely named directory under root. An empty root means
// the system temp directory.
func New(root string) (*Dir, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, errors.WrapScanError(errors.CodeDirectoryCreate,
			fmt.Sprintf("failed to create scratch root %s", root), err)
	}

	path := filepath.Join(root, "loadout-"+uuid.NewString())
	if err := os.Mkdir(path, dirPerm); err != nil {
		return nil, errors.WrapScanError(errors.CodeDirectoryCreate,
			"failed to create scratch directory", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory path, which always ends in a separator so
// rule documents can append file names directly after [save_path].
func (d *Dir) Path() string {
	return d.path + string(filepath.Separator)
}

// File returns the path of name inside the directory.
func (d *Dir) File(name string) string {
	return filepath.Join(d.path, name)
}

// Remove deletes the directory and everything in it. Failures are logged.
func (d *Dir) Remove() {
	if err := os.RemoveAll(d.path); err != nil {
		logging.Warn("Failed to remove scratch directory", "path", d.path, "error", err)
	}
}
