// Package stage owns the ephemeral build-context directory: created before any
// patch resolution, populated incrementally, destroyed only after a successful
// build. On failure it is deliberately left behind for inspection.
package stage

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Dir is a staging directory. It is not safe for concurrent use; one run owns
// it exclusively.
type Dir struct {
	path      string
	destroyed bool
}

// New creates the staging directory under the system temp dir.
func New() (*Dir, error) {
	path, err := os.MkdirTemp("", "imgpatch-")
	if err != nil {
		return nil, errors.Wrap(err, "creating staging directory")
	}
	return &Dir{path: path}, nil
}

// Path returns the absolute location of the staging directory.
func (d *Dir) Path() string {
	return d.path
}

// Write places contents at relPath under the staging root, creating parent
// directories as needed.
func (d *Dir) Write(relPath string, contents []byte) error {
	dest := filepath.Join(d.path, relPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.Wrapf(err, "staging %s", relPath)
	}
	if err := os.WriteFile(dest, contents, 0644); err != nil {
		return errors.Wrapf(err, "staging %s", relPath)
	}
	return nil
}

// Import copies a host file or directory tree to relPath under the staging root.
func (d *Dir) Import(hostPath, relPath string) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return errors.Wrapf(err, "staging copy of %s", hostPath)
	}

	dest := filepath.Join(d.path, relPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.Wrapf(err, "staging copy of %s", hostPath)
	}

	if info.IsDir() {
		err = copyDir(hostPath, dest)
	} else {
		err = copyFile(hostPath, dest, info.Mode())
	}
	if err != nil {
		return errors.Wrapf(err, "staging copy of %s", hostPath)
	}
	return nil
}

// Destroy removes the staging directory. Calling it more than once is a no-op;
// the directory is deleted at most once.
func (d *Dir) Destroy() error {
	if d.destroyed {
		return nil
	}
	if err := os.RemoveAll(d.path); err != nil {
		return errors.Wrap(err, "destroying staging directory")
	}
	d.destroyed = true
	return nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		info, err := entry.Info()
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}
