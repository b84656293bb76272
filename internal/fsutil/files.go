// Package fsutil holds the filesystem plumbing shared by the build
// pipeline: glob-based filtering, in-memory file sets, prefix mounting and
// flushing virtual trees to disk.
package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"testing/fstest"
)

// MapFS builds an in-memory fs.FS from path -> content pairs.
func MapFS(m map[string]string) fs.FS {
	m0 := make(map[string]*fstest.MapFile, len(m))
	for p, f := range m {
		m0[p] = &fstest.MapFile{Data: []byte(f)}
	}
	return fstest.MapFS(m0)
}

// FSContainsFiles returns true if the given fs.FS contains any files.
func FSContainsFiles(fsys fs.FS) (bool, error) {
	errFound := os.ErrExist // sentinel to stop the walk early

	err := fs.WalkDir(fsys, ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return errFound
		}
		return nil
	})
	if err == errFound {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Prefix re-roots fsys under the given prefix, materializing it into an
// in-memory file set. Build-output trees are small, so materializing is
// cheaper than a lazy mount and keeps later stages free of path rewriting.
func Prefix(prefix string, fsys fs.FS) (fs.FS, error) {
	out := fstest.MapFS{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		bs, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		out[path.Join(prefix, p)] = &fstest.MapFile{Data: bs, Mode: fi.Mode(), ModTime: fi.ModTime()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteFS flushes every file in fsys under dir, creating directories as
// needed. Existing files are overwritten.
func WriteFS(fsys fs.FS, dir string) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		bs, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		dst := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dst, bs, 0o644)
	})
}

// Wipe removes the contents of dir without removing dir itself. A missing
// dir is not an error; targets are always rebuilt from scratch.
func Wipe(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.RemoveAll(filepath.Join(dir, f.Name())); err != nil {
			return err
		}
	}
	return nil
}
