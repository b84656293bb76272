package fsutil

import (
	"fmt"
	"io/fs"

	"github.com/gobwas/glob"
)

// FilterFS wraps an fs.FS and hides files based on include/exclude glob
// patterns. Exclusions take precedence. An empty include list admits every
// file. Directories are always visible so that walks can descend.
type FilterFS struct {
	fsys     fs.FS
	included []glob.Glob
	excluded []glob.Glob
}

var _ fs.FS = (*FilterFS)(nil)

func NewFilterFS(fsys fs.FS, included, excluded []string) (*FilterFS, error) {
	inc, err := compileAll(included)
	if err != nil {
		return nil, err
	}
	exc, err := compileAll(excluded)
	if err != nil {
		return nil, err
	}
	return &FilterFS{fsys: fsys, included: inc, excluded: exc}, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("failed to compile file pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func (f *FilterFS) admits(name string) bool {
	for _, g := range f.excluded {
		if g.Match(name) {
			return false
		}
	}
	if len(f.included) == 0 {
		return true
	}
	for _, g := range f.included {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (f *FilterFS) Open(name string) (fs.File, error) {
	file, err := f.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if fi.IsDir() {
		return &filterDir{File: file, fsys: f, path: name}, nil
	}
	if !f.admits(name) {
		file.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return file, nil
}

// filterDir filters directory listings through the parent's patterns.
type filterDir struct {
	fs.File
	fsys *FilterFS
	path string
}

func (d *filterDir) ReadDir(n int) ([]fs.DirEntry, error) {
	rd, ok := d.File.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: d.path, Err: fs.ErrInvalid}
	}
	entries, err := rd.ReadDir(n)
	if err != nil {
		return entries, err
	}
	kept := entries[:0]
	for _, e := range entries {
		name := e.Name()
		if d.path != "." {
			name = d.path + "/" + name
		}
		if e.IsDir() || d.fsys.admits(name) {
			kept = append(kept, e)
		}
	}
	return kept, nil
}
