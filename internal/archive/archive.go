// Package archive packages a finished target tree into a distributable zip.
// Entries are written in lexical walk order with a fixed timestamp, so the
// same tree always produces the same archive.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Write zips the tree rooted at dir into a new archive at dst. An existing
// archive at dst is replaced.
func Write(dir, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	root := os.DirFS(dir)
	err = fs.WalkDir(root, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// fixed header keeps the archive reproducible across builds
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   p,
			Method: zip.Deflate,
		})
		if err != nil {
			return err
		}
		f, err := root.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", dir, err)
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}
