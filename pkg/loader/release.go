package loader

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// copyStore copies a store file or directory to dst, replacing anything there.
// The copy is assembled next to dst and renamed into place.
func copyStore(src, dst string) error {
	tmp := dst + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return errors.Wrapf(err, "removing %s", tmp)
	}

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(tmp, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
	if err != nil {
		os.RemoveAll(tmp)
		return errors.Wrapf(err, "copying %s", src)
	}

	if err := os.RemoveAll(dst); err != nil {
		os.RemoveAll(tmp)
		return errors.Wrapf(err, "removing %s", dst)
	}
	return errors.Wrapf(os.Rename(tmp, dst), "renaming %s", tmp)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
