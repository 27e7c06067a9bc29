package pps

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	shutil "github.com/termie/go-shutil"
)

// Materialize places the requirement's local source under workdir and
// returns the path installers should build from. Editable requirements
// are used in place, so the original path comes back untouched; anything
// else is copied, keeping the resolver's inputs immutable while builds
// scribble on the copy.
func (r *FileRequirement) Materialize(workdir string) (string, error) {
	if !r.Local() {
		return "", errors.Errorf("cannot materialize remote source %s", r.uri)
	}
	src := r.path
	if r.editable {
		return r.sourceRoot(src), nil
	}

	fi, err := os.Stat(src)
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", src)
	}

	dst := filepath.Join(workdir, filepath.Base(src))
	if !fi.IsDir() {
		if err := shutil.CopyFile(src, dst, false); err != nil {
			return "", errors.Wrapf(err, "copying %s", src)
		}
		return dst, nil
	}

	if err := os.RemoveAll(dst); err != nil {
		return "", errors.Wrapf(err, "clearing %s", dst)
	}
	if err := shutil.CopyTree(src, dst, nil); err != nil {
		return "", errors.Wrapf(err, "copying tree %s", src)
	}
	return r.sourceRoot(dst), nil
}

// sourceRoot applies the requirement's subdirectory, when one is set, to
// the materialized root.
func (r *FileRequirement) sourceRoot(root string) string {
	if r.subdirectory == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(r.subdirectory))
}
