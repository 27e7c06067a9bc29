package pydep

import (
	"bytes"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	shutil "github.com/termie/go-shutil"
)

// SafeWriter transactionalizes writes of the Pipfile and lockfile, both
// individually and together, into a pseudo-atomic action with
// transactional rollback.
//
// It is not impervious to errors (writing to disk is hard), but it should
// guard against non-arcane failure conditions.
type SafeWriter struct {
	Payload *SafeWriterPayload
}

// SafeWriterPayload represents the actions SafeWriter will execute when
// SafeWriter.Write is called.
type SafeWriterPayload struct {
	Pipfile *Pipfile
	Lock    *Lock
}

func (payload *SafeWriterPayload) HasPipfile() bool {
	return payload.Pipfile != nil
}

func (payload *SafeWriterPayload) HasLock() bool {
	return payload.Lock != nil
}

// Prepare records which files Write will replace.
//
//   - If pipfile is provided, it will be written to the standard manifest
//     file name beneath root.
//   - If newLock is provided and differs from oldLock, it will be written
//     to the standard lockfile name in the root dir. Passing a nil oldLock
//     forces the lockfile write.
func (sw *SafeWriter) Prepare(pipfile *Pipfile, oldLock, newLock *Lock) {
	sw.Payload = &SafeWriterPayload{Pipfile: pipfile}

	if newLock != nil {
		if oldLock == nil || !locksEquivalent(oldLock, newLock) {
			sw.Payload.Lock = newLock
		}
	}
}

func locksEquivalent(a, b *Lock) bool {
	ab, aerr := a.MarshalJSON()
	bb, berr := b.MarshalJSON()
	if aerr != nil || berr != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func (payload *SafeWriterPayload) validate(root string) error {
	if root == "" {
		return errors.New("root path must be non-empty")
	}
	fi, err := os.Stat(root)
	if err != nil {
		return errors.Wrapf(err, "checking root path %q", root)
	}
	if !fi.IsDir() {
		return errors.Errorf("root path %q is not a directory", root)
	}
	return nil
}

// Write saves some combination of Pipfile and lockfile beneath root.
//
// It first writes to a temp dir, then moves the files in place if and only
// if all the write operations succeeded. It also does its best to roll
// back if any moves fail, so the project is never left with a partial
// write on disk.
func (sw *SafeWriter) Write(root string) error {
	if sw.Payload == nil {
		return errors.New("cannot call SafeWriter.Write before SafeWriter.Prepare")
	}

	if err := sw.Payload.validate(root); err != nil {
		return err
	}

	if !sw.Payload.HasPipfile() && !sw.Payload.HasLock() {
		// nothing to do
		return nil
	}

	ppath := filepath.Join(root, PipfileName)
	lpath := filepath.Join(root, LockName)

	td, err := ioutil.TempDir(os.TempDir(), "pydep")
	if err != nil {
		return errors.Wrap(err, "error while creating temp dir for writing Pipfile/lockfile")
	}
	defer os.RemoveAll(td)

	if sw.Payload.HasPipfile() {
		if err := renderFile(filepath.Join(td, PipfileName), sw.Payload.Pipfile.Write); err != nil {
			return errors.Wrap(err, "failed to write Pipfile to temp dir")
		}
	}

	if sw.Payload.HasLock() {
		if err := renderFile(filepath.Join(td, LockName), sw.Payload.Lock.Write); err != nil {
			return errors.Wrap(err, "failed to write lockfile to temp dir")
		}
	}

	// Move the existing files to the temp dir while we put the new ones in,
	// to provide insurance against errors for as long as possible.
	type pathpair struct {
		from, to string
	}
	var restore []pathpair
	var failerr error

	if sw.Payload.HasPipfile() {
		if _, err := os.Stat(ppath); err == nil {
			// Move out the old one.
			tmploc := filepath.Join(td, PipfileName+".orig")
			failerr = renameWithFallback(ppath, tmploc)
			if failerr != nil {
				goto fail
			}
			restore = append(restore, pathpair{from: tmploc, to: ppath})
		}

		// Move in the new one.
		failerr = renameWithFallback(filepath.Join(td, PipfileName), ppath)
		if failerr != nil {
			goto fail
		}
	}

	if sw.Payload.HasLock() {
		if _, err := os.Stat(lpath); err == nil {
			// Move out the old one.
			tmploc := filepath.Join(td, LockName+".orig")
			failerr = renameWithFallback(lpath, tmploc)
			if failerr != nil {
				goto fail
			}
			restore = append(restore, pathpair{from: tmploc, to: lpath})
		}

		// Move in the new one.
		failerr = renameWithFallback(filepath.Join(td, LockName), lpath)
		if failerr != nil {
			goto fail
		}
	}

	return nil

fail:
	// If we failed at any point, move all the things back into place, then bail.
	for _, pair := range restore {
		// Nothing we can do on err here, as we're already in recovery mode.
		renameWithFallback(pair.from, pair.to)
	}
	return failerr
}

// PrintPreparedActions renders the payload to out instead of to disk.
func (sw *SafeWriter) PrintPreparedActions(out *log.Logger) error {
	if sw.Payload == nil {
		return errors.New("cannot call SafeWriter.PrintPreparedActions before SafeWriter.Prepare")
	}

	if sw.Payload.HasPipfile() {
		out.Println("Would have written the following Pipfile:")
		var buf bytes.Buffer
		if err := sw.Payload.Pipfile.Write(&buf); err != nil {
			return errors.Wrap(err, "dry run cannot serialize Pipfile")
		}
		out.Println(buf.String())
	}

	if sw.Payload.HasLock() {
		out.Println("Would have written the following Pipfile.lock:")
		b, err := sw.Payload.Lock.MarshalJSON()
		if err != nil {
			return errors.Wrap(err, "dry run cannot serialize lockfile")
		}
		out.Println(string(b))
	}

	return nil
}

func renderFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// renameWithFallback attempts to rename src to dest, falling back to a
// copy-and-remove when the rename crosses a filesystem boundary.
func renameWithFallback(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}

	terr, ok := err.(*os.LinkError)
	if !ok {
		return err
	}
	if terr.Err != syscall.EXDEV {
		// In windows it can drop down to an operating system call that
		// returns an operating system error with a different number and
		// message. Checking for that as a fall back.
		noerr, ok := terr.Err.(syscall.Errno)
		if !ok || noerr != 0x11 {
			return err
		}
	}

	if cerr := shutil.CopyFile(src, dest, false); cerr != nil {
		return errors.Wrapf(cerr, "copying %s to %s", src, dest)
	}
	return os.Remove(src)
}
