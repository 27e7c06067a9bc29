package pydep

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestSafeWriterBadInputs(t *testing.T) {
	td := t.TempDir()

	var sw SafeWriter

	// Write before Prepare.
	if err := sw.Write(td); err == nil {
		t.Error("should have errored before Prepare, but did not")
	}

	sw.Prepare(nil, nil, nil)
	if err := sw.Write(""); err == nil {
		t.Error("should have errored without a root path, but did not")
	}
	if err := sw.Write(filepath.Join(td, "nonexistent")); err == nil {
		t.Error("should have errored with nonexistent root path, but did not")
	}

	fpath := filepath.Join(td, "myfile")
	f, err := os.Create(fpath)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	if err := sw.Write(fpath); err == nil {
		t.Error("should have errored when root path is a file, but did not")
	}

	// Empty payload is a no-op.
	if err := sw.Write(td); err != nil {
		t.Errorf("write with empty payload should be a no-op, got %q", err)
	}
	if _, err := os.Stat(filepath.Join(td, LockName)); !os.IsNotExist(err) {
		t.Error("no-op write should not have created a lockfile")
	}
}

func TestSafeWriterLock(t *testing.T) {
	td := t.TempDir()
	lock := sampleLock(t)

	var sw SafeWriter
	sw.Prepare(nil, nil, lock)
	if !sw.Payload.HasLock() {
		t.Fatal("nil old lock should force the lockfile write")
	}
	if sw.Payload.HasPipfile() {
		t.Fatal("payload should not include a Pipfile")
	}

	if err := sw.Write(td); err != nil {
		t.Fatal(err)
	}

	got, err := LoadLock(filepath.Join(td, LockName))
	if err != nil {
		t.Fatal(err)
	}
	if got.PipfileHash != lock.PipfileHash {
		t.Errorf("read-back hash = %q, want %q", got.PipfileHash, lock.PipfileHash)
	}
}

func TestSafeWriterReplacesExistingLock(t *testing.T) {
	td := t.TempDir()
	lpath := filepath.Join(td, LockName)
	if err := ioutil.WriteFile(lpath, []byte("stale"), 0666); err != nil {
		t.Fatal(err)
	}

	var sw SafeWriter
	sw.Prepare(nil, nil, sampleLock(t))
	if err := sw.Write(td); err != nil {
		t.Fatal(err)
	}

	b, err := ioutil.ReadFile(lpath)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) == "stale" {
		t.Error("existing lockfile was not replaced")
	}
	if _, err := os.Stat(lpath + ".orig"); !os.IsNotExist(err) {
		t.Error("backup copy leaked next to the lockfile")
	}
}

func TestSafeWriterSkipsEquivalentLock(t *testing.T) {
	lock := sampleLock(t)

	var sw SafeWriter
	sw.Prepare(nil, lock, lock)
	if sw.Payload.HasLock() {
		t.Error("equivalent locks should not schedule a write")
	}
}

func TestSafeWriterPipfile(t *testing.T) {
	td := t.TempDir()
	p := parsePipfile(t, samplePipfile)

	var sw SafeWriter
	sw.Prepare(p, nil, nil)
	if err := sw.Write(td); err != nil {
		t.Fatal(err)
	}

	got, err := LoadPipfile(filepath.Join(td, PipfileName))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Packages) != len(p.Packages) {
		t.Errorf("read-back Pipfile has %d packages, want %d", len(got.Packages), len(p.Packages))
	}
}

func TestRenameWithFallback(t *testing.T) {
	td := t.TempDir()
	src := filepath.Join(td, "src")
	dest := filepath.Join(td, "dest")
	if err := ioutil.WriteFile(src, []byte("payload"), 0666); err != nil {
		t.Fatal(err)
	}

	if err := renameWithFallback(src, dest); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source should be gone after rename")
	}
	b, err := ioutil.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "payload" {
		t.Errorf("dest contents = %q, want %q", b, "payload")
	}
}
