package pydep

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPipfilePathWalksParents(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	manifest := filepath.Join(root, PipfileName)
	if err := os.WriteFile(manifest, []byte("[packages]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := &Ctx{WorkingDir: nested}
	got, err := ctx.PipfilePath()
	if err != nil {
		t.Fatal(err)
	}
	if got != manifest {
		t.Errorf("PipfilePath = %q, want %q", got, manifest)
	}

	lock, err := ctx.LockPath()
	if err != nil {
		t.Fatal(err)
	}
	if lock != filepath.Join(root, LockName) {
		t.Errorf("LockPath = %q", lock)
	}
}

func TestPipfilePathMissing(t *testing.T) {
	ctx := &Ctx{WorkingDir: t.TempDir()}
	if _, err := ctx.PipfilePath(); err == nil {
		t.Error("expected an error with no Pipfile anywhere")
	}
}

func TestHashCachePath(t *testing.T) {
	ctx := &Ctx{CacheDir: "/var/cache/custom"}
	if got := ctx.HashCachePath(); got != filepath.Join("/var/cache/custom", "hashes.db") {
		t.Errorf("HashCachePath = %q", got)
	}
	if got := (&Ctx{}).HashCachePath(); filepath.Base(got) != "hashes.db" {
		t.Errorf("default HashCachePath = %q", got)
	}
}

func TestEnvironment(t *testing.T) {
	ctx := &Ctx{}

	env := ctx.Environment(Requires{PythonVersion: "3.9"})
	if env.PythonVersion != "3.9" || env.PythonFullVersion != "" {
		t.Errorf("env = %+v", env)
	}

	// python_version derives from the full version when absent.
	env = ctx.Environment(Requires{PythonFullVersion: "3.10.4"})
	if env.PythonVersion != "3.10" || env.PythonFullVersion != "3.10.4" {
		t.Errorf("env = %+v", env)
	}

	env = ctx.Environment(Requires{})
	if env.PythonVersion != "" {
		t.Errorf("env = %+v", env)
	}
}
