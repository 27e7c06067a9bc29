package pydep

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/pydep/pydep/pps"
)

func mustLine(t *testing.T, line string) pps.Requirement {
	t.Helper()
	r, err := pps.FromLine(line)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func sampleLock(t *testing.T) *Lock {
	t.Helper()
	p := parsePipfile(t, samplePipfile)

	requests := mustLine(t, "requests[security]==2.28.1")
	requests.AddHash("sha256:aaa")
	def := pps.ResolvedSet{
		"requests": {Requirement: requests, Hashes: []string{"sha256:aaa"}},
		"pip":      {Requirement: mustLine(t, "git+https://github.com/pypa/pip.git@main#egg=pip")},
	}
	dev := pps.ResolvedSet{
		"pytest": {Requirement: mustLine(t, "pytest==7.2.0")},
	}

	l, err := LockFromResolution(p, def, dev)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestLockRoundTrip(t *testing.T) {
	l := sampleLock(t)

	var buf bytes.Buffer
	if err := l.Write(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`"_meta"`, `"pipfile-spec": 6`, `"sha256:aaa"`, `"default"`, `"develop"`} {
		if !strings.Contains(out, want) {
			t.Errorf("serialized lock missing %s", want)
		}
	}

	again, err := ReadLock(&buf)
	if err != nil {
		t.Fatalf("re-reading lock: %v", err)
	}
	if again.PipfileHash != l.PipfileHash {
		t.Errorf("hash changed: %q to %q", l.PipfileHash, again.PipfileHash)
	}
	if !reflect.DeepEqual(again.Sources, l.Sources) {
		t.Errorf("sources changed: %+v", again.Sources)
	}
	if again.Requires != l.Requires {
		t.Errorf("requires changed: %+v", again.Requires)
	}

	for name, req := range l.Default {
		got, ok := again.Default[name]
		if !ok {
			t.Errorf("default pin %s lost", name)
			continue
		}
		if got.ToLine() != req.ToLine() {
			t.Errorf("pin %s changed: %q to %q", name, req.ToLine(), got.ToLine())
		}
	}
	if again.Develop["pytest"].ToLine() != "pytest==7.2.0" {
		t.Errorf("develop pin = %q", again.Develop["pytest"].ToLine())
	}

	// Hashes survive the round trip on the requirement itself.
	if h := again.Default["requests"].Hashes(); len(h) != 1 || h[0] != "sha256:aaa" {
		t.Errorf("requests hashes = %v", h)
	}
}

func TestLockMatches(t *testing.T) {
	l := sampleLock(t)
	p := parsePipfile(t, samplePipfile)

	hash, err := p.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if !l.Matches(hash) {
		t.Error("lock must match the manifest it was built from")
	}
	if l.Matches("0000") {
		t.Error("lock matched a foreign hash")
	}
	if (&Lock{}).Matches("") {
		t.Error("empty hash must never match")
	}
}

func TestLockPinnedNames(t *testing.T) {
	l := sampleLock(t)
	want := []string{"pip", "pytest", "requests"}
	if got := l.PinnedNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("PinnedNames = %v, want %v", got, want)
	}
}

func TestReadLockRejectsUnknownSpec(t *testing.T) {
	in := `{"_meta": {"hash": {"sha256": "x"}, "pipfile-spec": 99}, "default": {}, "develop": {}}`
	if _, err := ReadLock(strings.NewReader(in)); err == nil {
		t.Error("expected unsupported pipfile-spec to fail")
	}
}

func TestReadLockTolerantOfMissingMeta(t *testing.T) {
	in := `{"default": {"requests": {"version": "==2.28.1"}}, "develop": {}}`
	l, err := ReadLock(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if l.Default["requests"].ToLine() != "requests==2.28.1" {
		t.Errorf("pin = %q", l.Default["requests"].ToLine())
	}
}
