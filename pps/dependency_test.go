package pps

import (
	"testing"
)

func versionsOf(t *testing.T, raw ...string) []Version {
	t.Helper()
	out := make([]Version, 0, len(raw))
	for _, s := range raw {
		v, err := ParseVersion(s)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", s, err)
		}
		out = append(out, v)
	}
	return out
}

func versionStrings(vs []Version) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

func namedDep(t *testing.T, line string, available ...string) *AbstractDependency {
	t.Helper()
	r := mustRequirement(t, line)
	return newAbstractDependency(r, versionsOf(t, available...), nil)
}

func TestNewAbstractDependencyNamed(t *testing.T) {
	dep := namedDep(t, "pkg>=1.0,<2.0", "0.9", "1.0", "1.5", "2.0")

	if got := versionStrings(dep.Versions()); len(got) != 2 || got[0] != "1.0" || got[1] != "1.5" {
		t.Errorf("Versions = %v", got)
	}
	cands := dep.Candidates()
	if len(cands) != 2 {
		t.Fatalf("Candidates = %d", len(cands))
	}
	// Ascending version order, least preferred first.
	if cands[0].ToLine() != "pkg==1.0" || cands[1].ToLine() != "pkg==1.5" {
		t.Errorf("candidates = %q, %q", cands[0].ToLine(), cands[1].ToLine())
	}
}

func TestNewAbstractDependencySource(t *testing.T) {
	r := mustRequirement(t, "git+https://example.com/pkg.git@main#egg=pkg")
	dep := newAbstractDependency(r, nil, nil)

	if len(dep.Versions()) != 0 {
		t.Errorf("source dependency carries versions %v", dep.Versions())
	}
	cands := dep.Candidates()
	if len(cands) != 1 || cands[0] != r {
		t.Errorf("source dependency must be its own sole candidate, got %v", cands)
	}
}

func TestMergeIntersects(t *testing.T) {
	a := namedDep(t, "pkg>=1.0", "1.0", "1.5", "2.0")
	b := namedDep(t, "pkg<2.0", "1.0", "1.5", "2.0")

	merged, err := a.Merge(b)
	if err != nil {
		t.Fatal(err)
	}
	if got := versionStrings(merged.Versions()); len(got) != 2 || got[0] != "1.0" || got[1] != "1.5" {
		t.Errorf("merged versions = %v", got)
	}
	cands := merged.Candidates()
	if len(cands) != 2 || cands[0].ToLine() != "pkg==1.0" || cands[1].ToLine() != "pkg==1.5" {
		lines := make([]string, len(cands))
		for i, c := range cands {
			lines[i] = c.ToLine()
		}
		t.Errorf("merged candidates = %v", lines)
	}
}

func TestMergeConflict(t *testing.T) {
	a := namedDep(t, "pkg==1.0", "1.0", "2.0")
	b := namedDep(t, "pkg==2.0", "1.0", "2.0")

	_, err := a.Merge(b)
	conflict, ok := err.(*ConflictError)
	if !ok {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if conflict.Name != "pkg" {
		t.Errorf("conflict name = %q", conflict.Name)
	}
	if conflict.Existing != "==1.0" || conflict.Incoming != "==2.0" {
		t.Errorf("conflict constraints = %q vs %q", conflict.Existing, conflict.Incoming)
	}
}

func TestMergeSourceAbsorbsNamed(t *testing.T) {
	src := newAbstractDependency(mustRequirement(t, "git+https://example.com/pkg.git#egg=pkg"), nil, nil)
	named := namedDep(t, "pkg>=1.0", "1.0", "2.0")

	for _, merged := range []func() (*AbstractDependency, error){
		func() (*AbstractDependency, error) { return src.Merge(named) },
		func() (*AbstractDependency, error) { return named.Merge(src) },
	} {
		m, err := merged()
		if err != nil {
			t.Fatal(err)
		}
		cands := m.Candidates()
		if len(cands) == 0 {
			t.Fatal("no candidates after absorb")
		}
		// The source pin stays in front regardless of merge direction.
		if _, ok := cands[0].(*VCSRequirement); !ok {
			t.Errorf("front candidate is %T, want the VCS source", cands[0])
		}
		if got := versionStrings(m.Versions()); len(got) != 2 {
			t.Errorf("absorbed versions = %v", got)
		}
	}
}

func TestMergeNameMismatch(t *testing.T) {
	a := namedDep(t, "pkg>=1.0", "1.0")
	b := namedDep(t, "other>=1.0", "1.0")
	if _, err := a.Merge(b); err == nil {
		t.Error("merging different names must fail")
	}
}

func TestPinnedVersion(t *testing.T) {
	if v, ok := pinnedVersion(mustRequirement(t, "pkg==1.5")); !ok || v.String() != "1.5" {
		t.Errorf("pinnedVersion(pkg==1.5) = %v, %v", v, ok)
	}
	if _, ok := pinnedVersion(mustRequirement(t, "pkg>=1.0")); ok {
		t.Error("range constraint must not report a pin")
	}
	if _, ok := pinnedVersion(mustRequirement(t, "pkg>=1.0,<2.0")); ok {
		t.Error("multi-specifier constraint must not report a pin")
	}
	if _, ok := pinnedVersion(mustRequirement(t, "git+https://example.com/p.git#egg=p")); ok {
		t.Error("source requirement must not report a pin")
	}
}

func TestPinCandidateKeepsEnvelope(t *testing.T) {
	r := mustRequirement(t, "pkg[extra1]>=1.0; os_name == 'posix'").(*NamedRequirement)
	v, err := ParseVersion("1.5")
	if err != nil {
		t.Fatal(err)
	}
	cand := pinCandidate(r, v)
	if cand.ToLine() != "pkg[extra1]==1.5; os_name == 'posix'" {
		t.Errorf("pinned candidate line = %q", cand.ToLine())
	}
}
