package pps

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
)

// fakeSource is an in-memory SourceManager. Versions and dependency
// declarations are keyed by canonical name; dependency and hash records
// by "name version".
type fakeSource struct {
	mu        sync.Mutex
	versions  map[string][]string
	deps      map[string][]string
	depErrs   map[string]error
	hashes    map[string][]string
	listCalls int
	depCalls  int
}

func (f *fakeSource) ListVersions(ctx context.Context, name string) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()

	raw, ok := f.versions[name]
	if !ok {
		return nil, errors.Errorf("no project named %s", name)
	}
	out := make([]Version, 0, len(raw))
	for _, s := range raw {
		v, err := ParseVersion(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeSource) GetDependencies(ctx context.Context, name string, v Version) ([]Requirement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.depCalls++
	f.mu.Unlock()

	key := name + " " + v.String()
	if err := f.depErrs[key]; err != nil {
		return nil, err
	}
	var out []Requirement
	for _, line := range f.deps[key] {
		r, err := FromLine(line)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeSource) Hashes(ctx context.Context, name string, v Version) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h, ok := f.hashes[name+" "+v.String()]; ok {
		return h, nil
	}
	return []string{"sha256:" + name + "-" + v.String()}, nil
}

func env(pythonVersion string) *MarkerEnvironment {
	return &MarkerEnvironment{PythonVersion: pythonVersion, OSName: "posix", SysPlatform: "linux"}
}

func resolve(t *testing.T, src SourceManager, params SolverParams, lines ...string) (ResolvedSet, error) {
	t.Helper()
	return NewSolver(src, params, nil).ResolveLines(context.Background(), lines)
}

func pinOf(t *testing.T, set ResolvedSet, name string) string {
	t.Helper()
	entry, ok := set[name]
	if !ok {
		t.Fatalf("%s not resolved; set has %d entries", name, len(set))
	}
	v, ok := pinnedVersion(entry.Requirement)
	if !ok {
		t.Fatalf("%s is not pinned to an exact version: %q", name, entry.Requirement.ToLine())
	}
	return v.String()
}

func TestResolvePinsHighest(t *testing.T) {
	src := &fakeSource{versions: map[string][]string{"pkg-a": {"1.0", "1.5", "2.0"}}}

	set, err := resolve(t, src, SolverParams{Environment: env("3.9")}, "pkg-a>=1.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 1 {
		t.Fatalf("resolved %d packages", len(set))
	}
	if got := pinOf(t, set, "pkg-a"); got != "2.0" {
		t.Errorf("pkg-a pinned to %s, want 2.0", got)
	}
	entry := set["pkg-a"]
	if len(entry.Hashes) != 1 || entry.Hashes[0] != "sha256:pkg-a-2.0" {
		t.Errorf("hashes = %v", entry.Hashes)
	}
	if got := entry.Requirement.Hashes(); len(got) != 1 {
		t.Errorf("pin did not absorb hashes: %v", got)
	}
}

func TestResolveTransitiveMarkerGating(t *testing.T) {
	src := &fakeSource{
		versions: map[string][]string{
			"pkg-a": {"1.0", "1.5"},
			"pkg-b": {"3.0"},
		},
		deps: map[string][]string{
			"pkg-a 1.5": {"pkg-b==3.0; python_version >= '3.9'"},
		},
	}

	set, err := resolve(t, src, SolverParams{Environment: env("3.9")}, "pkg-a")
	if err != nil {
		t.Fatal(err)
	}
	if pinOf(t, set, "pkg-a") != "1.5" || pinOf(t, set, "pkg-b") != "3.0" {
		t.Errorf("unexpected pins under 3.9: %v", set)
	}

	set, err = resolve(t, src, SolverParams{Environment: env("3.8")}, "pkg-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 1 {
		t.Errorf("expected only pkg-a under 3.8, got %d entries", len(set))
	}
}

// A root requirement whose marker is false for the target interpreter is
// dropped before seeding, not resolved and filtered later.
func TestResolveRootMarkerGating(t *testing.T) {
	src := &fakeSource{
		versions: map[string][]string{
			"pkg-a": {"1.0", "1.5"},
			"pkg-b": {"3.0"},
		},
	}
	roots := []string{"pkg-a>=1,<2", "pkg-b==3.0; python_version >= '3.9'"}

	set, err := resolve(t, src, SolverParams{Environment: env("3.9")}, roots...)
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 2 {
		t.Fatalf("expected both roots under 3.9, got %d entries", len(set))
	}
	if pinOf(t, set, "pkg-a") != "1.5" || pinOf(t, set, "pkg-b") != "3.0" {
		t.Errorf("unexpected pins under 3.9: %v", set)
	}

	set, err = resolve(t, src, SolverParams{Environment: env("3.8")}, roots...)
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 1 {
		t.Fatalf("expected only pkg-a under 3.8, got %d entries", len(set))
	}
	if _, gated := set["pkg-b"]; gated {
		t.Error("pkg-b resolved despite a false root marker")
	}
	if pinOf(t, set, "pkg-a") != "1.5" {
		t.Errorf("pkg-a pinned to %s, want 1.5", pinOf(t, set, "pkg-a"))
	}
	if pinOf(t, set, "pkg-a") != "1.5" {
		t.Errorf("pkg-a pinned to %s under 3.8", pinOf(t, set, "pkg-a"))
	}
}

func TestResolveBacktracksOnConflict(t *testing.T) {
	src := &fakeSource{
		versions: map[string][]string{
			"pkg-a": {"1.5", "2.0"},
			"pkg-b": {"3.0", "4.0"},
		},
		deps: map[string][]string{
			"pkg-a 2.0": {"pkg-b>=4.0"},
			"pkg-a 1.5": {"pkg-b>=3.0"},
		},
	}

	// The root pin on pkg-b rules out pkg-a 2.0; the solver must fall
	// back to 1.5 rather than fail.
	set, err := resolve(t, src, SolverParams{Environment: env("3.9")}, "pkg-a", "pkg-b==3.0")
	if err != nil {
		t.Fatal(err)
	}
	if pinOf(t, set, "pkg-a") != "1.5" {
		t.Errorf("pkg-a pinned to %s, want 1.5", pinOf(t, set, "pkg-a"))
	}
	if pinOf(t, set, "pkg-b") != "3.0" {
		t.Errorf("pkg-b pinned to %s, want 3.0", pinOf(t, set, "pkg-b"))
	}
}

func TestResolveRootConflictFatal(t *testing.T) {
	src := &fakeSource{versions: map[string][]string{"pkg-c": {"1.0", "2.0"}}}

	_, err := resolve(t, src, SolverParams{}, "pkg-c==1.0", "pkg-c==2.0")
	conflict, ok := err.(*ConflictError)
	if !ok {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if conflict.Name != "pkg-c" {
		t.Errorf("conflict name = %q", conflict.Name)
	}
}

func TestResolveSkipsUnfetchableCandidate(t *testing.T) {
	src := &fakeSource{
		versions: map[string][]string{"pkg-a": {"1.5", "2.0"}},
		depErrs:  map[string]error{"pkg-a 2.0": errors.New("metadata truncated")},
	}

	set, err := resolve(t, src, SolverParams{}, "pkg-a")
	if err != nil {
		t.Fatal(err)
	}
	if pinOf(t, set, "pkg-a") != "1.5" {
		t.Errorf("pkg-a pinned to %s, want 1.5", pinOf(t, set, "pkg-a"))
	}
}

func TestResolveSkipsCandidateWithUnknownDependency(t *testing.T) {
	src := &fakeSource{
		versions: map[string][]string{"pkg-a": {"1.5", "2.0"}},
		deps:     map[string][]string{"pkg-a 2.0": {"ghost>=1.0"}},
	}

	set, err := resolve(t, src, SolverParams{}, "pkg-a")
	if err != nil {
		t.Fatal(err)
	}
	if pinOf(t, set, "pkg-a") != "1.5" {
		t.Errorf("pkg-a pinned to %s, want 1.5", pinOf(t, set, "pkg-a"))
	}
}

func TestResolveNoCandidate(t *testing.T) {
	src := &fakeSource{versions: map[string][]string{"pkg-a": {"1.0"}}}

	_, err := resolve(t, src, SolverParams{}, "pkg-a>=9.0")
	if err == nil {
		t.Fatal("expected a resolution failure")
	}
	if _, ok := err.(ResolutionError); !ok {
		t.Errorf("error is %T, want a ResolutionError", err)
	}
	if !strings.Contains(err.Error(), "pkg-a") {
		t.Errorf("error does not name the package: %v", err)
	}
}

// Stability takes three quiet rounds after the first pinning round, so a
// four-round budget is the minimum for even a trivial resolution.
func TestResolveRoundBudget(t *testing.T) {
	src := &fakeSource{versions: map[string][]string{"pkg-a": {"1.0"}}}

	if _, err := resolve(t, src, SolverParams{MaxRounds: 4}, "pkg-a"); err != nil {
		t.Errorf("four rounds must suffice: %v", err)
	}

	_, err := resolve(t, src, SolverParams{MaxRounds: 3}, "pkg-a")
	nc, ok := err.(*NoConvergenceError)
	if !ok {
		t.Fatalf("expected *NoConvergenceError, got %v", err)
	}
	if nc.Rounds != 3 {
		t.Errorf("Rounds = %d", nc.Rounds)
	}
}

func TestResolveSourcePins(t *testing.T) {
	src := &fakeSource{versions: map[string][]string{"pkg-a": {"1.0"}}}

	editable := mustRequirement(t, "-e ./local/lib")
	if err := editable.ResolveName("locallib"); err != nil {
		t.Fatal(err)
	}
	vcs := mustRequirement(t, "git+https://example.com/widget.git@main#egg=widget")
	named := mustRequirement(t, "pkg-a")

	set, err := NewSolver(src, SolverParams{}, nil).Resolve(context.Background(),
		[]Requirement{editable, vcs, named})
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 3 {
		t.Fatalf("resolved %d packages", len(set))
	}

	// Editable and VCS pins carry no hashes.
	if h := set["locallib"].Hashes; len(h) != 0 {
		t.Errorf("editable hashes = %v", h)
	}
	if h := set["widget"].Hashes; len(h) != 0 {
		t.Errorf("vcs hashes = %v", h)
	}
	if h := set["pkg-a"].Hashes; len(h) != 1 {
		t.Errorf("named hashes = %v", h)
	}
	if _, ok := set["widget"].Requirement.(*VCSRequirement); !ok {
		t.Errorf("widget pin is %T", set["widget"].Requirement)
	}
}

func TestResolveLinesRejectsBadInput(t *testing.T) {
	src := &fakeSource{versions: map[string][]string{}}
	if _, err := resolve(t, src, SolverParams{}, "=="); err == nil {
		t.Error("expected a parse error")
	}
}

func TestResolveHonorsContext(t *testing.T) {
	src := &fakeSource{versions: map[string][]string{"pkg-a": {"1.0"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewSolver(src, SolverParams{}, nil).ResolveLines(ctx, []string{"pkg-a"}); err == nil {
		t.Error("expected cancellation to surface")
	}
}

func TestCachingSourceManager(t *testing.T) {
	src := &fakeSource{
		versions: map[string][]string{"pkg-a": {"1.0", "2.0"}},
		deps:     map[string][]string{"pkg-a 2.0": {"pkg-b>=1.0"}},
	}
	sm := NewCachingSourceManager(src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		vs, err := sm.ListVersions(ctx, "Pkg_A")
		if err != nil {
			t.Fatal(err)
		}
		if len(vs) != 2 {
			t.Fatalf("got %d versions", len(vs))
		}
	}
	if src.listCalls != 1 {
		t.Errorf("delegate saw %d ListVersions calls, want 1", src.listCalls)
	}

	v, _ := ParseVersion("2.0")
	for i := 0; i < 3; i++ {
		if _, err := sm.GetDependencies(ctx, "pkg-a", v); err != nil {
			t.Fatal(err)
		}
	}
	if src.depCalls != 1 {
		t.Errorf("delegate saw %d GetDependencies calls, want 1", src.depCalls)
	}

	sm.Release()
	if _, err := sm.ListVersions(ctx, "pkg-b"); err == nil {
		t.Error("calls after Release must fail")
	}
}
