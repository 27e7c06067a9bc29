package pps

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultMaxRounds bounds the pinning loop when convergence is never
// detected.
const defaultMaxRounds = 20

// quietRoundsForStability is how many consecutive rounds must pin the
// same package set before resolution is declared stable. The rule is a
// heuristic: a package introduced very late could in principle slip past
// it, which the round limit backstops.
const quietRoundsForStability = 3

// SolverParams configures one Solver. A zero Environment disables marker
// gating; a zero MaxRounds means defaultMaxRounds.
type SolverParams struct {
	Environment *MarkerEnvironment
	MaxRounds   int
}

// Solver resolves a set of root requirements into one pinned requirement
// per package name. A Solver is reusable; the mutable state of each
// Resolve call lives in a per-run resolverState.
type Solver struct {
	sm        SourceManager
	env       *MarkerEnvironment
	maxRounds int
	log       *logrus.Logger
}

func NewSolver(sm SourceManager, params SolverParams, logger *logrus.Logger) *Solver {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	rounds := params.MaxRounds
	if rounds <= 0 {
		rounds = defaultMaxRounds
	}
	return &Solver{
		sm:        sm,
		env:       params.Environment,
		maxRounds: rounds,
		log:       logger,
	}
}

// ResolvedEntry pairs a pinned requirement with the artifact hashes
// collected for it. Editable and VCS pins always carry an empty hash set.
type ResolvedEntry struct {
	Requirement Requirement
	Hashes      []string
}

// ResolvedSet maps canonical package names to their pins.
type ResolvedSet map[string]ResolvedEntry

// resolverState is the per-run working set. It is created by Resolve,
// never shared between runs, and not safe for concurrent mutation.
type resolverState struct {
	pinned            map[string]Requirement
	constraints       map[string]*AbstractDependency
	candidateVersions map[string][]Version
	history           []map[string]Requirement
}

func newResolverState() *resolverState {
	return &resolverState{
		pinned:            make(map[string]Requirement),
		constraints:       make(map[string]*AbstractDependency),
		candidateVersions: make(map[string][]Version),
	}
}

// addAbstractDep merges a constraint into the state, intersecting with
// any existing constraint for the same name. An empty intersection
// surfaces as a *ConflictError.
func (st *resolverState) addAbstractDep(dep *AbstractDependency) error {
	if existing, ok := st.constraints[dep.name]; ok {
		merged, err := existing.Merge(dep)
		if err != nil {
			return err
		}
		dep = merged
	}
	st.constraints[dep.name] = dep
	st.candidateVersions[dep.name] = dep.versions
	return nil
}

// snapshot copies the constraint maps so a failed candidate attempt can
// be rolled back. Pins are not part of the snapshot: a pin is only
// written after its sub-dependencies merged cleanly.
func (st *resolverState) snapshot() (map[string]*AbstractDependency, map[string][]Version) {
	cons := make(map[string]*AbstractDependency, len(st.constraints))
	for k, v := range st.constraints {
		cons[k] = v
	}
	vers := make(map[string][]Version, len(st.candidateVersions))
	for k, v := range st.candidateVersions {
		vers[k] = v
	}
	return cons, vers
}

func (st *resolverState) restore(cons map[string]*AbstractDependency, vers map[string][]Version) {
	st.constraints = cons
	st.candidateVersions = vers
}

// ResolveLines is the string-input convenience around Resolve.
func (s *Solver) ResolveLines(ctx context.Context, lines []string) (ResolvedSet, error) {
	roots := make([]Requirement, 0, len(lines))
	for _, ln := range lines {
		r, err := FromLine(ln)
		if err != nil {
			return nil, err
		}
		roots = append(roots, r)
	}
	return s.Resolve(ctx, roots)
}

// Resolve seeds the constraint set from roots, runs pinning rounds until
// the pinned set is stable, and collects hashes for the result. Roots
// whose markers evaluate false against the solver's environment are
// dropped up front.
func (s *Solver) Resolve(ctx context.Context, roots []Requirement) (ResolvedSet, error) {
	st := newResolverState()

	for _, r := range roots {
		if !s.applies(r) {
			s.log.WithField("requirement", requirementString(r)).Debug("marker gated out root")
			continue
		}
		dep, err := s.abstractFor(ctx, r, nil)
		if err != nil {
			return nil, err
		}
		if err := st.addAbstractDep(dep); err != nil {
			return nil, err
		}
	}

	stable := false
	quiet := 0
	for round := 0; round < s.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.pinRound(ctx, st); err != nil {
			return nil, err
		}

		snap := make(map[string]Requirement, len(st.pinned))
		for k, v := range st.pinned {
			snap[k] = v
		}
		st.history = append(st.history, snap)

		s.log.WithFields(logrus.Fields{
			"round":  round,
			"pinned": len(snap),
		}).Debug("completed pinning round")

		if round > 0 && samePinnedNames(st.history[round-1], snap) {
			quiet++
			if quiet >= quietRoundsForStability {
				stable = true
				break
			}
		} else {
			quiet = 0
		}
	}
	if !stable {
		return nil, &NoConvergenceError{Rounds: s.maxRounds}
	}

	return s.collectHashes(ctx, st)
}

func samePinnedNames(prev, cur map[string]Requirement) bool {
	if len(prev) != len(cur) {
		return false
	}
	for name := range cur {
		if _, ok := prev[name]; !ok {
			return false
		}
	}
	return true
}

// applies reports whether a requirement's markers hold in the solver's
// environment. No environment means no gating.
func (s *Solver) applies(r Requirement) bool {
	if s.env == nil || r.Markers() == nil {
		return true
	}
	return r.Markers().Eval(s.env)
}

// abstractFor builds the constraint for one requirement, consulting the
// index for the available versions of named packages.
func (s *Solver) abstractFor(ctx context.Context, r Requirement, parent Requirement) (*AbstractDependency, error) {
	if _, ok := r.(*NamedRequirement); !ok {
		return newAbstractDependency(r, nil, parent), nil
	}
	avail, err := s.sm.ListVersions(ctx, r.CanonicalName())
	if err != nil {
		return nil, err
	}
	return newAbstractDependency(r, avail, parent), nil
}

// pinRound runs one pass over every constraint, pinning the most
// preferred viable candidate for each. Committing a pin merges the
// candidate's own dependencies into the constraint set; a merge conflict
// or failed metadata fetch rolls the attempt back and moves to the next
// candidate.
func (s *Solver) pinRound(ctx context.Context, st *resolverState) error {
	names := make([]string, 0, len(st.constraints))
	for name := range st.constraints {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if cur, ok := st.pinned[name]; ok && cur.Editable() {
			continue
		}
		if err := s.pinOne(ctx, st, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Solver) pinOne(ctx context.Context, st *resolverState, name string) error {
	dep := st.constraints[name]
	cands := dep.candidates
	allowed := st.candidateVersions[name]

	var fails []failedCandidate
	// Most preferred first: candidates are in ascending version order.
	for i := len(cands) - 1; i >= 0; i-- {
		cand := cands[i]
		v, hasVersion := pinnedVersion(cand)
		if hasVersion && len(allowed) > 0 && !versionIn(v, allowed) {
			continue
		}
		if cur, ok := st.pinned[name]; ok && cur.ToLine() == cand.ToLine() {
			return nil
		}

		cons, vers := st.snapshot()
		err := s.expandCandidate(ctx, st, cand)
		if err == nil {
			st.pinned[name] = cand
			s.log.WithFields(logrus.Fields{
				"name":      name,
				"candidate": requirementString(cand),
			}).Debug("pinned candidate")
			return nil
		}

		st.restore(cons, vers)
		if _, recoverable := err.(*ConflictError); !recoverable {
			if _, unavailable := err.(*candidateUnavailableError); !unavailable {
				return err
			}
		}
		s.log.WithFields(logrus.Fields{
			"name":      name,
			"candidate": requirementString(cand),
		}).WithError(err).Debug("rejected candidate")
		fails = append(fails, failedCandidate{version: v, err: err})
	}

	if len(fails) > 0 || len(cands) == 0 {
		return &noCandidateError{name: name, fails: fails}
	}
	return nil
}

// candidateUnavailableError marks a metadata fetch failure for one
// candidate. The resolver treats the candidate as nonexistent and moves
// on rather than aborting the round.
type candidateUnavailableError struct {
	cause error
}

func (e *candidateUnavailableError) Error() string {
	return "candidate unavailable: " + e.cause.Error()
}

// expandCandidate merges a candidate's declared dependencies into the
// constraint set. Only named candidates with an exact pin have fetchable
// metadata; source candidates contribute no sub-dependencies here.
func (s *Solver) expandCandidate(ctx context.Context, st *resolverState, cand Requirement) error {
	v, ok := pinnedVersion(cand)
	if !ok {
		return nil
	}

	subs, err := s.sm.GetDependencies(ctx, cand.CanonicalName(), v)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &candidateUnavailableError{cause: err}
	}

	for _, sub := range subs {
		if !s.applies(sub) {
			continue
		}
		subdep, err := s.abstractFor(ctx, sub, cand)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return &candidateUnavailableError{cause: err}
		}
		if err := st.addAbstractDep(subdep); err != nil {
			return err
		}
	}
	return nil
}

func versionIn(v Version, vs []Version) bool {
	for _, o := range vs {
		if v.Equal(o) {
			return true
		}
	}
	return false
}

// collectHashes queries the index for artifact hashes of every pinned
// package, in parallel. Editable and VCS pins get an empty set by
// contract. The resolver state is read-only during collection.
func (s *Solver) collectHashes(ctx context.Context, st *resolverState) (ResolvedSet, error) {
	out := make(ResolvedSet, len(st.pinned))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for name, pin := range st.pinned {
		name, pin := name, pin

		if pin.Editable() {
			out[name] = ResolvedEntry{Requirement: pin}
			continue
		}
		if _, isVCS := pin.(*VCSRequirement); isVCS {
			out[name] = ResolvedEntry{Requirement: pin}
			continue
		}
		v, ok := pinnedVersion(pin)
		if !ok {
			out[name] = ResolvedEntry{Requirement: pin}
			continue
		}

		g.Go(func() error {
			hashes, err := s.sm.Hashes(gctx, name, v)
			if err != nil {
				return err
			}
			for _, h := range hashes {
				pin.AddHash(h)
			}
			mu.Lock()
			out[name] = ResolvedEntry{Requirement: pin, Hashes: hashes}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
