package pps

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/Masterminds/vcs"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// VCSGateway is the contract the resolver and lockfile writer use to turn
// a ref-pinned source into a reproducible checkout. Implementations are
// safe for concurrent use across distinct target directories; operations
// against the same directory are serialized internally.
type VCSGateway interface {
	// Obtain clones the remote into dir. Obtaining an already-present
	// checkout is a no-op.
	Obtain(remote, dir string) error
	// CheckoutRef moves an obtained checkout to ref. It does nothing if
	// the working tree is already at ref.
	CheckoutRef(dir, ref string) error
	// Update fetches from remote and, when ref is non-empty, checks it
	// out. The cached revision for dir is invalidated.
	Update(dir, remote, ref string) error
	// Revision returns the canonical commit identifier of the checkout.
	// The result is memoized per dir until the next Update.
	Revision(dir string) (string, error)
}

// RepoGateway implements VCSGateway over the Masterminds/vcs backends,
// one instance per VCS kind. Each target directory is guarded both by an
// in-process mutex and an advisory file lock, so concurrent resolutions
// in separate processes cannot corrupt a shared checkout either.
type RepoGateway struct {
	kind string

	mu        sync.Mutex
	dirLocks  map[string]*sync.Mutex
	repos     map[string]vcs.Repo
	revisions map[string]string
}

var _ VCSGateway = (*RepoGateway)(nil)

// NewRepoGateway returns a gateway for one of the supported VCS kinds
// (git, hg, svn, bzr).
func NewRepoGateway(kind string) (*RepoGateway, error) {
	if !IsVCSKind(kind) {
		return nil, errors.Errorf("unsupported vcs kind %q", kind)
	}
	return &RepoGateway{
		kind:      kind,
		dirLocks:  make(map[string]*sync.Mutex),
		repos:     make(map[string]vcs.Repo),
		revisions: make(map[string]string),
	}, nil
}

// lockDir serializes access to one target directory. The returned func
// releases both the process-local mutex and the file lock.
func (g *RepoGateway) lockDir(dir string) (func(), error) {
	g.mu.Lock()
	l, ok := g.dirLocks[dir]
	if !ok {
		l = new(sync.Mutex)
		g.dirLocks[dir] = l
	}
	g.mu.Unlock()

	l.Lock()
	if err := os.MkdirAll(filepath.Dir(dir), 0777); err != nil {
		l.Unlock()
		return nil, newVcsError(VcsCorrupt, dir, err)
	}
	fl := flock.New(dir + ".lock")
	if err := fl.Lock(); err != nil {
		l.Unlock()
		return nil, newVcsError(VcsCorrupt, dir, err)
	}
	return func() {
		fl.Unlock()
		l.Unlock()
	}, nil
}

func (g *RepoGateway) repo(remote, dir string) (vcs.Repo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.repos[dir]; ok {
		return r, nil
	}

	var r vcs.Repo
	var err error
	switch g.kind {
	case vcsGit:
		r, err = vcs.NewGitRepo(remote, dir)
	case vcsHg:
		r, err = vcs.NewHgRepo(remote, dir)
	case vcsSvn:
		r, err = vcs.NewSvnRepo(remote, dir)
	case vcsBzr:
		r, err = vcs.NewBzrRepo(remote, dir)
	}
	if err != nil {
		return nil, newVcsError(VcsUnreachable, remote, err)
	}
	g.repos[dir] = r
	return r, nil
}

// obtained returns the repo handle for a directory Obtain has already
// populated. Gateway calls against an unknown directory indicate caller
// error, reported as a corrupt checkout.
func (g *RepoGateway) obtained(dir string) (vcs.Repo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.repos[dir]
	if !ok {
		return nil, newVcsError(VcsCorrupt, dir, errors.New("checkout was never obtained"))
	}
	return r, nil
}

func (g *RepoGateway) Obtain(remote, dir string) error {
	unlock, err := g.lockDir(dir)
	if err != nil {
		return err
	}
	defer unlock()

	r, err := g.repo(remote, dir)
	if err != nil {
		return err
	}
	if r.CheckLocal() {
		return nil
	}
	if err := r.Get(); err != nil {
		return newVcsError(VcsUnreachable, remote, err)
	}
	return nil
}

func (g *RepoGateway) CheckoutRef(dir, ref string) error {
	r, err := g.obtained(dir)
	if err != nil {
		return err
	}

	unlock, err := g.lockDir(dir)
	if err != nil {
		return err
	}
	at, verr := r.Version()
	unlock()
	if verr == nil && at == ref {
		return nil
	}
	return g.Update(dir, r.Remote(), ref)
}

func (g *RepoGateway) Update(dir, remote, ref string) error {
	unlock, err := g.lockDir(dir)
	if err != nil {
		return err
	}
	defer unlock()

	r, err := g.repo(remote, dir)
	if err != nil {
		return err
	}
	if !r.CheckLocal() {
		if err := r.Get(); err != nil {
			return newVcsError(VcsUnreachable, remote, err)
		}
	} else if err := r.Update(); err != nil {
		return newVcsError(VcsUnreachable, remote, err)
	}

	g.mu.Lock()
	delete(g.revisions, dir)
	g.mu.Unlock()

	if ref == "" {
		return nil
	}
	if !r.IsReference(ref) {
		return newVcsError(VcsInvalidRef, remote, errors.Errorf("no such ref %q", ref))
	}
	if err := r.UpdateVersion(ref); err != nil {
		return newVcsError(VcsCorrupt, dir, err)
	}
	return nil
}

func (g *RepoGateway) Revision(dir string) (string, error) {
	g.mu.Lock()
	if rev, ok := g.revisions[dir]; ok {
		g.mu.Unlock()
		return rev, nil
	}
	g.mu.Unlock()

	r, err := g.obtained(dir)
	if err != nil {
		return "", err
	}

	unlock, err := g.lockDir(dir)
	if err != nil {
		return "", err
	}
	defer unlock()

	rev, err := r.Version()
	if err != nil {
		return "", newVcsError(VcsCorrupt, dir, err)
	}
	g.mu.Lock()
	g.revisions[dir] = rev
	g.mu.Unlock()
	return rev, nil
}
