package pps

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sdboyer/constext"
)

// SourceManager is the resolver's window onto a package index. The
// network client behind it is injected by the caller; the resolver only
// depends on this contract.
type SourceManager interface {
	// ListVersions returns every version published for the canonical
	// package name.
	ListVersions(ctx context.Context, name string) ([]Version, error)
	// GetDependencies returns the requirements declared by name at v.
	GetDependencies(ctx context.Context, name string, v Version) ([]Requirement, error)
	// Hashes returns the artifact hashes published for name at v.
	Hashes(ctx context.Context, name string, v Version) ([]string, error)
}

// CachingSourceManager wraps a SourceManager with a memory cache and a
// lifetime: Release cancels every in-flight and future call, regardless
// of the caller-supplied context. Calls see the conjunction of both
// contexts, so either side can end them.
type CachingSourceManager struct {
	delegate SourceManager

	lifetime context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	versions map[string][]Version
	deps     map[depKey][]Requirement
}

type depKey struct {
	name    string
	version string
}

func NewCachingSourceManager(delegate SourceManager) *CachingSourceManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &CachingSourceManager{
		delegate: delegate,
		lifetime: ctx,
		cancel:   cancel,
		versions: make(map[string][]Version),
		deps:     make(map[depKey][]Requirement),
	}
}

// Release ends the manager's lifetime. Subsequent calls fail with the
// lifetime context's error.
func (sm *CachingSourceManager) Release() {
	sm.cancel()
}

func (sm *CachingSourceManager) ListVersions(ctx context.Context, name string) ([]Version, error) {
	name = CanonicalName(name)
	sm.mu.Lock()
	if vs, ok := sm.versions[name]; ok {
		sm.mu.Unlock()
		return vs, nil
	}
	sm.mu.Unlock()

	ctx, cancel := constext.Cons(ctx, sm.lifetime)
	defer cancel()
	vs, err := sm.delegate.ListVersions(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "listing versions of %s", name)
	}
	vs = sortVersions(vs)

	sm.mu.Lock()
	sm.versions[name] = vs
	sm.mu.Unlock()
	return vs, nil
}

func (sm *CachingSourceManager) GetDependencies(ctx context.Context, name string, v Version) ([]Requirement, error) {
	key := depKey{CanonicalName(name), v.String()}
	sm.mu.Lock()
	if deps, ok := sm.deps[key]; ok {
		sm.mu.Unlock()
		return deps, nil
	}
	sm.mu.Unlock()

	ctx, cancel := constext.Cons(ctx, sm.lifetime)
	defer cancel()
	deps, err := sm.delegate.GetDependencies(ctx, key.name, v)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching dependencies of %s %s", key.name, v)
	}

	sm.mu.Lock()
	sm.deps[key] = deps
	sm.mu.Unlock()
	return deps, nil
}

func (sm *CachingSourceManager) Hashes(ctx context.Context, name string, v Version) ([]string, error) {
	ctx, cancel := constext.Cons(ctx, sm.lifetime)
	defer cancel()
	return sm.delegate.Hashes(ctx, CanonicalName(name), v)
}
