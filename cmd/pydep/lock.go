package main

import (
	"context"
	"flag"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/pydep/pydep"
	"github.com/pydep/pydep/pps"
)

const lockShortHelp = `Resolve the Pipfile and write Pipfile.lock`
const lockLongHelp = `
Lock reads the project's Pipfile, resolves every declared requirement (and
its transitive dependencies) against the configured package index, and
writes the pinned result to Pipfile.lock.

Resolution merges the version constraints of all requirements per package,
pins the highest version satisfying the merged constraint, and repeats
until the pinned set stops changing. Markers are evaluated against the
interpreter declared in [requires]; requirements whose markers are false
are left out of the lock.
`

type lockCommand struct {
	dev       bool
	dryRun    bool
	maxRounds int
	noCache   bool
}

func (cmd *lockCommand) Name() string      { return "lock" }
func (cmd *lockCommand) Args() string      { return "" }
func (cmd *lockCommand) ShortHelp() string { return lockShortHelp }
func (cmd *lockCommand) LongHelp() string  { return lockLongHelp }
func (cmd *lockCommand) Hidden() bool      { return false }

func (cmd *lockCommand) Register(fs *flag.FlagSet) {
	fs.BoolVar(&cmd.dev, "dev", false, "also resolve the dev-packages group")
	fs.BoolVar(&cmd.dryRun, "dry-run", false, "print the lockfile instead of writing it")
	fs.IntVar(&cmd.maxRounds, "max-rounds", 0, "override the resolution round limit")
	fs.BoolVar(&cmd.noCache, "no-cache", false, "bypass the persistent hash cache")
}

func (cmd *lockCommand) Run(ctx *pydep.Ctx, args []string) error {
	if len(args) > 0 {
		return errors.New("lock takes no arguments")
	}

	pipfilePath, err := ctx.PipfilePath()
	if err != nil {
		return err
	}
	p, err := pydep.LoadPipfile(pipfilePath)
	if err != nil {
		return err
	}

	var source pps.SourceManager = newPyPISource(p.Sources[0].URL)
	if !cmd.noCache {
		// Cached hash sets older than thirty days are refreshed.
		epoch := time.Now().AddDate(0, 0, -30).Unix()
		cache, err := pps.NewBoltHashCache(ctx.HashCachePath(), source, epoch, ctx.SolverLogger())
		if err != nil {
			return err
		}
		defer cache.Close()
		source = cache
	}
	sm := pps.NewCachingSourceManager(source)
	defer sm.Release()

	solver := pps.NewSolver(sm, pps.SolverParams{
		Environment: ctx.Environment(p.Requires),
		MaxRounds:   cmd.maxRounds,
	}, ctx.SolverLogger())

	def, err := solver.Resolve(context.Background(), groupRoots(p.Packages))
	if err != nil {
		return errors.Wrap(err, "resolving packages")
	}

	dev := pps.ResolvedSet{}
	if cmd.dev {
		if dev, err = solver.Resolve(context.Background(), groupRoots(p.DevPackages)); err != nil {
			return errors.Wrap(err, "resolving dev-packages")
		}
	}

	lock, err := pydep.LockFromResolution(p, def, dev)
	if err != nil {
		return err
	}

	root := filepath.Dir(pipfilePath)
	existing, _ := pydep.LoadLock(filepath.Join(root, pydep.LockName))

	var sw pydep.SafeWriter
	sw.Prepare(nil, existing, lock)

	if cmd.dryRun {
		return sw.PrintPreparedActions(ctx.Out)
	}

	if !sw.Payload.HasLock() {
		ctx.Out.Printf("%s is already up to date", pydep.LockName)
		return nil
	}
	if err := sw.Write(root); err != nil {
		return errors.Wrapf(err, "writing %s", pydep.LockName)
	}

	ctx.Out.Printf("wrote %s (%d packages)", filepath.Join(root, pydep.LockName), len(lock.PinnedNames()))
	return nil
}

func groupRoots(group map[string]pps.Requirement) []pps.Requirement {
	roots := make([]pps.Requirement, 0, len(group))
	for _, r := range group {
		roots = append(roots, r)
	}
	return roots
}
