package pydep

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pydep/pydep/pps"
)

// Ctx defines the supporting context of one tool invocation: where the
// project lives, where caches go, and how to talk to the user.
type Ctx struct {
	WorkingDir string
	CacheDir   string

	Out     *log.Logger // normal output
	Err     *log.Logger // errors and verbose output
	Verbose bool
}

// SolverLogger builds the structured logger handed to the resolver.
// Verbose runs surface the per-round pinning trace on stderr.
func (c *Ctx) SolverLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if c.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

// PipfilePath locates the manifest, at the working directory or any
// parent of it.
func (c *Ctx) PipfilePath() (string, error) {
	dir := c.WorkingDir
	for {
		p := filepath.Join(dir, PipfileName)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.Errorf("no %s found in %s or any parent", PipfileName, c.WorkingDir)
		}
		dir = parent
	}
}

// LockPath returns the lockfile path next to the manifest.
func (c *Ctx) LockPath() (string, error) {
	p, err := c.PipfilePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(p), LockName), nil
}

// HashCachePath is where the persistent artifact hash cache lives.
func (c *Ctx) HashCachePath() string {
	cd := c.CacheDir
	if cd == "" {
		if ucd, err := os.UserCacheDir(); err == nil {
			cd = filepath.Join(ucd, "pydep")
		} else {
			cd = filepath.Join(os.TempDir(), "pydep")
		}
	}
	return filepath.Join(cd, "hashes.db")
}

// Environment derives the marker environment the resolver evaluates
// against from the manifest's [requires] table. Unset fields leave the
// corresponding marker variables empty, which makes comparisons against
// them false rather than errors.
func (c *Ctx) Environment(req Requires) *pps.MarkerEnvironment {
	env := &pps.MarkerEnvironment{
		PythonVersion:     req.PythonVersion,
		PythonFullVersion: req.PythonFullVersion,
	}
	if env.PythonVersion == "" && env.PythonFullVersion != "" {
		env.PythonVersion = majorMinor(env.PythonFullVersion)
	}
	return env
}

func majorMinor(full string) string {
	parts := strings.SplitN(full, ".", 3)
	if len(parts) < 2 {
		return full
	}
	return parts[0] + "." + parts[1]
}
