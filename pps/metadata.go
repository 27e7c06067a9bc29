package pps

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// Metadata file kinds, in the order they are trusted. Built distribution
// metadata wins over source configuration, which wins over a setup.py
// scrape.
const (
	metaPkgInfo = iota
	metaDistInfo
	metaSetupCfg
	metaPyproject
	metaSetupPy
	metaNone
)

var setupNameRe = regexp.MustCompile(`name\s*=\s*['"]([^'"]+)['"]`)

// skipDirs are tree entries never worth descending into when looking for
// package metadata.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".bzr":         true,
	".tox":         true,
	".venv":        true,
	"__pycache__":  true,
	"node_modules": true,
}

// ReadPackageName discovers the distribution name of a local source tree,
// for requirements parsed from a bare path with no #egg= name. It prefers
// generated metadata (PKG-INFO, *.dist-info/METADATA) and falls back to
// setup.cfg, pyproject.toml, and finally a setup.py scrape.
func ReadPackageName(dir string) (string, error) {
	best := metaNone
	var bestPath string

	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			base := de.Name()
			if de.IsDir() {
				if skipDirs[base] {
					return filepath.SkipDir
				}
				return nil
			}

			kind := metaNone
			switch {
			case base == "PKG-INFO":
				kind = metaPkgInfo
			case base == "METADATA" && strings.HasSuffix(filepath.Dir(osPathname), ".dist-info"):
				kind = metaDistInfo
			case base == "setup.cfg" && filepath.Dir(osPathname) == dir:
				kind = metaSetupCfg
			case base == "pyproject.toml" && filepath.Dir(osPathname) == dir:
				kind = metaPyproject
			case base == "setup.py" && filepath.Dir(osPathname) == dir:
				kind = metaSetupPy
			}
			if kind < best {
				best = kind
				bestPath = osPathname
			}
			return nil
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "scanning %s for package metadata", dir)
	}
	if best == metaNone {
		return "", errors.Errorf("no package metadata found under %s", dir)
	}

	var name string
	switch best {
	case metaPkgInfo, metaDistInfo:
		name, err = nameFromMetadataHeaders(bestPath)
	case metaSetupCfg:
		name, err = nameFromSetupCfg(bestPath)
	case metaPyproject:
		name, err = nameFromPyproject(bestPath)
	case metaSetupPy:
		name, err = nameFromSetupPy(bestPath)
	}
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", errors.Errorf("metadata file %s carries no Name", bestPath)
	}
	return name, nil
}

// nameFromMetadataHeaders reads the Name header of an RFC 822-style
// PKG-INFO or METADATA file.
func nameFromMetadataHeaders(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "opening metadata file")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			// End of headers.
			break
		}
		if strings.HasPrefix(line, "Name:") {
			return strings.TrimSpace(line[len("Name:"):]), nil
		}
	}
	return "", sc.Err()
}

// nameFromSetupCfg reads the name key of the [metadata] section.
func nameFromSetupCfg(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "opening setup.cfg")
	}
	defer f.Close()

	inMetadata := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "["):
			inMetadata = line == "[metadata]"
		case inMetadata:
			for _, sep := range []string{"=", ":"} {
				if k, v, ok := cutKeyValue(line, sep); ok && k == "name" {
					return v, nil
				}
			}
		}
	}
	return "", sc.Err()
}

func cutKeyValue(line, sep string) (key, value string, ok bool) {
	i := strings.Index(line, sep)
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+len(sep):]), true
}

// nameFromPyproject reads project.name, falling back to the poetry table.
func nameFromPyproject(path string) (string, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "parsing pyproject.toml")
	}
	for _, key := range [][]string{
		{"project", "name"},
		{"tool", "poetry", "name"},
		{"tool", "flit", "metadata", "module"},
	} {
		if v, ok := tree.GetPath(key).(string); ok {
			return v, nil
		}
	}
	return "", nil
}

// nameFromSetupPy scrapes the first name= keyword. A crude last resort,
// same as the ecosystem tooling it mirrors.
func nameFromSetupPy(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "reading setup.py")
	}
	if m := setupNameRe.FindSubmatch(data); m != nil {
		return string(m[1]), nil
	}
	return "", nil
}
