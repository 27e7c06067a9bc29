package pps

import (
	"path"
	"regexp"
	"strings"
)

var (
	nameRe      = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)`)
	directURLRe = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)(\[[^\]]*\])?\s*@\s*(\S+)$`)
	// artifact filenames: name-version(-build)?.<ext>
	artifactExts = []string{".whl", ".tar.gz", ".tar.bz2", ".tgz", ".zip", ".tar"}
)

// Line is the structured form of a single pip-compatible requirement line,
// produced by a single pass over the raw string. It is the parser-level
// record the Requirement model is built from.
type Line struct {
	Raw          string
	Editable     bool
	Markers      *Marker
	Hashes       []string
	Extras       []string
	Name         string
	Specifiers   SpecifierSet
	VCS          string
	URI          *URI
	Path         string
	Ref          string
	Subdirectory string
	DirectURL    bool
}

// ParseLine splits a raw requirement line into its structured parts. The
// pass ordering matters: the editable flag first, then hash tokens, then
// the marker suffix, and only then the installable body.
func ParseLine(raw string) (*Line, error) {
	ln := &Line{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, newParseError(failUnparsableRequirement, raw, "empty requirement")
	}

	s = ln.stripEditable(s)
	s = ln.stripHashes(s)

	var err error
	if s, err = ln.stripMarkers(s); err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, newParseError(failUnparsableRequirement, raw, "nothing left after suffixes")
	}

	if m := directURLRe.FindStringSubmatch(s); m != nil && isURLish(m[3]) {
		ln.Name = m[1]
		if m[2] != "" {
			_, ln.Extras = splitExtrasSuffix(m[1] + m[2])
		}
		ln.DirectURL = true
		s = m[3]
	}

	if kind, rest, ok := deduceVCS(s); ok {
		return ln.parseVCS(kind, rest)
	}
	if looksLikePath(s) {
		return ln.parsePath(s)
	}
	if strings.Contains(s, "://") {
		return ln.parseRemoteArchive(s)
	}
	if ln.DirectURL {
		return nil, newParseError(failUnparsableRequirement, raw, "direct URL %q has no recognizable source", s)
	}
	return ln.parseNamed(s)
}

func (ln *Line) stripEditable(s string) string {
	for _, prefix := range []string{"-e ", "--editable "} {
		if strings.HasPrefix(s, prefix) {
			ln.Editable = true
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	return s
}

func (ln *Line) stripHashes(s string) string {
	for {
		i := strings.Index(s, "--hash=")
		if i < 0 {
			return strings.TrimSpace(s)
		}
		rest := s[i+len("--hash="):]
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			end = len(rest)
		}
		ln.Hashes = append(ln.Hashes, rest[:end])
		s = strings.TrimSpace(s[:i] + rest[end:])
	}
}

// stripMarkers splits a trailing "; marker" clause. Lines that carry a URL
// need a space before the semicolon so the separator cannot be confused
// with a ";" inside a query string; bare names cannot contain one, so any
// semicolon splits.
func (ln *Line) stripMarkers(s string) (string, error) {
	sep := ";"
	if strings.Contains(s, "://") {
		sep = " ; "
	}
	i := strings.Index(s, sep)
	if i < 0 {
		return s, nil
	}
	markerStr := strings.TrimSpace(s[i+len(sep):])
	if markerStr == "" {
		return strings.TrimSpace(s[:i]), nil
	}
	m, err := ParseMarker(markerStr)
	if err != nil {
		return "", err
	}
	ln.Markers = m
	return strings.TrimSpace(s[:i]), nil
}

func (ln *Line) parseVCS(kind, rest string) (*Line, error) {
	u, err := ParseURI(rest)
	if err != nil {
		return nil, err
	}
	u.SplitRef()
	ln.VCS = kind
	ln.URI = u
	ln.Ref = u.Ref
	ln.Subdirectory = u.Subdirectory
	ln.adoptURIName(u)
	return ln, nil
}

func (ln *Line) parsePath(s string) (*Line, error) {
	if strings.HasPrefix(s, "file://") || strings.HasPrefix(s, "file:") {
		u, err := ParseURI(s)
		if err != nil {
			return nil, err
		}
		ln.URI = u
		ln.Path = u.Path
		ln.Subdirectory = u.Subdirectory
		ln.adoptURIName(u)
		return ln, nil
	}

	p := s
	if name, extras := splitExtrasSuffix(p); len(extras) > 0 {
		p = name
		ln.Extras = mergeExtras(ln.Extras, extras)
	}
	ln.Path = p
	return ln, nil
}

func (ln *Line) parseRemoteArchive(s string) (*Line, error) {
	u, err := ParseURI(s)
	if err != nil {
		return nil, err
	}
	ln.URI = u
	ln.Subdirectory = u.Subdirectory
	ln.adoptURIName(u)
	if ln.Name == "" {
		ln.Name = nameFromArtifact(u.Path)
	}
	return ln, nil
}

func (ln *Line) parseNamed(s string) (*Line, error) {
	m := nameRe.FindStringSubmatch(s)
	if m == nil {
		return nil, newParseError(failUnparsableRequirement, ln.Raw, "no package name at %q", s)
	}
	ln.Name = m[1]
	rest := s[len(m[1]):]

	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, newParseError(failUnparsableRequirement, ln.Raw, "unterminated extras list")
		}
		ln.Extras = mergeExtras(ln.Extras, normalizeExtras(strings.Split(rest[1:end], ",")))
		rest = rest[end+1:]
	}

	rest = strings.TrimSpace(rest)
	if rest != "" {
		if !strings.ContainsAny(rest[:1], "=!<>~(") {
			return nil, newParseError(failUnparsableRequirement, ln.Raw, "unexpected trailing %q", rest)
		}
		rest = strings.Trim(rest, "()")
		specs, err := ParseSpecifierSet(rest)
		if err != nil {
			return nil, err
		}
		ln.Specifiers = specs
	}
	return ln, nil
}

func (ln *Line) adoptURIName(u *URI) {
	if u.Name != "" && ln.Name == "" {
		ln.Name = u.Name
	}
	if len(u.Extras) > 0 {
		ln.Extras = mergeExtras(ln.Extras, u.Extras)
	}
}

func mergeExtras(a, b []string) []string {
	return normalizeExtras(append(append([]string(nil), a...), b...))
}

func isURLish(s string) bool {
	if strings.Contains(s, "://") {
		return true
	}
	if _, _, ok := deduceVCS(s); ok {
		return true
	}
	return looksLikePath(s)
}

func looksLikePath(s string) bool {
	if strings.HasPrefix(s, "file:") {
		return true
	}
	if strings.Contains(s, "://") {
		return false
	}
	for _, prefix := range []string{"./", "../", "/", "~", ".\\", "..\\"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	if s == "." || s == ".." {
		return true
	}
	for _, ext := range artifactExts {
		if strings.HasSuffix(s, ext) && strings.ContainsAny(s, "/\\") {
			return true
		}
	}
	return false
}

// nameFromArtifact derives a package name from an archive or wheel
// filename: everything before the first "-" of the version part.
func nameFromArtifact(p string) string {
	base := path.Base(p)
	for _, ext := range artifactExts {
		if strings.HasSuffix(base, ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}
	if i := strings.IndexByte(base, '-'); i > 0 {
		return base[:i]
	}
	return ""
}
