package pps

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Requirement is the closed sum of the three installable forms: a named
// package resolved from an index, a local or remote file source, and a
// VCS checkout. Construct one with FromLine or FromManifest; the only
// post-construction mutations allowed are appending hashes and the
// one-shot ResolveName transition for sources parsed without a name.
type Requirement interface {
	// Name returns the package name with its original casing. It is empty
	// for an unnamed local source whose metadata has not been read yet.
	Name() string
	// CanonicalName is the comparison form of Name: lower-cased, with
	// underscores and dots folded to hyphens.
	CanonicalName() string
	Markers() *Marker
	Extras() []string
	Hashes() []string
	AddHash(h string)
	Index() string
	Editable() bool
	// ResolveName populates the name of a requirement constructed without
	// one. It fails if a name is already set; a Requirement's name is
	// written at most once.
	ResolveName(name string) error

	// ToLine renders the requirement as a pip-compatible line that
	// ParseLine accepts and FromLine rebuilds into an equal value.
	ToLine() string
	// ToManifest renders the requirement as a manifest record. The name
	// is the record's key and is not repeated inside the entry.
	ToManifest() ManifestEntry

	reqVariant()
}

// CanonicalName normalizes a package name for comparison: PEP 503 style,
// lower-cased with runs of "-", "_" and "." treated as equivalent.
func CanonicalName(name string) string {
	return strings.ToLower(nameFolder.Replace(name))
}

var nameFolder = strings.NewReplacer("_", "-", ".", "-")

// envelope carries the fields common to every requirement variant.
type envelope struct {
	name    string
	markers *Marker
	extras  []string
	hashes  []string
	index   string
}

func (e *envelope) Name() string          { return e.name }
func (e *envelope) CanonicalName() string { return CanonicalName(e.name) }
func (e *envelope) Markers() *Marker      { return e.markers }
func (e *envelope) Index() string         { return e.index }

func (e *envelope) Extras() []string {
	return append([]string(nil), e.extras...)
}

func (e *envelope) Hashes() []string {
	return append([]string(nil), e.hashes...)
}

func (e *envelope) AddHash(h string) {
	for _, have := range e.hashes {
		if have == h {
			return
		}
	}
	e.hashes = append(e.hashes, h)
}

func (e *envelope) ResolveName(name string) error {
	if e.name != "" {
		return errors.Errorf("requirement already named %q, refusing rename to %q", e.name, name)
	}
	if name == "" {
		return errors.New("cannot resolve requirement to an empty name")
	}
	e.name = name
	return nil
}

func (e *envelope) extrasSuffix() string {
	if len(e.extras) == 0 {
		return ""
	}
	return "[" + strings.Join(e.extras, ",") + "]"
}

// lineSuffix renders the trailing marker clause and hash tokens. URL-form
// lines take a spaced semicolon so the marker separator stays
// distinguishable from query-string semicolons.
func (e *envelope) lineSuffix(urlForm, withHashes bool) string {
	var buf bytes.Buffer
	if e.markers != nil {
		if urlForm {
			buf.WriteString(" ; ")
		} else {
			buf.WriteString("; ")
		}
		buf.WriteString(e.markers.String())
	}
	if withHashes {
		for _, h := range e.hashes {
			buf.WriteString(" --hash=")
			buf.WriteString(h)
		}
	}
	return buf.String()
}

func (e *envelope) fillManifest(entry *ManifestEntry, withHashes bool) {
	entry.Extras = append([]string(nil), e.extras...)
	if e.markers != nil {
		entry.Markers = e.markers.String()
	}
	entry.Index = e.index
	if withHashes {
		entry.Hashes = append([]string(nil), e.hashes...)
	}
}

// NamedRequirement is a package resolved from an index by name and
// version range.
type NamedRequirement struct {
	envelope
	specifiers SpecifierSet
}

func (*NamedRequirement) reqVariant()    {}
func (*NamedRequirement) Editable() bool { return false }

func (r *NamedRequirement) Specifiers() SpecifierSet { return r.specifiers }

func (r *NamedRequirement) ToLine() string {
	var buf bytes.Buffer
	buf.WriteString(r.name)
	buf.WriteString(r.extrasSuffix())
	if !r.specifiers.Empty() {
		buf.WriteString(r.specifiers.String())
	}
	buf.WriteString(r.lineSuffix(false, true))
	return buf.String()
}

func (r *NamedRequirement) ToManifest() ManifestEntry {
	entry := ManifestEntry{Version: "*"}
	if !r.specifiers.Empty() {
		entry.Version = r.specifiers.String()
	}
	r.fillManifest(&entry, true)
	return entry
}

// FileRequirement is a local directory, local archive, or remote archive
// source. Exactly one of Path and URI is the primary source; a local
// file: URI populates both.
type FileRequirement struct {
	envelope
	path         string
	uri          *URI
	editable     bool
	subdirectory string
}

func (*FileRequirement) reqVariant() {}

func (r *FileRequirement) Editable() bool       { return r.editable }
func (r *FileRequirement) Path() string         { return r.path }
func (r *FileRequirement) URI() *URI            { return r.uri }
func (r *FileRequirement) Subdirectory() string { return r.subdirectory }

// Local reports whether the source lives on the local filesystem.
func (r *FileRequirement) Local() bool { return r.path != "" }

func (r *FileRequirement) ToLine() string {
	var buf bytes.Buffer
	if r.editable {
		buf.WriteString("-e ")
	}
	if r.uri != nil {
		buf.WriteString(r.uri.ToString(false))
	} else {
		buf.WriteString(r.path)
		buf.WriteString(r.extrasSuffix())
	}
	buf.WriteString(r.lineSuffix(true, !r.editable))
	return buf.String()
}

func (r *FileRequirement) ToManifest() ManifestEntry {
	entry := ManifestEntry{
		Editable:     r.editable,
		Subdirectory: r.subdirectory,
	}
	if r.uri != nil && r.path == "" {
		entry.File = bareURIString(r.uri)
	} else {
		entry.Path = r.path
	}
	r.fillManifest(&entry, !r.editable)
	return entry
}

// VCSRequirement is a checkout of a version-control repository, pinned by
// ref rather than by version range.
type VCSRequirement struct {
	envelope
	vcs          string
	uri          *URI
	ref          string
	editable     bool
	subdirectory string
}

func (*VCSRequirement) reqVariant() {}

func (r *VCSRequirement) Editable() bool       { return r.editable }
func (r *VCSRequirement) VCS() string          { return r.vcs }
func (r *VCSRequirement) URI() *URI            { return r.uri }
func (r *VCSRequirement) Ref() string          { return r.ref }
func (r *VCSRequirement) Subdirectory() string { return r.subdirectory }

func (r *VCSRequirement) ToLine() string {
	var buf bytes.Buffer
	if r.editable {
		buf.WriteString("-e ")
	}
	buf.WriteString(r.vcs)
	buf.WriteString("+")
	buf.WriteString(r.uri.ToString(false))
	buf.WriteString(r.lineSuffix(true, false))
	return buf.String()
}

func (r *VCSRequirement) ToManifest() ManifestEntry {
	entry := ManifestEntry{
		Editable:     r.editable,
		Ref:          r.ref,
		Subdirectory: r.subdirectory,
	}
	switch r.vcs {
	case vcsGit:
		entry.Git = bareURIString(r.uri)
	case vcsHg:
		entry.Hg = bareURIString(r.uri)
	case vcsSvn:
		entry.Svn = bareURIString(r.uri)
	case vcsBzr:
		entry.Bzr = bareURIString(r.uri)
	}
	r.fillManifest(&entry, false)
	return entry
}

// bareURIString renders a URI without the ref, egg name, or subdirectory
// decorations, for manifest fields that carry those separately.
func bareURIString(u *URI) string {
	c := *u
	c.Ref = ""
	c.Name = ""
	c.Extras = nil
	c.Subdirectory = ""
	c.Fragment = ""
	return c.ToString(false)
}

// FromLine parses a pip-compatible requirement line and selects the
// matching variant.
func FromLine(raw string) (Requirement, error) {
	ln, err := ParseLine(raw)
	if err != nil {
		return nil, err
	}
	return fromParsedLine(ln)
}

func fromParsedLine(ln *Line) (Requirement, error) {
	env := envelope{
		name:    ln.Name,
		markers: ln.Markers,
		extras:  ln.Extras,
		hashes:  ln.Hashes,
	}

	switch {
	case ln.VCS != "":
		if ln.Name == "" {
			return nil, newParseError(failMissingEggFragment, ln.Raw,
				"%s requirement needs an #egg= name", ln.VCS)
		}
		if ln.URI.Name == "" {
			ln.URI.Name = ln.Name
		}
		return &VCSRequirement{
			envelope:     env,
			vcs:          ln.VCS,
			uri:          ln.URI,
			ref:          ln.Ref,
			editable:     ln.Editable,
			subdirectory: ln.Subdirectory,
		}, nil

	case ln.Path != "" || ln.URI != nil:
		foldURIName(ln.URI, ln.Name, env.extras)
		return &FileRequirement{
			envelope:     env,
			path:         ln.Path,
			uri:          ln.URI,
			editable:     ln.Editable,
			subdirectory: ln.Subdirectory,
		}, nil

	default:
		if ln.Editable {
			return nil, newParseError(failUnparsableRequirement, ln.Raw,
				"only local and VCS sources can be editable")
		}
		return &NamedRequirement{envelope: env, specifiers: ln.Specifiers}, nil
	}
}

// foldURIName copies an externally carried name into a URI that does not
// already encode one, so the serialized line keeps it. A name the artifact
// filename yields anyway stays out of the fragment.
func foldURIName(u *URI, name string, extras []string) {
	if u == nil || name == "" || u.Name != "" {
		return
	}
	if CanonicalName(nameFromArtifact(u.Path)) == CanonicalName(name) {
		return
	}
	u.Name = name
	if len(u.Extras) == 0 && len(extras) > 0 {
		u.Extras = append([]string(nil), extras...)
	}
}

// ManifestEntry is the object form of a manifest record. A bare version
// string in the manifest corresponds to an entry with only Version set.
type ManifestEntry struct {
	Version      string   `toml:"version,omitempty" json:"version,omitempty"`
	Extras       []string `toml:"extras,omitempty" json:"extras,omitempty"`
	Markers      string   `toml:"markers,omitempty" json:"markers,omitempty"`
	Editable     bool     `toml:"editable,omitempty" json:"editable,omitempty"`
	Path         string   `toml:"path,omitempty" json:"path,omitempty"`
	File         string   `toml:"file,omitempty" json:"file,omitempty"`
	Git          string   `toml:"git,omitempty" json:"git,omitempty"`
	Hg           string   `toml:"hg,omitempty" json:"hg,omitempty"`
	Svn          string   `toml:"svn,omitempty" json:"svn,omitempty"`
	Bzr          string   `toml:"bzr,omitempty" json:"bzr,omitempty"`
	Ref          string   `toml:"ref,omitempty" json:"ref,omitempty"`
	Subdirectory string   `toml:"subdirectory,omitempty" json:"subdirectory,omitempty"`
	Index        string   `toml:"index,omitempty" json:"index,omitempty"`
	Hashes       []string `toml:"hashes,omitempty" json:"hashes,omitempty"`
}

func (e ManifestEntry) vcsField() (kind, url string, ok bool) {
	switch {
	case e.Git != "":
		return vcsGit, e.Git, true
	case e.Hg != "":
		return vcsHg, e.Hg, true
	case e.Svn != "":
		return vcsSvn, e.Svn, true
	case e.Bzr != "":
		return vcsBzr, e.Bzr, true
	}
	return "", "", false
}

// FromManifest builds a Requirement from a manifest record keyed by name.
func FromManifest(name string, entry ManifestEntry) (Requirement, error) {
	env := envelope{
		name:   name,
		extras: normalizeExtras(entry.Extras),
		hashes: append([]string(nil), entry.Hashes...),
		index:  entry.Index,
	}
	if entry.Markers != "" {
		m, err := ParseMarker(entry.Markers)
		if err != nil {
			return nil, err
		}
		env.markers = m
	}

	if kind, url, ok := entry.vcsField(); ok {
		if name == "" {
			return nil, newParseError(failMissingEggFragment, url,
				"%s manifest entry needs a name", kind)
		}
		u, err := ParseURI(url)
		if err != nil {
			return nil, err
		}
		u.Name = name
		u.Extras = env.extras
		u.Ref = entry.Ref
		u.Subdirectory = entry.Subdirectory
		return &VCSRequirement{
			envelope:     env,
			vcs:          kind,
			uri:          u,
			ref:          entry.Ref,
			editable:     entry.Editable,
			subdirectory: entry.Subdirectory,
		}, nil
	}

	if entry.Path != "" || entry.File != "" {
		r := &FileRequirement{
			envelope:     env,
			path:         entry.Path,
			editable:     entry.Editable,
			subdirectory: entry.Subdirectory,
		}
		if entry.File != "" {
			u, err := ParseURI(entry.File)
			if err != nil {
				return nil, err
			}
			u.Subdirectory = entry.Subdirectory
			foldURIName(u, name, env.extras)
			r.uri = u
			if u.Scheme == "file" && r.path == "" {
				r.path = u.Path
			}
		}
		return r, nil
	}

	r := &NamedRequirement{envelope: env}
	if entry.Version != "" && entry.Version != "*" {
		specs, err := ParseSpecifierSet(entry.Version)
		if err != nil {
			return nil, err
		}
		r.specifiers = specs
	}
	return r, nil
}

// requirementString is the identifier used in errors and logs: the
// canonical name when known, otherwise the source location.
func requirementString(r Requirement) string {
	if r.Name() != "" {
		return r.CanonicalName()
	}
	switch t := r.(type) {
	case *FileRequirement:
		if t.path != "" {
			return t.path
		}
		return t.uri.String()
	case *VCSRequirement:
		return fmt.Sprintf("%s+%s", t.vcs, t.uri.String())
	}
	return "(unnamed)"
}
