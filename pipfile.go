package pydep

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/pydep/pydep/pps"
)

// PipfileName is the manifest filename looked up in a project root.
const PipfileName = "Pipfile"

// Source is one package index a project may install from.
type Source struct {
	Name      string `toml:"name" json:"name"`
	URL       string `toml:"url" json:"url"`
	VerifySSL bool   `toml:"verify_ssl" json:"verify_ssl"`
}

// DefaultSource is assumed when a Pipfile declares no [[source]] tables.
var DefaultSource = Source{
	Name:      "pypi",
	URL:       "https://pypi.org/simple",
	VerifySSL: true,
}

// Requires carries the interpreter constraints of the [requires] table.
type Requires struct {
	PythonVersion     string `toml:"python_version,omitempty" json:"python_version,omitempty"`
	PythonFullVersion string `toml:"python_full_version,omitempty" json:"python_full_version,omitempty"`
}

// Pipfile is the parsed manifest: declared requirements split into the
// default and development groups, plus index sources and interpreter
// requirements.
type Pipfile struct {
	Sources     []Source
	Packages    map[string]pps.Requirement
	DevPackages map[string]pps.Requirement
	Requires    Requires
}

type rawPipfile struct {
	Source      []Source               `toml:"source"`
	Packages    map[string]interface{} `toml:"packages"`
	DevPackages map[string]interface{} `toml:"dev-packages"`
	Requires    Requires               `toml:"requires"`
}

// LoadPipfile reads the manifest at path.
func LoadPipfile(path string) (*Pipfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	return ReadPipfile(f)
}

// ReadPipfile parses a Pipfile. Each package value may be a bare version
// string or a table of requirement fields; either form is mapped through
// the same manifest entry the requirement model consumes.
func ReadPipfile(r io.Reader) (*Pipfile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading Pipfile")
	}
	raw := rawPipfile{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing Pipfile")
	}

	p := &Pipfile{
		Sources:  raw.Source,
		Requires: raw.Requires,
	}
	if len(p.Sources) == 0 {
		p.Sources = []Source{DefaultSource}
	}

	if p.Packages, err = readGroup(raw.Packages); err != nil {
		return nil, err
	}
	if p.DevPackages, err = readGroup(raw.DevPackages); err != nil {
		return nil, err
	}
	return p, nil
}

func readGroup(group map[string]interface{}) (map[string]pps.Requirement, error) {
	out := make(map[string]pps.Requirement, len(group))
	for name, val := range group {
		entry, err := entryFromValue(name, val)
		if err != nil {
			return nil, err
		}
		req, err := pps.FromManifest(name, entry)
		if err != nil {
			return nil, errors.Wrapf(err, "package %s", name)
		}
		out[pps.CanonicalName(name)] = req
	}
	return out, nil
}

// entryFromValue maps one manifest value onto a ManifestEntry. Marker
// variables may appear as standalone keys ({version = "*", os_name =
// "== 'nt'"}); they are folded into the markers string.
func entryFromValue(name string, val interface{}) (pps.ManifestEntry, error) {
	switch v := val.(type) {
	case string:
		return pps.ManifestEntry{Version: v}, nil
	case map[string]interface{}:
		return entryFromTable(name, v)
	case *toml.Tree:
		return entryFromTable(name, v.ToMap())
	default:
		return pps.ManifestEntry{}, errors.Errorf("package %s: unsupported value type %T", name, val)
	}
}

func entryFromTable(name string, table map[string]interface{}) (pps.ManifestEntry, error) {
	m := &tableMapper{table: table}
	entry := pps.ManifestEntry{
		Version:      m.str("version"),
		Extras:       m.strList("extras"),
		Markers:      m.str("markers"),
		Editable:     m.boolean("editable"),
		Path:         m.str("path"),
		File:         m.str("file"),
		Git:          m.str("git"),
		Hg:           m.str("hg"),
		Svn:          m.str("svn"),
		Bzr:          m.str("bzr"),
		Ref:          m.str("ref"),
		Subdirectory: m.str("subdirectory"),
		Index:        m.str("index"),
		Hashes:       m.strList("hashes"),
	}
	if m.err != nil {
		return pps.ManifestEntry{}, errors.Wrapf(m.err, "package %s", name)
	}

	markers, err := foldMarkerKeys(entry.Markers, m)
	if err != nil {
		return pps.ManifestEntry{}, errors.Wrapf(err, "package %s", name)
	}
	entry.Markers = markers
	return entry, nil
}

// Write renders the manifest as TOML. Requirements that carry nothing
// but a version range collapse back to the bare string form.
func (p *Pipfile) Write(w io.Writer) error {
	raw := rawPipfile{
		Source:      p.Sources,
		Packages:    writeGroup(p.Packages),
		DevPackages: writeGroup(p.DevPackages),
		Requires:    p.Requires,
	}
	data, err := toml.Marshal(raw)
	if err != nil {
		return errors.Wrap(err, "rendering Pipfile")
	}
	_, err = w.Write(data)
	return err
}

func writeGroup(group map[string]pps.Requirement) map[string]interface{} {
	out := make(map[string]interface{}, len(group))
	for name, req := range group {
		entry := req.ToManifest()
		if bare, ok := bareVersion(entry); ok {
			out[name] = bare
			continue
		}
		out[name] = entryToTable(entry)
	}
	return out
}

// bareVersion reports whether an entry is expressible as a plain version
// string value.
func bareVersion(e pps.ManifestEntry) (string, bool) {
	if e.Version == "" {
		return "", false
	}
	rest := e
	rest.Version = ""
	if rest.Markers != "" || rest.Editable || rest.Path != "" || rest.File != "" ||
		rest.Ref != "" || rest.Subdirectory != "" || rest.Index != "" ||
		len(rest.Extras) > 0 || len(rest.Hashes) > 0 ||
		rest.Git != "" || rest.Hg != "" || rest.Svn != "" || rest.Bzr != "" {
		return "", false
	}
	return e.Version, true
}

func entryToTable(e pps.ManifestEntry) map[string]interface{} {
	t := make(map[string]interface{})
	put := func(key, val string) {
		if val != "" {
			t[key] = val
		}
	}
	put("version", e.Version)
	put("markers", e.Markers)
	put("path", e.Path)
	put("file", e.File)
	put("git", e.Git)
	put("hg", e.Hg)
	put("svn", e.Svn)
	put("bzr", e.Bzr)
	put("ref", e.Ref)
	put("subdirectory", e.Subdirectory)
	put("index", e.Index)
	if e.Editable {
		t["editable"] = true
	}
	if len(e.Extras) > 0 {
		t["extras"] = e.Extras
	}
	if len(e.Hashes) > 0 {
		t["hashes"] = e.Hashes
	}
	return t
}

// tableMapper pulls typed values out of a raw table, accumulating the
// first type error and recording which keys were consumed.
type tableMapper struct {
	table map[string]interface{}
	used  map[string]bool
	err   error
}

func (m *tableMapper) take(key string) (interface{}, bool) {
	v, ok := m.table[key]
	if ok {
		if m.used == nil {
			m.used = make(map[string]bool)
		}
		m.used[key] = true
	}
	return v, ok
}

func (m *tableMapper) str(key string) string {
	v, ok := m.take(key)
	if !ok || m.err != nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		m.err = errors.Errorf("key %s should be a string, not %T", key, v)
		return ""
	}
	return s
}

func (m *tableMapper) boolean(key string) bool {
	v, ok := m.take(key)
	if !ok || m.err != nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		m.err = errors.Errorf("key %s should be a boolean, not %T", key, v)
		return false
	}
	return b
}

func (m *tableMapper) strList(key string) []string {
	v, ok := m.take(key)
	if !ok || m.err != nil {
		return nil
	}
	items, ok := v.([]interface{})
	if !ok {
		m.err = errors.Errorf("key %s should be a list of strings, not %T", key, v)
		return nil
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			m.err = errors.Errorf("key %s should hold strings, found %T", key, item)
			return nil
		}
		out[i] = s
	}
	return out
}

// rest returns the unconsumed keys in sorted order.
func (m *tableMapper) rest() []string {
	var keys []string
	for k := range m.table {
		if !m.used[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// foldMarkerKeys merges standalone marker-variable keys into the base
// markers string. python_version values are specifier strings and go
// through the specifier-to-marker synthesis; other variables carry an
// operator and a literal, quoted here when the manifest left it bare.
func foldMarkerKeys(base string, m *tableMapper) (string, error) {
	var merged *pps.Marker
	var err error
	if base != "" {
		if merged, err = pps.ParseMarker(base); err != nil {
			return "", err
		}
	}

	for _, key := range m.rest() {
		if !pps.IsMarkerVariable(key) {
			return "", errors.Errorf("unknown key %q", key)
		}
		val := m.str(key)
		if m.err != nil {
			return "", m.err
		}

		var km *pps.Marker
		if key == "python_version" || key == "python_full_version" {
			km, err = pps.MarkerFromSpecifier(val)
		} else {
			km, err = pps.ParseMarker(key + " " + normalizeMarkerValue(val))
		}
		if err != nil {
			return "", err
		}
		if merged, err = pps.MergeMarkers(merged, km); err != nil {
			return "", err
		}
	}
	if merged == nil {
		return "", nil
	}
	return merged.String(), nil
}

// normalizeMarkerValue turns a manifest marker value ("== 'nt'", "nt")
// into the operator-plus-quoted-literal form the marker grammar expects.
func normalizeMarkerValue(val string) string {
	val = strings.TrimSpace(val)
	for _, op := range []string{"===", "==", "!=", "<=", ">=", "~=", "<", ">", "not in", "in"} {
		if strings.HasPrefix(val, op) {
			lit := strings.TrimSpace(val[len(op):])
			return op + " " + quoteMarkerLiteral(lit)
		}
	}
	return "== " + quoteMarkerLiteral(val)
}

func quoteMarkerLiteral(lit string) string {
	if strings.HasPrefix(lit, "'") || strings.HasPrefix(lit, "\"") {
		return lit
	}
	return "'" + lit + "'"
}

// Hash computes the manifest content hash recorded in the lockfile, so a
// stale lock can be detected without re-resolving. The digest covers the
// declared requirements, sources, and interpreter constraints in their
// canonical JSON form.
func (p *Pipfile) Hash() (string, error) {
	canon := struct {
		Sources  []Source                     `json:"sources"`
		Requires Requires                     `json:"requires"`
		Default  map[string]pps.ManifestEntry `json:"default"`
		Develop  map[string]pps.ManifestEntry `json:"develop"`
	}{
		Sources:  p.Sources,
		Requires: p.Requires,
		Default:  groupEntries(p.Packages),
		Develop:  groupEntries(p.DevPackages),
	}
	data, err := json.Marshal(canon)
	if err != nil {
		return "", errors.Wrap(err, "hashing Pipfile")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func groupEntries(group map[string]pps.Requirement) map[string]pps.ManifestEntry {
	out := make(map[string]pps.ManifestEntry, len(group))
	for name, req := range group {
		out[name] = req.ToManifest()
	}
	return out
}
