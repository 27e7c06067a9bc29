package pydep

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/pydep/pydep/pps"
)

// LockName is the lockfile filename written next to the Pipfile.
const LockName = "Pipfile.lock"

// pipfileSpec is the lockfile schema revision this codec emits.
const pipfileSpec = 6

// Lock is the resolved, pinned dependency graph in its persistent form.
type Lock struct {
	// PipfileHash is the content hash of the manifest this lock was
	// generated from.
	PipfileHash string
	Requires    Requires
	Sources     []Source
	// Default and Develop map canonical package names to their pins.
	Default map[string]pps.Requirement
	Develop map[string]pps.Requirement
}

type rawLock struct {
	Meta    rawLockMeta                  `json:"_meta"`
	Default map[string]pps.ManifestEntry `json:"default"`
	Develop map[string]pps.ManifestEntry `json:"develop"`
}

type rawLockMeta struct {
	Hash        map[string]string `json:"hash"`
	PipfileSpec int               `json:"pipfile-spec"`
	Requires    Requires          `json:"requires"`
	Sources     []Source          `json:"sources"`
}

// LoadLock reads the lockfile at path.
func LoadLock(path string) (*Lock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	return ReadLock(f)
}

// ReadLock parses a lockfile.
func ReadLock(r io.Reader) (*Lock, error) {
	rl := rawLock{}
	if err := json.NewDecoder(r).Decode(&rl); err != nil {
		return nil, errors.Wrap(err, "parsing lockfile")
	}
	if rl.Meta.PipfileSpec != 0 && rl.Meta.PipfileSpec != pipfileSpec {
		return nil, errors.Errorf("unsupported pipfile-spec %d, want %d", rl.Meta.PipfileSpec, pipfileSpec)
	}

	l := &Lock{
		PipfileHash: rl.Meta.Hash["sha256"],
		Requires:    rl.Meta.Requires,
		Sources:     rl.Meta.Sources,
	}
	var err error
	if l.Default, err = lockGroup(rl.Default); err != nil {
		return nil, err
	}
	if l.Develop, err = lockGroup(rl.Develop); err != nil {
		return nil, err
	}
	return l, nil
}

func lockGroup(entries map[string]pps.ManifestEntry) (map[string]pps.Requirement, error) {
	out := make(map[string]pps.Requirement, len(entries))
	for name, entry := range entries {
		req, err := pps.FromManifest(name, entry)
		if err != nil {
			return nil, errors.Wrapf(err, "locked package %s", name)
		}
		out[pps.CanonicalName(name)] = req
	}
	return out, nil
}

// LockFromResolution assembles a lockfile from the solver's output for
// both requirement groups.
func LockFromResolution(p *Pipfile, def, dev pps.ResolvedSet) (*Lock, error) {
	hash, err := p.Hash()
	if err != nil {
		return nil, err
	}
	l := &Lock{
		PipfileHash: hash,
		Requires:    p.Requires,
		Sources:     p.Sources,
		Default:     make(map[string]pps.Requirement, len(def)),
		Develop:     make(map[string]pps.Requirement, len(dev)),
	}
	for name, entry := range def {
		l.Default[name] = entry.Requirement
	}
	for name, entry := range dev {
		l.Develop[name] = entry.Requirement
	}
	return l, nil
}

func (l *Lock) MarshalJSON() ([]byte, error) {
	raw := rawLock{
		Meta: rawLockMeta{
			Hash:        map[string]string{"sha256": l.PipfileHash},
			PipfileSpec: pipfileSpec,
			Requires:    l.Requires,
			Sources:     l.Sources,
		},
		Default: rawGroup(l.Default),
		Develop: rawGroup(l.Develop),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	err := enc.Encode(raw)
	return buf.Bytes(), err
}

// rawGroup renders one lock section. Keys come out sorted through the
// JSON encoder; the canonical name is the map key.
func rawGroup(group map[string]pps.Requirement) map[string]pps.ManifestEntry {
	out := make(map[string]pps.ManifestEntry, len(group))
	for name, req := range group {
		out[pps.CanonicalName(name)] = req.ToManifest()
	}
	return out
}

// Write renders the lockfile to w.
func (l *Lock) Write(w io.Writer) error {
	data, err := l.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "rendering lockfile")
	}
	_, err = w.Write(data)
	return err
}

// Matches reports whether the lock was generated from a manifest with
// the given content hash.
func (l *Lock) Matches(pipfileHash string) bool {
	return l.PipfileHash != "" && l.PipfileHash == pipfileHash
}

// PinnedNames returns the canonical names pinned in both groups, sorted.
func (l *Lock) PinnedNames() []string {
	seen := make(map[string]bool, len(l.Default)+len(l.Develop))
	for name := range l.Default {
		seen[name] = true
	}
	for name := range l.Develop {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
