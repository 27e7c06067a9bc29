package pps

import "github.com/pkg/errors"

// AbstractDependency is an unresolved constraint for one package: the set
// of versions that would satisfy every requirement seen for its name so
// far, together with the concrete candidates that realize those versions.
type AbstractDependency struct {
	name       string
	specifiers SpecifierSet
	versions   []Version
	candidates []Requirement
	parent     Requirement
}

// newAbstractDependency builds the constraint for a requirement given the
// versions available for its name. Named requirements filter the
// available set through their specifiers; source requirements (VCS,
// local, archive) carry no version set and stand as their own sole
// candidate.
func newAbstractDependency(r Requirement, available []Version, parent Requirement) *AbstractDependency {
	d := &AbstractDependency{
		name:   r.CanonicalName(),
		parent: parent,
	}

	named, ok := r.(*NamedRequirement)
	if !ok {
		d.candidates = []Requirement{r}
		return d
	}

	d.specifiers = named.Specifiers()
	d.versions = sortVersions(d.specifiers.Filter(available))
	for _, v := range d.versions {
		d.candidates = append(d.candidates, pinCandidate(named, v))
	}
	return d
}

// pinCandidate derives the concrete requirement that pins named to
// exactly v, preserving the envelope.
func pinCandidate(named *NamedRequirement, v Version) Requirement {
	return &NamedRequirement{
		envelope:   named.envelope,
		specifiers: NewSpecifierSet(NewSpecifier(OpEq, v)),
	}
}

func (d *AbstractDependency) Name() string { return d.name }

func (d *AbstractDependency) Parent() Requirement { return d.parent }

// Versions returns the admissible version set, sorted ascending. It is
// empty for source dependencies.
func (d *AbstractDependency) Versions() []Version {
	return append([]Version(nil), d.versions...)
}

// Candidates returns the concrete candidates, least-preferred first for
// named dependencies (ascending version order).
func (d *AbstractDependency) Candidates() []Requirement {
	return append([]Requirement(nil), d.candidates...)
}

// Merge intersects two constraints for the same name. An empty
// intersection of two non-empty version sets is a conflict. A source
// dependency, having no version set, absorbs any named constraint.
func (d *AbstractDependency) Merge(o *AbstractDependency) (*AbstractDependency, error) {
	if d.name != o.name {
		return nil, errors.Errorf("cannot merge constraints for %s and %s", d.name, o.name)
	}
	if len(d.versions) == 0 && len(d.specifiers.Specifiers()) == 0 {
		return d.absorb(o), nil
	}
	if len(o.versions) == 0 && len(o.specifiers.Specifiers()) == 0 {
		return o.absorb(d), nil
	}

	inter := intersectVersions(d.versions, o.versions)
	if len(inter) == 0 {
		return nil, &ConflictError{
			Name:           d.name,
			Existing:       d.constraintString(),
			Incoming:       o.constraintString(),
			ExistingParent: parentString(d.parent),
			IncomingParent: parentString(o.parent),
		}
	}

	merged := &AbstractDependency{
		name:       d.name,
		specifiers: d.specifiers.Intersect(o.specifiers),
		versions:   inter,
		parent:     d.parent,
	}
	merged.candidates = dedupeCandidates(append(d.candidates, o.candidates...), inter)
	return merged, nil
}

// absorb keeps a source dependency's own candidates in front of a named
// constraint's, so the source pin wins candidate order.
func (d *AbstractDependency) absorb(o *AbstractDependency) *AbstractDependency {
	merged := &AbstractDependency{
		name:       d.name,
		specifiers: o.specifiers,
		versions:   o.versions,
		parent:     d.parent,
	}
	merged.candidates = dedupeCandidates(append(d.candidates, o.candidates...), o.versions)
	return merged
}

func (d *AbstractDependency) constraintString() string {
	if s := d.specifiers.String(); s != "" {
		return s
	}
	if len(d.versions) == 0 {
		return "*"
	}
	return formatVersionList(d.versions)
}

func parentString(r Requirement) string {
	if r == nil {
		return ""
	}
	return requirementString(r)
}

func intersectVersions(a, b []Version) []Version {
	have := make(map[string]bool, len(b))
	for _, v := range b {
		have[v.String()] = true
	}
	var out []Version
	for _, v := range a {
		if have[v.String()] {
			out = append(out, v)
		}
	}
	return sortVersions(out)
}

// dedupeCandidates drops candidates pinned outside the surviving version
// set and collapses duplicates by their line form. Source candidates,
// carrying no pinned version, always survive.
func dedupeCandidates(cands []Requirement, keep []Version) []Requirement {
	inSet := make(map[string]bool, len(keep))
	for _, v := range keep {
		inSet[v.String()] = true
	}
	seen := make(map[string]bool, len(cands))
	var out []Requirement
	for _, c := range cands {
		if v, ok := pinnedVersion(c); ok && len(keep) > 0 && !inSet[v.String()] {
			continue
		}
		key := c.ToLine()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// pinnedVersion reports the exact version a candidate is pinned to, when
// it is a named requirement with a single == specifier.
func pinnedVersion(r Requirement) (Version, bool) {
	named, ok := r.(*NamedRequirement)
	if !ok {
		return Version{}, false
	}
	specs := named.specifiers.Specifiers()
	if len(specs) != 1 || specs[0].Operator() != OpEq {
		return Version{}, false
	}
	return specs[0].Version(), true
}
