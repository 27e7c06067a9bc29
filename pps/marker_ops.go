package pps

import (
	"regexp"
	"sort"
	"strings"
)

// Interpreter versions that still show up in published metadata but are
// long dead. An exclusion against any one of them expands to exclude the
// whole list.
var deprecatedPythonVersions = []string{"3.0", "3.1", "3.2", "3.3"}

var microVersionRe = regexp.MustCompile(`\d+\.\d+\.\d+`)

// Strip returns a copy of the marker with every leaf referencing variable
// removed, along with whether anything was removed. The connective adjacent
// to a removed leaf is deleted with it: the preceding one when present,
// otherwise the following one. When nothing remains, the marker is nil.
//
// Metadata generators and-join "extra == ..." clauses onto markers, so
// stripping "extra" reliably detaches them; python_version clauses may be
// joined either way and are handled the same.
func (m *Marker) Strip(variable string) (*Marker, bool) {
	if m == nil {
		return nil, false
	}
	elems, removed := stripSeq(m.elems, variable)
	return markerFrom(elems), removed
}

func stripSeq(elems markerGroup, variable string) (markerGroup, bool) {
	out := make(markerGroup, 0, len(elems))
	removed := false
	for _, el := range elems {
		switch el := el.(type) {
		case markerLeaf:
			if el.variable == variable {
				out = dropAdjoiningJoin(out)
				removed = true
				continue
			}
			out = append(out, el)
		case markerGroup:
			inner, r := stripSeq(el, variable)
			removed = removed || r
			if len(inner) == 0 {
				out = dropAdjoiningJoin(out)
				continue
			}
			out = append(out, inner)
		default:
			out = append(out, el)
		}
	}
	// A leading join survives when the first atom was removed.
	if len(out) > 0 {
		if _, ok := out[0].(markerJoin); ok {
			out = out[1:]
		}
	}
	return out, removed
}

func dropAdjoiningJoin(elems markerGroup) markerGroup {
	if len(elems) == 0 {
		return elems
	}
	if _, ok := elems[len(elems)-1].(markerJoin); ok {
		return elems[:len(elems)-1]
	}
	return elems
}

// Collect gathers every literal compared against variable, anywhere in the
// tree, as a sorted deduplicated list.
func (m *Marker) Collect(variable string) []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool)
	var walk func(markerGroup)
	walk = func(elems markerGroup) {
		for _, el := range elems {
			switch el := el.(type) {
			case markerLeaf:
				if el.variable == variable {
					seen[el.value] = true
				}
			case markerGroup:
				walk(el)
			}
		}
	}
	walk(m.elems)
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether any leaf references variable.
func (m *Marker) Contains(variable string) bool {
	if m == nil {
		return false
	}
	var walk func(markerGroup) bool
	walk = func(elems markerGroup) bool {
		for _, el := range elems {
			switch el := el.(type) {
			case markerLeaf:
				if el.variable == variable {
					return true
				}
			case markerGroup:
				if walk(el) {
					return true
				}
			}
		}
		return false
	}
	return walk(m.elems)
}

// splitSpecifierSetString expands a comma- (or space-) separated version
// list into specifiers with the given operator prefix. Exclusions touching
// a deprecated interpreter version drag the rest of the deprecated list in
// with them.
func splitSpecifierSetString(values string, op Operator) (SpecifierSet, error) {
	var parts []string
	if !strings.Contains(values, ",") && strings.Contains(values, " ") {
		parts = strings.Fields(values)
	} else {
		parts = strings.Split(values, ",")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if op == OpNe {
		for _, dep := range deprecatedPythonVersions {
			for _, have := range parts {
				if have == dep {
					parts = append(parts, deprecatedPythonVersions...)
					break
				}
			}
		}
	}

	var out SpecifierSet
	for _, p := range parts {
		if p == "" {
			continue
		}
		v, err := ParseVersion(p)
		if err != nil {
			return SpecifierSet{}, err
		}
		out = out.add(Specifier{op: op, version: v})
	}
	return out, nil
}

func leafSpecifiers(l markerLeaf) (SpecifierSet, error) {
	switch l.op {
	case "in":
		return splitSpecifierSetString(l.value, OpEq)
	case "not in":
		return splitSpecifierSetString(l.value, OpNe)
	}
	return ParseSpecifierSet(l.op + l.value)
}

// PythonSpecifierSet converts the marker's interpreter-version constraints
// into a SpecifierSet: "and" groups intersect, "or" groups union, nested
// groups recurse, and the folding runs through Collapse. Leaves referencing
// variables other than python_version/python_full_version are ignored.
func (m *Marker) PythonSpecifierSet() (SpecifierSet, error) {
	if m == nil {
		return SpecifierSet{}, nil
	}
	return pySpecSeq(m.elems)
}

func pySpecSeq(elems markerGroup) (SpecifierSet, error) {
	// Accumulate and-terms, then fold the or-separated terms together.
	var terms []SpecifierSet
	term := SpecifierSet{}

	flush := func() {
		if !term.Empty() {
			terms = append(terms, term.Collapse(JoinAnd))
		}
		term = SpecifierSet{}
	}

	for _, el := range elems {
		switch el := el.(type) {
		case markerJoin:
			if el == "or" {
				flush()
			}
		case markerLeaf:
			if el.variable != "python_version" && el.variable != "python_full_version" {
				continue
			}
			specs, err := leafSpecifiers(el)
			if err != nil {
				return SpecifierSet{}, err
			}
			for _, sp := range specs.specs {
				term = term.add(sp)
			}
		case markerGroup:
			inner, err := pySpecSeq(el)
			if err != nil {
				return SpecifierSet{}, err
			}
			for _, sp := range inner.specs {
				term = term.add(sp)
			}
		}
	}
	flush()

	if len(terms) == 0 {
		return SpecifierSet{}, nil
	}
	union := terms[0]
	for _, t := range terms[1:] {
		for _, sp := range t.specs {
			union = union.add(sp)
		}
		union = union.Collapse(JoinOr)
	}
	return union, nil
}

// formatPyVersionPair renders one collapsed (operator, value) pair as a
// marker clause, switching to python_full_version when the value carries a
// micro component.
func formatPyVersionPair(p collapsedPair) string {
	variable := "python_version"
	if microVersionRe.MatchString(p.value) {
		variable = "python_full_version"
	}
	return variable + " " + p.op + " '" + p.value + "'"
}

// Normalize re-serializes the marker with its interpreter-version clauses
// collapsed into canonical specifier form. Repeated merges stay stable
// because the python clause is always re-synthesized rather than
// accumulated.
func (m *Marker) Normalize() (*Marker, error) {
	if m == nil {
		return nil, nil
	}
	s, err := normalizeMarkerString(m)
	if err != nil || s == "" {
		return nil, err
	}
	return ParseMarker(s)
}

func normalizeMarkerString(m *Marker) (string, error) {
	specs, err := m.PythonSpecifierSet()
	if err != nil {
		return "", err
	}
	rest, _ := m.Strip("python_version")
	rest, _ = rest.Strip("python_full_version")

	var parts []string
	for _, p := range specs.collapsePairs(JoinOr) {
		parts = append(parts, formatPyVersionPair(p))
	}
	out := strings.Join(parts, " and ")
	if rest != nil {
		if out != "" {
			out = out + " and " + rest.String()
		} else {
			out = rest.String()
		}
	}
	return out, nil
}

// MergeMarkers conjoins two markers. Either side may be nil, in which case
// the other is returned as-is; otherwise both sides are independently
// normalized and joined with "and".
func MergeMarkers(a, b *Marker) (*Marker, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	as, err := normalizeMarkerString(a)
	if err != nil {
		return nil, err
	}
	bs, err := normalizeMarkerString(b)
	if err != nil {
		return nil, err
	}
	switch {
	case as == "":
		return ParseMarker(bs)
	case bs == "":
		return ParseMarker(as)
	}
	return ParseMarker(as + " and " + bs)
}

// MarkerFromSpecifier synthesizes an interpreter-version marker from a
// requires-python style specifier string. "any"-ish inputs produce nil.
func MarkerFromSpecifier(spec string) (*Marker, error) {
	trimmed := strings.TrimSpace(strings.ToLower(spec))
	switch trimmed {
	case "", "any", "<any>", "*":
		return nil, nil
	}
	specs, err := ParseSpecifierSet(spec)
	if err != nil {
		return nil, err
	}
	var parts []string
	for _, p := range specs.collapsePairs(JoinOr) {
		parts = append(parts, formatPyVersionPair(p))
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return ParseMarker(strings.Join(parts, " and "))
}
