package pps

import (
	"sort"
	"strings"
)

// Operator is a PEP 440-style version comparison operator.
type Operator uint8

const (
	OpEq         Operator = iota // ==
	OpNe                         // !=
	OpLt                         // <
	OpLe                         // <=
	OpGt                         // >
	OpGe                         // >=
	OpCompatible                 // ~=
	OpArbitrary                  // ===
)

func (op Operator) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpCompatible:
		return "~="
	case OpArbitrary:
		return "==="
	default:
		return "??"
	}
}

// operator tokens ordered so that longer tokens are matched first.
var opTokens = []struct {
	tok string
	op  Operator
}{
	{"===", OpArbitrary},
	{"==", OpEq},
	{"!=", OpNe},
	{"<=", OpLe},
	{">=", OpGe},
	{"~=", OpCompatible},
	{"<", OpLt},
	{">", OpGt},
}

// maxVersions caps the minor version reachable within each known major
// version, so open bounds can be rewritten as half-open ranges without
// inventing releases that will never exist.
var maxVersions = map[uint64]uint64{
	1: 7,
	2: 7,
	3: 13,
	4: 0,
}

// A Specifier is a single version constraint: an operator and a tuplized
// version. A bare version string parses as an == constraint.
type Specifier struct {
	op      Operator
	version Version
}

// NewSpecifier constructs a specifier from already-parsed parts.
func NewSpecifier(op Operator, v Version) Specifier {
	return Specifier{op: op, version: v}
}

// ParseSpecifier parses "<op><version>". A missing operator implies ==.
func ParseSpecifier(s string) (Specifier, error) {
	body := strings.TrimSpace(s)
	op := OpEq
	for _, cand := range opTokens {
		if strings.HasPrefix(body, cand.tok) {
			op = cand.op
			body = strings.TrimSpace(body[len(cand.tok):])
			break
		}
	}
	if body == "" {
		return Specifier{}, newParseError(failMalformedSpecifier, s, "no version after operator")
	}
	// pyzmq-style "3.7*" is tolerated as "3.7.*"; a bare "*" is the any
	// constraint expressed as a wildcard ==.
	if strings.HasSuffix(body, "*") && !strings.HasSuffix(body, ".*") && body != "*" {
		body = strings.TrimRight(body, "*") + ".*"
	}
	v, err := ParseVersion(body)
	if err != nil {
		return Specifier{}, err
	}
	return Specifier{op: op, version: v}, nil
}

// Operator returns the specifier's comparison operator.
func (sp Specifier) Operator() Operator { return sp.op }

// Version returns the specifier's tuplized version.
func (sp Specifier) Version() Version { return sp.version }

func (sp Specifier) String() string {
	return sp.op.String() + sp.version.String()
}

// Matches reports whether v is admitted by the specifier.
func (sp Specifier) Matches(v Version) bool {
	switch sp.op {
	case OpEq:
		if sp.version.wildcard {
			return v.hasPrefix(sp.version)
		}
		return v.Equal(sp.version)
	case OpNe:
		if sp.version.wildcard {
			return !v.hasPrefix(sp.version)
		}
		return !v.Equal(sp.version)
	case OpLt:
		return v.Compare(sp.version) < 0
	case OpLe:
		return v.Compare(sp.version) <= 0
	case OpGt:
		return v.Compare(sp.version) > 0
	case OpGe:
		return v.Compare(sp.version) >= 0
	case OpCompatible:
		// ~=x.y(.z) is >=x.y(.z) with the leading segments held fixed.
		if len(sp.version.segments) < 2 {
			return v.Equal(sp.version)
		}
		return v.Compare(sp.version) >= 0 && v.hasPrefix(sp.version.truncate(len(sp.version.segments)-1))
	case OpArbitrary:
		return v.String() == sp.version.String()
	}
	return false
}

// normalizeOpenBound prefers half-open [x, y) ranges: ">x.y" becomes
// ">=x.(y+1)" and "<=x.y" becomes "<x.(y+1)", provided the incremented
// version stays within the known ceiling for its major version. Otherwise
// the specifier is returned unchanged.
func normalizeOpenBound(sp Specifier) Specifier {
	var to Operator
	switch sp.op {
	case OpGt:
		to = OpGe
	case OpLe:
		to = OpLt
	default:
		return sp
	}
	if sp.version.wildcard || len(sp.version.segments) == 0 {
		return sp
	}

	major := sp.version.segment(0)
	next := Version{segments: []uint64{major, sp.version.segment(1) + 1}}
	ceiling, known := maxVersions[major]
	if !known || next.segment(1) > ceiling {
		return sp
	}
	return Specifier{op: to, version: next}
}

// SpecifierSet is an unordered set of specifiers, deduplicated by
// (operator, version). The zero value is the empty (match-anything) set.
type SpecifierSet struct {
	specs []Specifier
}

// NewSpecifierSet builds a set from the given specifiers, deduplicating.
func NewSpecifierSet(specs ...Specifier) SpecifierSet {
	var out SpecifierSet
	for _, sp := range specs {
		out = out.add(sp)
	}
	return out
}

// ParseSpecifierSet parses a comma-separated specifier list such as
// ">=1.0,<2.0". The empty string parses as the empty set.
func ParseSpecifierSet(s string) (SpecifierSet, error) {
	var out SpecifierSet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sp, err := ParseSpecifier(part)
		if err != nil {
			return SpecifierSet{}, err
		}
		out = out.add(sp)
	}
	return out, nil
}

func (s SpecifierSet) add(sp Specifier) SpecifierSet {
	for _, have := range s.specs {
		if have.op == sp.op && have.version.String() == sp.version.String() {
			return s
		}
	}
	s.specs = append(s.specs, sp)
	return s
}

// Empty reports whether the set contains no constraints.
func (s SpecifierSet) Empty() bool { return len(s.specs) == 0 }

// Len returns the number of distinct specifiers.
func (s SpecifierSet) Len() int { return len(s.specs) }

// Specifiers returns the members in canonical (version, operator) order.
func (s SpecifierSet) Specifiers() []Specifier {
	out := make([]Specifier, len(s.specs))
	copy(out, s.specs)
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].version.Compare(out[j].version); c != 0 {
			return c < 0
		}
		return out[i].op.String() < out[j].op.String()
	})
	return out
}

// Matches reports whether v satisfies every member of the set.
func (s SpecifierSet) Matches(v Version) bool {
	for _, sp := range s.specs {
		if !sp.Matches(v) {
			return false
		}
	}
	return true
}

// Filter returns the subset of versions admitted by the set, in ascending
// order.
func (s SpecifierSet) Filter(vs []Version) []Version {
	var out []Version
	for _, v := range vs {
		if s.Matches(v) {
			out = append(out, v)
		}
	}
	return sortVersions(out)
}

// String renders the canonical comma-joined form. Two sets whose
// grouped-and-collapsed forms are textually identical are semantically
// equal.
func (s SpecifierSet) String() string {
	specs := s.Specifiers()
	parts := make([]string, len(specs))
	for i, sp := range specs {
		parts[i] = sp.String()
	}
	return strings.Join(parts, ",")
}

// Equal compares the grouped-and-collapsed forms of two sets.
func (s SpecifierSet) Equal(o SpecifierSet) bool {
	return s.Collapse(JoinAnd).String() == o.Collapse(JoinAnd).String()
}

// Intersect returns a set carrying the constraints of both sides.
func (s SpecifierSet) Intersect(o SpecifierSet) SpecifierSet {
	out := NewSpecifierSet(s.specs...)
	for _, sp := range o.specs {
		out = out.add(sp)
	}
	return out.Collapse(JoinAnd)
}

// Join selects the boolean context a specifier group is collapsed under.
type Join uint8

const (
	// JoinAnd collapses toward the tightest bounds (intersection).
	JoinAnd Join = iota
	// JoinOr collapses toward the loosest bounds (union).
	JoinOr
)

// specGroup is one operator bucket produced by groupByOperator. Buckets are
// keyed by operator and by whether the versions carry more than two
// segments, so "3.7" and "3.7.2" never collapse into each other.
type specGroup struct {
	op       Operator
	multi    bool
	versions []Version
}

// groupByOperator buckets the set's members and sorts each bucket's
// versions ascending. Bucket order is stable: by operator token, then by
// segment arity.
func (s SpecifierSet) groupByOperator() []specGroup {
	type key struct {
		op    Operator
		multi bool
	}
	buckets := make(map[key][]Version)
	var order []key
	for _, sp := range s.Specifiers() {
		sp = normalizeOpenBound(sp)
		k := key{op: sp.op, multi: len(sp.version.segments) > 2}
		if _, ok := buckets[k]; !ok {
			order = append(order, k)
		}
		// dedupe within the bucket by tuple
		dup := false
		for _, have := range buckets[k] {
			if have.String() == sp.version.String() {
				dup = true
				break
			}
		}
		if !dup {
			buckets[k] = append(buckets[k], sp.version)
		}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].op != order[j].op {
			return order[i].op.String() < order[j].op.String()
		}
		return !order[i].multi && order[j].multi
	})

	out := make([]specGroup, 0, len(order))
	for _, k := range order {
		out = append(out, specGroup{op: k.op, multi: k.multi, versions: sortVersions(buckets[k])})
	}
	return out
}

// Collapse reduces the set under the given boolean context. Under JoinOr,
// lower bounds keep the loosest (minimum) version and upper bounds the
// loosest (maximum); under JoinAnd the logic inverts. Equality and
// inequality constraints are preserved verbatim.
func (s SpecifierSet) Collapse(j Join) SpecifierSet {
	var out SpecifierSet
	for _, g := range s.groupByOperator() {
		switch g.op {
		case OpGt, OpGe:
			v := g.versions[0]
			if j == JoinAnd {
				v = g.versions[len(g.versions)-1]
			}
			out = out.add(Specifier{op: g.op, version: v})
		case OpLt, OpLe:
			v := g.versions[len(g.versions)-1]
			if j == JoinAnd {
				v = g.versions[0]
			}
			out = out.add(Specifier{op: g.op, version: v})
		default:
			for _, v := range g.versions {
				out = out.add(Specifier{op: g.op, version: v})
			}
		}
	}
	return out
}

// collapsedPair is the display form of one collapsed operator group, used
// when synthesizing marker clauses. Multiple == values Or-joined coalesce
// into an "in" membership, multiple != into "not in".
type collapsedPair struct {
	op    string
	value string
}

func formatVersionList(vs []Version) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// collapsePairs renders the set as (operator, value) pairs under the given
// join, producing membership forms for coalesced equalities.
func (s SpecifierSet) collapsePairs(j Join) []collapsedPair {
	var out []collapsedPair
	for _, g := range s.Collapse(j).groupByOperator() {
		switch g.op {
		case OpEq:
			if len(g.versions) > 1 {
				out = append(out, collapsedPair{op: "in", value: formatVersionList(g.versions)})
				continue
			}
			out = append(out, collapsedPair{op: "==", value: g.versions[0].String()})
		case OpNe:
			if len(g.versions) > 1 {
				out = append(out, collapsedPair{op: "not in", value: formatVersionList(g.versions)})
				continue
			}
			out = append(out, collapsedPair{op: "!=", value: g.versions[0].String()})
		default:
			for _, v := range g.versions {
				out = append(out, collapsedPair{op: g.op.String(), value: v.String()})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].value != out[j].value {
			return out[i].value < out[j].value
		}
		return out[i].op < out[j].op
	})
	return out
}
