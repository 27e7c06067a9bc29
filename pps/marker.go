package pps

import (
	"bytes"
	"strings"

	"github.com/Masterminds/semver"
)

// The fixed set of environment variables a marker may reference. Anything
// else is a hard parse error; an unrecognized variable would otherwise make
// a requirement unconditionally active.
var markerVariables = map[string]bool{
	"python_version":                 true,
	"python_full_version":            true,
	"os_name":                        true,
	"sys_platform":                   true,
	"platform_machine":               true,
	"platform_python_implementation": true,
	"platform_release":               true,
	"platform_system":                true,
	"platform_version":               true,
	"implementation_name":            true,
	"implementation_version":         true,
	"extra":                          true,
}

// IsMarkerVariable reports whether s names one of the recognized marker
// environment variables.
func IsMarkerVariable(s string) bool {
	return markerVariables[s]
}

// versionedVariables compare with version semantics when both operands
// parse as versions; everything else compares as strings.
var versionedVariables = map[string]bool{
	"python_version":         true,
	"python_full_version":    true,
	"implementation_version": true,
}

var markerOperators = map[string]bool{
	"==": true, "!=": true,
	"<": true, "<=": true,
	">": true, ">=": true,
	"in": true, "not in": true,
}

// A marker expression is a flat sequence of elements mirroring its source
// structure: leaves and parenthesized groups interleaved with "and"/"or"
// connectives. "in"/"not in" leaves stay intact until normalization.
type markerElem interface {
	writeTo(buf *bytes.Buffer)
}

type markerLeaf struct {
	variable string
	op       string
	value    string
}

func (l markerLeaf) writeTo(buf *bytes.Buffer) {
	buf.WriteString(l.variable)
	buf.WriteByte(' ')
	buf.WriteString(l.op)
	buf.WriteString(" '")
	buf.WriteString(l.value)
	buf.WriteByte('\'')
}

type markerJoin string

func (j markerJoin) writeTo(buf *bytes.Buffer) {
	buf.WriteString(string(j))
}

type markerGroup []markerElem

func (g markerGroup) writeTo(buf *bytes.Buffer) {
	buf.WriteByte('(')
	g.writeSeq(buf)
	buf.WriteByte(')')
}

func (g markerGroup) writeSeq(buf *bytes.Buffer) {
	for i, el := range g {
		if i > 0 {
			buf.WriteByte(' ')
		}
		el.writeTo(buf)
	}
}

// Marker is an immutable boolean expression over environment variables,
// gating whether a requirement applies. Transformations return new Markers;
// a nil *Marker means "no constraint".
type Marker struct {
	elems markerGroup
}

// ParseMarker parses a PEP 508-style marker expression. Failures are
// ParseErrors and are never recovered silently.
func ParseMarker(s string) (*Marker, error) {
	elems, err := parseMarkerString(s)
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, newParseError(failMalformedMarker, s, "empty marker")
	}
	return &Marker{elems: elems}, nil
}

func markerFrom(elems markerGroup) *Marker {
	if len(elems) == 0 {
		return nil
	}
	return &Marker{elems: elems}
}

func (m *Marker) String() string {
	if m == nil {
		return ""
	}
	var buf bytes.Buffer
	m.elems.writeSeq(&buf)
	return buf.String()
}

// MarkerEnvironment carries the values markers are evaluated against.
type MarkerEnvironment struct {
	PythonVersion                string
	PythonFullVersion            string
	OSName                       string
	SysPlatform                  string
	PlatformMachine              string
	PlatformPythonImplementation string
	PlatformRelease              string
	PlatformSystem               string
	PlatformVersion              string
	ImplementationName           string
	ImplementationVersion        string
	Extra                        string
}

func (env *MarkerEnvironment) lookup(variable string) string {
	switch variable {
	case "python_version":
		return env.PythonVersion
	case "python_full_version":
		return env.PythonFullVersion
	case "os_name":
		return env.OSName
	case "sys_platform":
		return env.SysPlatform
	case "platform_machine":
		return env.PlatformMachine
	case "platform_python_implementation":
		return env.PlatformPythonImplementation
	case "platform_release":
		return env.PlatformRelease
	case "platform_system":
		return env.PlatformSystem
	case "platform_version":
		return env.PlatformVersion
	case "implementation_name":
		return env.ImplementationName
	case "implementation_version":
		return env.ImplementationVersion
	case "extra":
		return env.Extra
	}
	return ""
}

// Eval evaluates the marker against env. "and" binds tighter than "or", as
// in the source grammar; parenthesized groups evaluate recursively. A nil
// marker is unconditionally true.
func (m *Marker) Eval(env *MarkerEnvironment) bool {
	if m == nil {
		return true
	}
	return evalSeq(m.elems, env)
}

func evalSeq(elems markerGroup, env *MarkerEnvironment) bool {
	// Split on "or"; each term is an and-chain.
	term := true
	started := false
	for i := 0; i < len(elems); i++ {
		switch el := elems[i].(type) {
		case markerJoin:
			if el == "or" {
				if started && term {
					return true
				}
				term = true
				started = false
			}
		case markerLeaf:
			term = term && evalLeaf(el, env)
			started = true
		case markerGroup:
			term = term && evalSeq(el, env)
			started = true
		}
	}
	return term
}

func evalLeaf(l markerLeaf, env *MarkerEnvironment) bool {
	lhs := env.lookup(l.variable)
	rhs := l.value

	switch l.op {
	case "in":
		return strings.Contains(rhs, lhs)
	case "not in":
		return !strings.Contains(rhs, lhs)
	}

	if versionedVariables[l.variable] {
		if lv, err := semver.NewVersion(lhs); err == nil {
			if rv, err := semver.NewVersion(rhs); err == nil {
				return compareOp(lv.Compare(rv), l.op)
			}
		}
	}
	return compareOp(strings.Compare(lhs, rhs), l.op)
}

func compareOp(c int, op string) bool {
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}
