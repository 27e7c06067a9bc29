package pps

import (
	"strconv"
	"strings"
	"sync"
)

// Version is a tuple-ized release version: the dot-separated numeric
// segments of a version string. A literal "*" segment marks a wildcard and
// terminates the tuple; everything after it is dropped. Versions are value
// types and safe to copy.
type Version struct {
	segments []uint64
	wildcard bool
	original string
}

var emptyVersion = Version{}

// ParseVersion tuplizes a version string. It splits on ".", stops at a
// literal "*" segment, and parses all remaining segments as non-negative
// integers. Any non-wildcard segment that is not numeric produces a
// malformed-version ParseError.
func ParseVersion(s string) (Version, error) {
	body := strings.TrimSpace(s)
	if body == "" {
		return emptyVersion, newParseError(failMalformedVersion, s, "empty version")
	}

	v := Version{original: body}
	for _, part := range strings.Split(body, ".") {
		if part == "*" {
			v.wildcard = true
			break
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return emptyVersion, newParseError(failMalformedVersion, s, "segment %q is not numeric", part)
		}
		v.segments = append(v.segments, n)
	}
	return v, nil
}

// mustVersion is for statically known-good version literals in this package.
func mustVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	if v.original != "" {
		return v.original
	}
	parts := make([]string, len(v.segments))
	for i, n := range v.segments {
		parts[i] = strconv.FormatUint(n, 10)
	}
	if v.wildcard {
		parts = append(parts, "*")
	}
	return strings.Join(parts, ".")
}

// Segments returns a copy of the numeric tuple.
func (v Version) Segments() []uint64 {
	out := make([]uint64, len(v.segments))
	copy(out, v.segments)
	return out
}

// Wildcard reports whether the version ended in a "*" segment.
func (v Version) Wildcard() bool { return v.wildcard }

func (v Version) isZero() bool {
	return v.segments == nil && !v.wildcard && v.original == ""
}

// segment returns the i'th numeric segment, zero-padding past the end. This
// gives "1.0" == "1.0.0" semantics for comparisons.
func (v Version) segment(i int) uint64 {
	if i < len(v.segments) {
		return v.segments[i]
	}
	return 0
}

// Compare orders two versions lexicographically over their zero-padded
// tuples: -1 if v < o, 0 if equal, 1 if v > o. Wildcard markers are ignored
// for ordering purposes.
func (v Version) Compare(o Version) int {
	n := len(v.segments)
	if len(o.segments) > n {
		n = len(o.segments)
	}
	for i := 0; i < n; i++ {
		a, b := v.segment(i), o.segment(i)
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
	}
	return 0
}

// Equal reports tuple equality under zero padding.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// hasPrefix reports whether o's explicit segments are a prefix of v's
// zero-padded tuple. Used for wildcard ("==1.2.*") and compatible-release
// matching.
func (v Version) hasPrefix(o Version) bool {
	for i := range o.segments {
		if v.segment(i) != o.segments[i] {
			return false
		}
	}
	return true
}

// truncate returns a copy keeping only the first n segments.
func (v Version) truncate(n int) Version {
	if n >= len(v.segments) {
		return Version{segments: v.Segments(), wildcard: v.wildcard}
	}
	segs := make([]uint64, n)
	copy(segs, v.segments[:n])
	return Version{segments: segs}
}

// sortVersions orders a slice ascending in place and returns it.
func sortVersions(vs []Version) []Version {
	for i := 1; i < len(vs); i++ {
		for j := i; j > 0 && vs[j].Compare(vs[j-1]) < 0; j-- {
			vs[j], vs[j-1] = vs[j-1], vs[j]
		}
	}
	return vs
}

// ParseCache memoizes version tuplization. It is owned by whoever
// constructs it (typically the caller of the solver) rather than being
// process-global, so tests and concurrent resolutions stay isolated.
type ParseCache struct {
	mu       sync.Mutex
	versions map[string]Version
}

// NewParseCache returns an empty cache.
func NewParseCache() *ParseCache {
	return &ParseCache{versions: make(map[string]Version)}
}

// Version parses s through the cache.
func (c *ParseCache) Version(s string) (Version, error) {
	if c == nil {
		return ParseVersion(s)
	}
	c.mu.Lock()
	v, ok := c.versions[s]
	c.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := ParseVersion(s)
	if err != nil {
		return emptyVersion, err
	}
	c.mu.Lock()
	c.versions[s] = v
	c.mu.Unlock()
	return v, nil
}
