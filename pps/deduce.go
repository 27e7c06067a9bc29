package pps

import (
	"strings"
)

// VCS kinds understood by the deducers and the gateway.
const (
	vcsGit = "git"
	vcsHg  = "hg"
	vcsSvn = "svn"
	vcsBzr = "bzr"
)

var vcsKinds = []string{vcsGit, vcsHg, vcsSvn, vcsBzr}

// IsVCSKind reports whether s names a supported VCS backend.
func IsVCSKind(s string) bool {
	for _, k := range vcsKinds {
		if s == k {
			return true
		}
	}
	return false
}

// A sourceDeducer recognizes one shape of VCS location and extracts the
// backend kind plus the URL the backend should actually be handed.
type sourceDeducer interface {
	// deduce returns the vcs kind and the remaining URL. The boolean
	// reports whether the input matched this deducer at all.
	deduce(s string) (kind, remainder string, ok bool)
}

// vcsPrefixDeducer handles the pip "<vcs>+<url>" prefix convention.
type vcsPrefixDeducer struct {
	kind string
}

func (d vcsPrefixDeducer) deduce(s string) (string, string, bool) {
	prefix := d.kind + "+"
	if !strings.HasPrefix(s, prefix) {
		return "", "", false
	}
	rest := s[len(prefix):]
	// "git+git@host:path" carries no scheme after the prefix; leave the
	// SCP form for the URI parser to normalize.
	return d.kind, rest, true
}

// scpDeducer handles bare "git@host:path" SSH shorthand, which only git
// uses in practice.
type scpDeducer struct{}

func (scpDeducer) deduce(s string) (string, string, bool) {
	if scpSyntaxRe.MatchString(s) && !strings.Contains(s, "://") {
		return vcsGit, s, true
	}
	return "", "", false
}

// hostDeducer recognizes well-known hosting sites by URL prefix. A URL
// whose path names an archive is a plain file source regardless of host;
// those sites serve release tarballs from the same prefix.
type hostDeducer struct {
	kind string
}

func (d hostDeducer) deduce(s string) (string, string, bool) {
	if isArtifactURL(s) {
		return "", "", false
	}
	return d.kind, s, true
}

// isArtifactURL reports whether the location's path, before any query or
// fragment, ends in an archive or wheel extension.
func isArtifactURL(s string) bool {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	for _, ext := range artifactExts {
		if strings.HasSuffix(s, ext) {
			return true
		}
	}
	return false
}

// deducerTrie is a typed wrapper around a radix tree of prefix-matched
// deducers, so call sites never type-assert.
type deducerTrie struct {
	t *radixTree
}

func newDeducerTrie() deducerTrie {
	return deducerTrie{t: newRadixTree()}
}

func (t deducerTrie) insert(prefix string, d sourceDeducer) {
	t.t.insert(prefix, d)
}

func (t deducerTrie) longestPrefix(s string) (sourceDeducer, bool) {
	if v, ok := t.t.longestPrefix(s); ok {
		return v.(sourceDeducer), true
	}
	return nil, false
}

// sourceTrie holds the known URL shapes for VCS deduction. Prefix order is
// handled by the radix tree: the longest matching prefix wins, so
// "git+ssh://" style inputs resolve through the "git+" entry rather than a
// host entry.
func sourceTrie() deducerTrie {
	dxt := newDeducerTrie()

	for _, kind := range vcsKinds {
		dxt.insert(kind+"+", vcsPrefixDeducer{kind: kind})
	}
	dxt.insert("git@", scpDeducer{})
	dxt.insert("git://", hostDeducer{kind: vcsGit})
	dxt.insert("https://github.com/", hostDeducer{kind: vcsGit})
	dxt.insert("http://github.com/", hostDeducer{kind: vcsGit})
	dxt.insert("https://gitlab.com/", hostDeducer{kind: vcsGit})
	dxt.insert("https://git.launchpad.net/", hostDeducer{kind: vcsGit})
	dxt.insert("https://launchpad.net/", hostDeducer{kind: vcsBzr})

	return dxt
}

var defaultSourceTrie = sourceTrie()

// deduceVCS inspects a raw location string and reports the VCS kind it
// implies, along with the URL stripped of any "<vcs>+" prefix. ok is false
// for plain archive URLs and local paths.
func deduceVCS(s string) (kind, remainder string, ok bool) {
	if d, has := defaultSourceTrie.longestPrefix(s); has {
		if kind, rest, matched := d.deduce(s); matched {
			return kind, rest, true
		}
	}
	// Fall back on the vcs extension: anything ending in ".git" before
	// the fragment is a git remote.
	base := s
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	if i := strings.LastIndexByte(base, '@'); i > 0 {
		base = base[:i]
	}
	if strings.HasSuffix(base, ".git") && strings.Contains(base, "://") {
		return vcsGit, s, true
	}
	return "", s, false
}
