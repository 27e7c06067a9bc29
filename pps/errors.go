package pps

import (
	"bytes"
	"fmt"
)

// parseFailure enumerates the ways a requirement line, URI, specifier, or
// marker can fail to parse. Parse failures are always fatal to the single
// parse call that produced them; nothing in this package swallows one.
type parseFailure uint8

const (
	failMalformedVersion parseFailure = iota
	failMalformedSpecifier
	failMalformedMarker
	failMalformedURI
	failUnparsableRequirement
	failMissingEggFragment
)

func (f parseFailure) String() string {
	switch f {
	case failMalformedVersion:
		return "malformed version"
	case failMalformedSpecifier:
		return "malformed specifier"
	case failMalformedMarker:
		return "malformed marker"
	case failMalformedURI:
		return "malformed URI"
	case failUnparsableRequirement:
		return "unparsable requirement"
	case failMissingEggFragment:
		return "missing egg fragment"
	default:
		return "unknown parse failure"
	}
}

// ParseError is returned by all parsing entry points in this package. It
// records the input that could not be parsed alongside a human-oriented
// description of what went wrong.
type ParseError struct {
	failure parseFailure
	input   string
	msg     string
}

func newParseError(f parseFailure, input, format string, args ...interface{}) *ParseError {
	return &ParseError{
		failure: f,
		input:   input,
		msg:     fmt.Sprintf(format, args...),
	}
}

func (e *ParseError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("%s: %q", e.failure, e.input)
	}
	return fmt.Sprintf("%s: %q: %s", e.failure, e.input, e.msg)
}

// IsMalformedVersion reports whether err is a ParseError produced by version
// tuplization.
func IsMalformedVersion(err error) bool {
	pe, ok := err.(*ParseError)
	return ok && pe.failure == failMalformedVersion
}

// IsUnparsableRequirement reports whether err indicates that no installable
// form (URL, VCS source, or bare name plus specifier) was recognized in a
// requirement line.
func IsUnparsableRequirement(err error) bool {
	pe, ok := err.(*ParseError)
	return ok && pe.failure == failUnparsableRequirement
}

// IsMissingEggFragment reports whether err was caused by a VCS requirement
// lacking the #egg= name it needs to be tracked in the dependency graph.
func IsMissingEggFragment(err error) bool {
	pe, ok := err.(*ParseError)
	return ok && pe.failure == failMissingEggFragment
}

// ResolutionError is the common interface of fatal resolution failures. The
// concrete types are *ConflictError and *NoConvergenceError.
type ResolutionError interface {
	error
	resolutionFailure()
}

func (*ConflictError) resolutionFailure()      {}
func (*NoConvergenceError) resolutionFailure() {}

// ConflictError indicates that two constraints on the same package admit no
// common version. It names the package and both offending constraints.
type ConflictError struct {
	// Name is the canonical name of the package whose constraints clashed.
	Name string
	// Existing and Incoming render the two constraint sets that could not
	// be intersected, in the order they were introduced.
	Existing string
	Incoming string
	// ExistingParent and IncomingParent name the requirements that
	// introduced each side, when known.
	ExistingParent string
	IncomingParent string
}

func (e *ConflictError) Error() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "no version of %s satisfies both %s", e.Name, e.Existing)
	if e.ExistingParent != "" {
		fmt.Fprintf(&buf, " (from %s)", e.ExistingParent)
	}
	fmt.Fprintf(&buf, " and %s", e.Incoming)
	if e.IncomingParent != "" {
		fmt.Fprintf(&buf, " (from %s)", e.IncomingParent)
	}
	return buf.String()
}

// NoConvergenceError indicates that the solver exhausted its round budget
// without the pinned set stabilizing.
type NoConvergenceError struct {
	Rounds int
}

func (e *NoConvergenceError) Error() string {
	return fmt.Sprintf("resolution did not converge after %d rounds", e.Rounds)
}

// noCandidateError is the per-package failure raised when every candidate
// for a constraint has been tried and rejected. It aborts the whole
// resolution with the fail reasons attached, mirroring the shape of the
// conflict it usually wraps.
type noCandidateError struct {
	name  string
	fails []failedCandidate
}

type failedCandidate struct {
	version Version
	err     error
}

func (*noCandidateError) resolutionFailure() {}

func (e *noCandidateError) Error() string {
	if len(e.fails) == 0 {
		return fmt.Sprintf("no versions could be found for %s", e.name)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "could not find a version of %s that met constraints:", e.name)
	for _, f := range e.fails {
		fmt.Fprintf(&buf, "\n\t%s: %s", f.version, f.err)
	}
	return buf.String()
}

// vcsFailure classifies gateway errors so callers can decide on a retry
// policy. The gateway itself never retries.
type vcsFailure uint8

const (
	// VcsUnreachable means the remote could not be contacted or cloned.
	VcsUnreachable vcsFailure = iota
	// VcsInvalidRef means the requested ref does not exist in the repository.
	VcsInvalidRef
	// VcsCorrupt means the on-disk working tree is in an unusable state.
	VcsCorrupt
)

func (f vcsFailure) String() string {
	switch f {
	case VcsUnreachable:
		return "unreachable"
	case VcsInvalidRef:
		return "invalid ref"
	case VcsCorrupt:
		return "corrupt checkout"
	default:
		return "unknown vcs failure"
	}
}

// VcsError wraps a failure from a concrete VCS backend with a
// classification and the repository it concerned.
type VcsError struct {
	Failure vcsFailure
	Remote  string
	cause   error
}

func (e *VcsError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("vcs %s: %s", e.Failure, e.Remote)
	}
	return fmt.Sprintf("vcs %s: %s: %s", e.Failure, e.Remote, e.cause)
}

// Cause returns the underlying backend error, for use with pkg/errors.
func (e *VcsError) Cause() error { return e.cause }

func newVcsError(f vcsFailure, remote string, cause error) *VcsError {
	return &VcsError{Failure: f, Remote: remote, cause: cause}
}
