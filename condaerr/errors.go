// Package condaerr defines the mirror engine's error taxonomy.
//
// Errors coming from mirror components should be inspectable via [errors.As]
// as an *Error at some point in the chain. Components should construct an
// Error at the system boundary (HTTP call, archive parse, filesystem write)
// and intermediate layers should prefer fmt.Errorf with "%w" to add context
// rather than wrapping in another Error.
package condaerr

import (
	"fmt"
	"strings"
)

// Error is the mirror engine error domain type.
type Error struct {
	Inner   error
	Kind    Kind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("]")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Inner != nil {
		b.WriteString(": ")
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is] comparison against a Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	if !ok {
		return false
	}
	return e.Kind == k
}

// Unwrap enables [errors.Unwrap] / [errors.As] traversal into Inner.
func (e *Error) Unwrap() error { return e.Inner }

// Kind classifies mirror engine errors per the propagation policy in
// spec.md §7. Kind implements error so that it can be used directly as the
// target of an errors.Is comparison, e.g. errors.Is(err, condaerr.Transient).
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// Config covers malformed configuration, unknown source/target kind,
	// missing required --src-path, or a bad regex. Fatal; aborts the run.
	Config Kind = "config"
	// Source covers an unreachable URL, missing file, corrupt archive, or
	// the special-cased NoMatch (see [NewNoMatch]). Fails that candidate only.
	Source Kind = "source"
	// Auth covers GitHub/Azure/S3 credential rejection (401/403).
	// Non-retryable, fatal.
	Auth Kind = "auth"
	// Format covers a byte stream that parsed as neither .tar.bz2 nor
	// .conda outer container.
	Format Kind = "format"
	// Introspection covers an outer container that parsed but whose
	// info/index.json is missing or malformed.
	Introspection Kind = "introspection"
	// Integrity covers a digest mismatch, including the same <subdir>/<fname>
	// being placed twice in one run with differing content. The Mirror Engine
	// does not abort the run for it: the later writer is kept and the clash is
	// reported in Run's returned error.
	Integrity Kind = "integrity"
	// Sink covers a target write failure (filesystem or network).
	Sink Kind = "sink"
	// Transient wraps network timeouts, 5xx, 429, and connection resets.
	// Only errors of this kind are retried.
	Transient Kind = "transient"
	// Cancelled covers operator interrupt.
	Cancelled Kind = "cancelled"
)

// New constructs an *Error at a system boundary.
func New(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Message: msg}
}

// Wrap constructs an *Error carrying inner as its cause.
func Wrap(op string, kind Kind, inner error, msg string) *Error {
	return &Error{Op: op, Kind: kind, Inner: inner, Message: msg}
}

// NoMatchError is returned by the Selector (and archive-backed Providers)
// when no in-archive entry satisfies the configured regex. It is always a
// Source-kind error.
type NoMatchError struct {
	Pattern   string
	SeenPaths []string
	Truncated bool
}

const maxListedPaths = 50

// NewNoMatch builds a NoMatchError, truncating the listing to maxListedPaths
// entries so error messages stay bounded for very large archives.
func NewNoMatch(pattern string, seen []string) *NoMatchError {
	n := &NoMatchError{Pattern: pattern}
	if len(seen) > maxListedPaths {
		n.SeenPaths = append([]string(nil), seen[:maxListedPaths]...)
		n.Truncated = true
	} else {
		n.SeenPaths = append([]string(nil), seen...)
	}
	return n
}

func (n *NoMatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no archive entry matched %q among %d entries seen", n.Pattern, len(n.SeenPaths))
	if n.Truncated {
		b.WriteString(" (truncated)")
	}
	b.WriteString(":\n")
	for _, p := range n.SeenPaths {
		b.WriteString("\t")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}

// Is reports true for condaerr.Source, satisfying the "special case" note in
// spec.md §7.
func (n *NoMatchError) Is(target error) bool {
	return target == error(Source)
}
