// Package provider defines the Source Provider contract (spec.md §4.5):
// something that yields candidate byte streams plus advisory filename
// hints. Concrete kinds (file, urlsrc, ziparchive, tgzarchive, github,
// azure) live in their own subpackages.
//
// Enumerate generalizes the teacher's driver.Updater "fetch by fingerprint"
// shape (one Fetch call per run) into "fetch by enumeration" using Go 1.23's
// range-over-func iterators: a provider may yield zero, one, or many
// candidates from a single Enumerate call, and callers range over the
// result with an ordinary for/range loop instead of polling a channel or
// repeatedly invoking Fetch.
package provider

import (
	"context"
	"iter"

	condamirror "github.com/babeloff/meso-forge-mirror"
)

// Source yields candidates until the archive/listing is exhausted, the
// context is cancelled, or an unrecoverable error occurs. A yielded error
// does not necessarily end enumeration: multi-artifact providers (github,
// azure) yield a per-artifact error and continue with the next artifact, and
// the Mirror Engine keeps ranging past errors other than Auth and Config.
type Source interface {
	Enumerate(ctx context.Context) iter.Seq2[condamirror.Candidate, error]
}
