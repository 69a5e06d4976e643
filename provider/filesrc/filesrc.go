// Package filesrc implements the "file" Source Provider kind: a single
// package read directly off the local filesystem (spec.md §4.5).
package filesrc

import (
	"context"
	"iter"
	"os"
	"path/filepath"

	condamirror "github.com/babeloff/meso-forge-mirror"
	"github.com/babeloff/meso-forge-mirror/condaerr"
	"github.com/babeloff/meso-forge-mirror/provider"
)

// Provider emits exactly one candidate: the file at Path.
type Provider struct {
	Path string
}

var _ provider.Source = Provider{}

// New builds a filesrc Provider for path.
func New(path string) Provider { return Provider{Path: path} }

// Enumerate yields the one candidate backed by Path, or an error if it
// cannot be opened.
func (p Provider) Enumerate(ctx context.Context) iter.Seq2[condamirror.Candidate, error] {
	return func(yield func(condamirror.Candidate, error) bool) {
		f, err := os.Open(p.Path)
		if err != nil {
			yield(condamirror.Candidate{}, condaerr.Wrap("filesrc.Enumerate", condaerr.Source, err, "opening source file"))
			return
		}
		yield(condamirror.Candidate{
			FilenameHint:   filepath.Base(p.Path),
			SourceIdentity: "file:" + p.Path,
			Body:           f,
		}, nil)
	}
}
