// Package selector implements first-match path selection over an archive's
// natural entry order, the mechanism `--src-path` drives for zip/tgz sources
// (spec.md §4.2, scenario 1 in §8). Matching reuses regexp.MatchString in the
// same direct style the teacher's ArchOp.Cmp uses for its pattern-match
// operator, rather than layering a glob-to-regex translator.
package selector

import (
	"regexp"
	"strings"

	"github.com/babeloff/meso-forge-mirror/archivefs"
	"github.com/babeloff/meso-forge-mirror/condaerr"
)

// Selector picks the first archive entry whose path matches Pattern, walking
// entries in the order the archive format naturally provides (central
// directory order for ZIP, sequential read order for TAR/TGZ).
type Selector struct {
	re *regexp.Regexp
}

// Compile builds a Selector from a regular expression. An empty pattern
// matches every path, so the first conda package entry (.conda or
// .tar.bz2) encountered is selected.
func Compile(pattern string) (*Selector, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, condaerr.Wrap("selector.Compile", condaerr.Config, err, "compiling --src-path pattern")
	}
	return &Selector{re: re}, nil
}

// Pattern returns the compiled regular expression's source text, for
// providers that need to build their own NoMatchError (e.g. when scanning a
// sequential tar stream entry-by-entry rather than over a pre-listed slice).
func (s *Selector) Pattern() string {
	return s.re.String()
}

// Match reports whether path matches the selector's pattern AND is a conda
// package by extension (.conda or .tar.bz2); both conditions are required
// for selection (spec.md §4.6).
func (s *Selector) Match(path string) bool {
	return isCondaPackagePath(path) && s.re.MatchString(path)
}

func isCondaPackagePath(path string) bool {
	return strings.HasSuffix(path, ".conda") || strings.HasSuffix(path, ".tar.bz2")
}

// FirstMatch scans entries in order and returns the index of the first one
// whose Path matches. If none match, it returns a condaerr.NoMatchError
// carrying the paths seen, bounded per condaerr.NewNoMatch, so operators can
// see what the archive actually contained without an unbounded dump.
func (s *Selector) FirstMatch(entries []archivefs.Entry) (int, error) {
	seen := make([]string, 0, len(entries))
	for i, e := range entries {
		seen = append(seen, e.Path)
		if s.Match(e.Path) {
			return i, nil
		}
	}
	return -1, condaerr.NewNoMatch(s.re.String(), seen)
}
