package archivefs

import (
	"fmt"
	"path"
	"strings"
)

// Entry is a tuple of (path, size) describing one member of a container
// archive, in the archive's natural order (spec.md §3).
type Entry struct {
	Path string
	Size int64
}

// NormalizePath validates and normalizes an in-archive path per spec.md
// §4.2: absolute paths and paths containing a ".." component are rejected.
// Backslashes are converted to forward slashes whenever rewriteSeparators is
// set: RandomAccess sets it for every ZIP entry and Sequential never does.
// The filesystem's case sensitivity is not consulted. The returned path is
// what selection matches against and what providers pass on as a
// candidate's filename hint.
func NormalizePath(raw string, rewriteSeparators bool) (string, error) {
	p := raw
	if rewriteSeparators {
		p = strings.ReplaceAll(p, `\`, "/")
	}
	if path.IsAbs(p) || strings.HasPrefix(raw, "/") {
		return "", fmt.Errorf("archivefs: absolute entry path %q", raw)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("archivefs: entry path %q contains a '..' component", raw)
		}
	}
	return p, nil
}
