package condamirror

import "io"

// Candidate is what a Source Provider yields: a byte stream plus an advisory
// filename hint the Mirror Engine uses (corrected against the detected
// format) to build the canonical target path (spec.md §4.5, §4.7 step 5).
type Candidate struct {
	// FilenameHint is the URL basename, archive entry name, or
	// provider-supplied name; advisory only.
	FilenameHint string
	// SourceIdentity names where this candidate came from, for logging and
	// error messages (e.g. "github:conda-forge/noop-feedstock#123/conda-linux-64!conda_pkgs/foo.conda").
	SourceIdentity string
	// Body is consumed exactly once by the Mirror Engine.
	Body io.ReadCloser
}

// Record is the repodata.json entry derived from a placed package (spec.md
// §3). Depends is stored pre-sorted by the Repodata Indexer so Flush can
// serialize deterministically without re-sorting on every write.
type Record struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int64    `json:"build_number"`
	Subdir      string   `json:"subdir"`
	Depends     []string `json:"depends,omitempty"`
	MD5         string   `json:"md5"`
	SHA256      string   `json:"sha256"`
	Size        int64    `json:"size"`
	Timestamp   int64    `json:"timestamp,omitempty"`
	License     string   `json:"license,omitempty"`
}
