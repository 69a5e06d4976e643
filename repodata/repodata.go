// Package repodata implements the Repodata Indexer: the per-subdir
// repodata.json table and the channel-wide channeldata.json summary
// (spec.md §3, §4.6). Concurrency control follows the teacher's errmap
// pattern in internal/updater/controller.go — a small mutex-guarded struct
// rather than a full actor or channel pipeline, since the access pattern
// here (many short read-modify-write bursts from per-subdir workers) is the
// same shape as errmap's add/len/error.
package repodata

import (
	"encoding/json"
	"sort"
	"sync"

	condamirror "github.com/babeloff/meso-forge-mirror"
)

// State is the per-subdir lifecycle spec.md §4.6 defines: Empty before any
// upsert/remove, Dirty after a mutation not yet flushed, Persisted once
// Flush has written repodata.json.
type State int

const (
	Empty State = iota
	Dirty
	Persisted
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Dirty:
		return "dirty"
	case Persisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// Document is the on-disk shape of repodata.json (spec.md §3).
type Document struct {
	Info struct {
		Subdir string `json:"subdir"`
	} `json:"info"`
	Packages      map[string]condamirror.Record `json:"packages"`
	PackagesConda map[string]condamirror.Record `json:"packages.conda"`
	Removed       []string                      `json:"removed"`
	RepodataVersion int                         `json:"repodata_version"`
}

// subdirTable is one subdir's mutable package table.
type subdirTable struct {
	mu            sync.Mutex
	packages      map[string]condamirror.Record
	packagesConda map[string]condamirror.Record
	removed       []string
	state         State
}

func newSubdirTable() *subdirTable {
	return &subdirTable{
		packages:      make(map[string]condamirror.Record),
		packagesConda: make(map[string]condamirror.Record),
	}
}

// Index owns one subdirTable per subdir and the channeldata.json summary.
// All exported methods are safe for concurrent use by multiple workers, each
// operating on a (possibly) different subdir; the per-subdir lock ensures
// the invariant in spec.md §4.7 ("no two workers hold the same subdir lock
// simultaneously") while letting distinct subdirs proceed in parallel.
type Index struct {
	mu      sync.Mutex
	subdirs map[string]*subdirTable
}

// New returns an empty Index.
func New() *Index {
	return &Index{subdirs: make(map[string]*subdirTable)}
}

func (ix *Index) table(subdir string) *subdirTable {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	t, ok := ix.subdirs[subdir]
	if !ok {
		t = newSubdirTable()
		ix.subdirs[subdir] = t
	}
	return t
}

// Upsert places or replaces the record for fname within subdir, in the
// "packages.conda" bucket when isCondaFormat, else "packages" (spec.md §3,
// §4.6). It reports clashed=true when a record already existed at this key
// with different content (MD5 or SHA256 differs); the later writer wins
// regardless, per spec.md §9's resolution of the concurrent-same-key open
// question, but callers use clashed to surface an IntegrityError.
func (ix *Index) Upsert(subdir, fname string, rec condamirror.Record, isCondaFormat bool) (clashed bool) {
	sort.Strings(rec.Depends)
	t := ix.table(subdir)
	t.mu.Lock()
	defer t.mu.Unlock()
	bucket := t.packages
	if isCondaFormat {
		bucket = t.packagesConda
	}
	if prev, ok := bucket[fname]; ok && (prev.MD5 != rec.MD5 || prev.SHA256 != rec.SHA256) {
		clashed = true
	}
	bucket[fname] = rec
	t.removed = removeString(t.removed, fname)
	t.state = Dirty
	return clashed
}

// removeString returns s with the first occurrence of v deleted, preserving
// order. A re-placed package must not linger in removed (spec.md §3, §8:
// Place(p); Remove(p); Place(p) must read back identically to Place(p) alone).
func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// Remove moves fname into the removed list for subdir (spec.md §4.6).
func (ix *Index) Remove(subdir, fname string) {
	t := ix.table(subdir)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.packages, fname)
	delete(t.packagesConda, fname)
	t.removed = append(t.removed, fname)
	t.state = Dirty
}

// State reports the current lifecycle state of subdir.
func (ix *Index) State(subdir string) State {
	t := ix.table(subdir)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Flush serializes subdir's table to a Document with stable key ordering
// (spec.md §4.6: ASCII-sorted filenames, sorted dependency specs within each
// record) and transitions the subdir to Persisted. Callers are responsible
// for writing the returned Document to the sink.
func (ix *Index) Flush(subdir string) Document {
	t := ix.table(subdir)
	t.mu.Lock()
	defer t.mu.Unlock()
	doc := Document{
		Packages:        make(map[string]condamirror.Record, len(t.packages)),
		PackagesConda:   make(map[string]condamirror.Record, len(t.packagesConda)),
		Removed:         append([]string(nil), t.removed...),
		RepodataVersion: 1,
	}
	for k, v := range t.packages {
		doc.Packages[k] = v
	}
	for k, v := range t.packagesConda {
		doc.PackagesConda[k] = v
	}
	doc.Info.Subdir = subdir
	sort.Strings(doc.Removed)
	t.state = Persisted
	return doc
}

// Marshal renders doc with deterministic key ordering so repeated runs over
// the same channel state produce byte-identical output (spec.md §8 scenario
// 4, idempotent re-run).
func (doc Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(sortedDocument(doc), "", "  ")
}

// sortedDocument is a JSON-tag-identical shadow of Document whose map fields
// are rendered via encoding/json's built-in ASCII key sort (maps always
// serialize with sorted string keys since Go 1.12), kept as a separate type
// only so Marshal has one obvious call site.
type sortedDocument Document

// Subdirs reports every subdir the Index holds a table for (created by the
// first Upsert, Remove, State or Flush call naming it), in ASCII-sorted
// order.
func (ix *Index) Subdirs() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]string, 0, len(ix.subdirs))
	for s := range ix.subdirs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// NonEmptySubdirs reports subdirs currently holding at least one package,
// the input to RefreshChanneldata (spec.md §4.6).
func (ix *Index) NonEmptySubdirs() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]string, 0, len(ix.subdirs))
	for s, t := range ix.subdirs {
		t.mu.Lock()
		n := len(t.packages) + len(t.packagesConda)
		t.mu.Unlock()
		if n > 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Channeldata is the on-disk shape of channeldata.json (spec.md §3).
type Channeldata struct {
	Subdirs []string `json:"subdirs"`
}

// RefreshChanneldata recomputes the subdirs field as the set of subdirs
// present in the channel plus "noarch" (spec.md §4.6), deduplicated and
// ASCII-sorted.
func (ix *Index) RefreshChanneldata() Channeldata {
	present := ix.NonEmptySubdirs()
	seen := make(map[string]bool, len(present)+1)
	out := make([]string, 0, len(present)+1)
	for _, s := range present {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if !seen["noarch"] {
		out = append(out, "noarch")
	}
	sort.Strings(out)
	return Channeldata{Subdirs: out}
}

// Marshal renders Channeldata deterministically.
func (c Channeldata) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
