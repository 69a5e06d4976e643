// Package local implements the "local" Target Sink: atomic placement into a
// directory tree laid out one directory per subdir, plus an optional
// Rattler-style cache mirror (spec.md §4.8).
package local

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/babeloff/meso-forge-mirror/digest"
	"github.com/babeloff/meso-forge-mirror/sink"
)

// Sink places files under Root/<subdir>/<fname>, writing each through a
// same-directory temp file and renaming into place so a reader never
// observes a partially-written package (spec.md §4.1 "byte-identical to
// its source").
type Sink struct {
	Root string

	// CacheRoot, when non-empty, additionally mirrors every placed package
	// into a Rattler-style package cache layout (spec.md §4.8: "Also
	// mirrors into a Rattler-style cache layout when so configured").
	CacheRoot string
}

var _ sink.Sink = (*Sink)(nil)

// New builds a local Sink rooted at root.
func New(root string) *Sink {
	return &Sink{Root: root}
}

// Place writes r's bytes to Root/subdir/fname via a temp file in the same
// directory followed by os.Rename, which is atomic on every platform this
// project targets as long as both paths share a filesystem.
func (s *Sink) Place(ctx context.Context, subdir, fname string, r io.Reader, size int64, d digest.Digest) error {
	dir := filepath.Join(s.Root, subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("local.Place: creating subdir %s: %w", subdir, err)
	}
	if err := writeAtomic(dir, filepath.Join(dir, fname), r); err != nil {
		return err
	}
	if s.CacheRoot != "" {
		cacheDir := filepath.Join(s.CacheRoot, subdir)
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			return fmt.Errorf("local.Place: creating cache subdir %s: %w", subdir, err)
		}
		src, err := os.Open(filepath.Join(dir, fname))
		if err != nil {
			return fmt.Errorf("local.Place: reopening placed file for cache mirror: %w", err)
		}
		defer src.Close()
		if err := writeAtomic(cacheDir, filepath.Join(cacheDir, fname), src); err != nil {
			return fmt.Errorf("local.Place: mirroring to cache: %w", err)
		}
	}
	return nil
}

func writeAtomic(dir, finalPath string, r io.Reader) error {
	tmp, err := os.CreateTemp(dir, ".meso-forge-mirror-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", finalPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file for %s: %w", finalPath, err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place %s: %w", finalPath, err)
	}
	return nil
}

// WriteRepodata writes Root/subdir/repodata.json.
func (s *Sink) WriteRepodata(ctx context.Context, subdir string, doc []byte) error {
	dir := filepath.Join(s.Root, subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("local.WriteRepodata: creating subdir %s: %w", subdir, err)
	}
	return writeAtomic(dir, filepath.Join(dir, "repodata.json"), bytes.NewReader(doc))
}

// WriteChanneldata writes Root/channeldata.json.
func (s *Sink) WriteChanneldata(ctx context.Context, doc []byte) error {
	if err := os.MkdirAll(s.Root, 0755); err != nil {
		return fmt.Errorf("local.WriteChanneldata: creating root %s: %w", s.Root, err)
	}
	return writeAtomic(s.Root, filepath.Join(s.Root, "channeldata.json"), bytes.NewReader(doc))
}
