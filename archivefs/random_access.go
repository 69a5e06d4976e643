package archivefs

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

// RandomAccess enumerates a ZIP's central directory and allows fetching any
// member by index or name, in central-directory order — required so the
// Selector's first-match semantics iterate the order an operator would see
// when listing the archive, not compressed-data order (spec.md §4.2).
type RandomAccess struct {
	zr *zip.Reader
}

// NewRandomAccessZip builds a RandomAccess reader from a seekable source.
func NewRandomAccessZip(r io.ReaderAt, size int64) (*RandomAccess, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("archivefs: initializing zip reader: %w", err)
	}
	return &RandomAccess{zr: zr}, nil
}

// ToReaderAt coerces an io.Reader into an io.ReaderAt, buffering the whole
// stream into memory only when the source doesn't already support seeking
// and random reads (e.g. a plain HTTP response body). Callers fetching a
// .zip over HTTP without server-side range support take this path.
func ToReaderAt(r io.Reader) (io.ReaderAt, int64, error) {
	if ra, ok := r.(io.ReaderAt); ok {
		if s, ok := r.(io.Seeker); ok {
			size, err := s.Seek(0, io.SeekEnd)
			if err != nil {
				return nil, 0, fmt.Errorf("archivefs: measuring seekable reader: %w", err)
			}
			if _, err := s.Seek(0, io.SeekStart); err != nil {
				return nil, 0, fmt.Errorf("archivefs: rewinding seekable reader: %w", err)
			}
			return ra, size, nil
		}
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("archivefs: buffering reader: %w", err)
	}
	return bytes.NewReader(b), int64(len(b)), nil
}

// Entries returns every regular-file member in central-directory order.
func (ra *RandomAccess) Entries() ([]Entry, error) {
	entries := make([]Entry, 0, len(ra.zr.File))
	for _, f := range ra.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		p, err := NormalizePath(f.Name, true)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Path: p, Size: int64(f.UncompressedSize64)})
	}
	return entries, nil
}

// OpenIndex opens the i-th member in central-directory order (matching the
// slice returned by Entries).
func (ra *RandomAccess) OpenIndex(i int) (io.ReadCloser, error) {
	files := ra.regularFiles()
	if i < 0 || i >= len(files) {
		return nil, fmt.Errorf("archivefs: index %d out of range", i)
	}
	return files[i].Open()
}

// OpenName opens the first member whose normalized path equals name.
func (ra *RandomAccess) OpenName(name string) (io.ReadCloser, error) {
	for _, f := range ra.regularFiles() {
		p, err := NormalizePath(f.Name, true)
		if err != nil {
			continue
		}
		if p == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("archivefs: no member named %q", name)
}

func (ra *RandomAccess) regularFiles() []*zip.File {
	out := make([]*zip.File, 0, len(ra.zr.File))
	for _, f := range ra.zr.File {
		if !f.FileInfo().IsDir() {
			out = append(out, f)
		}
	}
	return out
}
