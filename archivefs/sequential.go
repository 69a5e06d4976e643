package archivefs

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Sequential iterates a TAR-based stream forward-only: each entry's reader
// is valid only until Next is called again, mirroring the teacher's
// tar.Reader-backed fetch loop (internal/indexer/fetcher/fetcher.go).
type Sequential struct {
	tr     *tar.Reader
	closer io.Closer
}

// NewSequentialTar wraps a bare TAR stream.
func NewSequentialTar(r io.Reader) *Sequential {
	return &Sequential{tr: tar.NewReader(r)}
}

// NewSequentialTarGz wraps a gzip-compressed TAR stream.
func NewSequentialTarGz(r io.Reader) (*Sequential, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("archivefs: initializing gzip reader: %w", err)
	}
	return &Sequential{tr: tar.NewReader(gzr), closer: gzr}, nil
}

// NewSequentialTarBz2 wraps a bzip2-compressed TAR stream (the legacy conda
// .tar.bz2 container format). bzip2.NewReader never returns an error; format
// problems surface lazily from the first Read.
func NewSequentialTarBz2(r io.Reader) *Sequential {
	return &Sequential{tr: tar.NewReader(bzip2.NewReader(r))}
}

// Next advances to the next entry and returns a reader bounded to its
// content. The reader is invalidated by the subsequent call to Next.
func (s *Sequential) Next() (Entry, io.Reader, error) {
	for {
		hdr, err := s.tr.Next()
		if err != nil {
			return Entry{}, nil, err // io.EOF signals natural end
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		p, err := NormalizePath(hdr.Name, false)
		if err != nil {
			return Entry{}, nil, err
		}
		return Entry{Path: p, Size: hdr.Size}, s.tr, nil
	}
}

// Close releases any decompressor resources. It does not close the
// underlying io.Reader, which the caller owns.
func (s *Sequential) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
