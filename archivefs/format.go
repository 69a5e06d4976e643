// Package archivefs provides uniform iteration over the container formats
// the mirror ingests: plain TAR, TAR.GZ, TAR.BZ2 (sequential, forward-only)
// and ZIP (random access via the central directory).
package archivefs

import "bytes"

// Format identifies a container's outer framing, detected by magic bytes
// rather than by filename extension (spec.md §4.3).
type Format int

const (
	UnknownFormat Format = iota
	ZipFormat
	TarFormat
	TarGzFormat
	TarBz2Format
)

var (
	zipMagic  = []byte{0x50, 0x4B, 0x03, 0x04}
	gzipMagic = []byte{0x1F, 0x8B}
	bzipMagic = []byte{0x42, 0x5A, 0x68} // "BZh"
)

// Detect inspects the first bytes of a stream and returns its Format. It
// never consults the filename: per spec.md §4.3 a mismatched extension must
// lose to what the bytes actually are.
func Detect(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return ZipFormat
	case bytes.HasPrefix(head, bzipMagic):
		return TarBz2Format
	case bytes.HasPrefix(head, gzipMagic):
		return TarGzFormat
	default:
		return TarFormat
	}
}

// Ext returns the canonical filename extension for a container Format. The
// Mirror Engine's filename correction uses condamirror.Format.Ext, not this
// method.
func (f Format) Ext() string {
	switch f {
	case ZipFormat:
		return ".zip"
	case TarGzFormat:
		return ".tar.gz"
	case TarBz2Format:
		return ".tar.bz2"
	case TarFormat:
		return ".tar"
	default:
		return ""
	}
}

func (f Format) String() string {
	switch f {
	case ZipFormat:
		return "zip"
	case TarFormat:
		return "tar"
	case TarGzFormat:
		return "tar.gz"
	case TarBz2Format:
		return "tar.bz2"
	default:
		return "unknown"
	}
}
