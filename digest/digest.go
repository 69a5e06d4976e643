// Package digest computes the integrity record attached to every package
// placed in a channel: byte count, MD5, and SHA-256, accumulated in a single
// streaming pass so large archives never need to be buffered twice.
package digest

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Digest is the integrity record computed over the exact byte sequence
// stored in a target sink (PackageDigest in spec.md §3).
type Digest struct {
	Size   int64
	MD5    [md5.Size]byte
	SHA256 [sha256.Size]byte
}

// MD5Hex returns the lowercase hex encoding of MD5, as stored in
// repodata.json records. (S3's Content-MD5 header takes the base64 encoding
// of the raw bytes instead; see sink/s3.)
func (d Digest) MD5Hex() string { return hex.EncodeToString(d.MD5[:]) }

// SHA256Hex returns the lowercase hex encoding of SHA256.
func (d Digest) SHA256Hex() string { return hex.EncodeToString(d.SHA256[:]) }

// Equal reports whether two digests describe byte-identical content.
func (d Digest) Equal(o Digest) bool {
	return d.Size == o.Size && d.MD5 == o.MD5 && d.SHA256 == o.SHA256
}

// Writer is an io.Writer transducer: bytes written to it pass through
// unchanged in meaning (callers typically io.Copy through it to another
// destination via io.MultiWriter, or wrap a reader with TeeReader) while MD5,
// SHA-256, and a running byte count accumulate. Finalize reads the result.
//
// A Writer must not be used concurrently; the mirror engine creates one per
// candidate.
type Writer struct {
	size   int64
	md5    hash.Hash
	sha256 hash.Hash
}

// NewWriter constructs a ready-to-use Writer.
func NewWriter() *Writer {
	return &Writer{md5: md5.New(), sha256: sha256.New()}
}

// Write implements io.Writer. It never returns an error; the underlying
// hash.Hash implementations are documented to never fail.
func (w *Writer) Write(p []byte) (int, error) {
	w.md5.Write(p)
	w.sha256.Write(p)
	w.size += int64(len(p))
	return len(p), nil
}

// Finalize returns the accumulated Digest. The Writer remains usable
// afterwards only if Reset is called first.
func (w *Writer) Finalize() Digest {
	var d Digest
	d.Size = w.size
	copy(d.MD5[:], w.md5.Sum(nil))
	copy(d.SHA256[:], w.sha256.Sum(nil))
	return d
}

// Reset clears accumulated state so the Writer can be reused for a new
// candidate without allocating fresh hash.Hash instances.
func (w *Writer) Reset() {
	w.md5.Reset()
	w.sha256.Reset()
	w.size = 0
}

// TeeReader returns a reader that writes to w everything read from r, so a
// single pass over a candidate's bytes both streams them to a temp file (or
// sink) and accumulates the digest the spec requires to match what a
// downstream client will see (spec.md §4.1).
func TeeReader(r io.Reader, w *Writer) io.Reader {
	return io.TeeReader(r, w)
}

// Of computes a Digest over r in one pass, without retaining the bytes. It
// is used by sinks that need to validate integrity after the fact (e.g.
// reading back written bytes to compare against the recorded digest).
func Of(r io.Reader) (Digest, error) {
	w := NewWriter()
	if _, err := io.Copy(w, r); err != nil {
		return Digest{}, err
	}
	return w.Finalize(), nil
}
