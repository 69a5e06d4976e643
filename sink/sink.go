// Package sink defines the Target Sink contract (spec.md §4.8): something
// that places a package's bytes and persists the repodata/channeldata
// documents the Repodata Indexer produces. Concrete sinks (local, s3,
// hostedchannel) live in their own subpackages.
package sink

import (
	"context"
	"io"

	"github.com/babeloff/meso-forge-mirror/digest"
)

// Sink places package bytes and index documents into a target channel.
// Implementations must be safe for concurrent use across subdirs (spec.md
// §4.7 "shared resources"); the Mirror Engine serializes per-subdir access
// itself, so a Sink need only be safe for concurrent calls on *different*
// subdirs.
type Sink interface {
	// Place writes size bytes read from r to <subdir>/<fname>, verifying
	// against d where the sink's transport supports an integrity check
	// (e.g. S3's Content-MD5). Re-placing an existing key is permitted and
	// must be idempotent (spec.md §4.8).
	Place(ctx context.Context, subdir, fname string, r io.Reader, size int64, d digest.Digest) error

	// WriteRepodata persists subdir's repodata.json document.
	WriteRepodata(ctx context.Context, subdir string, doc []byte) error

	// WriteChanneldata persists the channel-wide channeldata.json document.
	WriteChanneldata(ctx context.Context, doc []byte) error
}
