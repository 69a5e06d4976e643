// Package mirror implements the Mirror Engine: the bounded worker pool that
// drives each candidate through hashing, introspection, platform
// resolution, and placement (spec.md §4.7). The worker pool itself follows
// the teacher's internal/updater.Online.Run shape — a WaitGroup of N
// goroutines pulling off a channel, errors aggregated into a small
// mutex-guarded map — generalized here from "one Updater per worker slot"
// to "one Candidate per worker slot".
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	condamirror "github.com/babeloff/meso-forge-mirror"
	"github.com/babeloff/meso-forge-mirror/condaerr"
	"github.com/babeloff/meso-forge-mirror/condapkg"
	"github.com/babeloff/meso-forge-mirror/digest"
	"github.com/babeloff/meso-forge-mirror/platform"
	"github.com/babeloff/meso-forge-mirror/provider"
	"github.com/babeloff/meso-forge-mirror/repodata"
	"github.com/babeloff/meso-forge-mirror/retrypolicy"
	"github.com/babeloff/meso-forge-mirror/sink"
)

// errmap aggregates per-candidate failures so one bad candidate doesn't
// abort the whole run, matching the teacher's internal/updater.errmap.
type errmap struct {
	mu sync.Mutex
	m  map[string]error
}

func (e *errmap) add(name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.m[name] = err
}

func (e *errmap) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.m)
}

// error joins every collected failure with errors.Join rather than
// flattening to a string, so errors.As/errors.Is can still reach a
// *condaerr.Error (or *condaerr.NoMatchError) buried in the aggregate —
// classifyExit's exit-code mapping (spec.md §6) depends on that traversal
// still working after aggregation.
func (e *errmap) error() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.m))
	for n := range e.m {
		names = append(names, n)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, n := range names {
		errs = append(errs, fmt.Errorf("%s: %w", n, e.m[n]))
	}
	return errors.Join(errs...)
}

// Engine drives candidates from one or more Sources through the mirror
// pipeline (spec.md §4.7) into Sink, maintaining Index along the way.
type Engine struct {
	Resolver      *platform.Resolver
	Index         *repodata.Index
	Sink          sink.Sink
	Retry         retrypolicy.Policy
	MaxConcurrent int
	Metrics       *Metrics
	Log           *slog.Logger

	// BatchFlush defers repodata.json writes to end-of-run instead of after
	// each placement (spec.md §4.6: "operators may opt into batched flush
	// at end-of-run").
	BatchFlush bool
}

// Run ranges over every Source's Enumerate iterator through a bounded
// worker pool sized MaxConcurrent (defaulting to runtime.NumCPU), reporting
// the aggregate of per-candidate failures, if any.
func (e *Engine) Run(ctx context.Context, sources []provider.Source) error {
	log := e.Log
	if log == nil {
		log = slog.Default()
	}
	// runID tags every log line for this Run the way the teacher's update
	// operations are tagged with a ref UUID (datastore.UpdateOperation.Ref),
	// so operators can grep one run's activity out of a shared log stream.
	runID := uuid.New()
	log = log.With("run_id", runID.String())
	workers := e.MaxConcurrent
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	// runCtx is cancelled by abort() the moment a Config or Auth error
	// surfaces anywhere (spec.md §7: "configuration and authentication
	// errors are fatal and abort the run"), distinct from ctx itself being
	// cancelled by the operator. Both a worker and the feed loop observe
	// runCtx.Done(), so one fatal error stops the whole pool rather than
	// being aggregated alongside ordinary per-candidate failures.
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	ch := make(chan condamirror.Candidate)
	errs := &errmap{m: make(map[string]error)}
	clashes := &errmap{m: make(map[string]error)}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				var c condamirror.Candidate
				var ok bool
				select {
				case <-runCtx.Done():
					return
				case c, ok = <-ch:
					if !ok {
						return
					}
				}
				if err := e.processOne(runCtx, log, c, clashes); err != nil {
					errs.add(c.SourceIdentity, err)
					if e.Metrics != nil {
						e.Metrics.PlacementErrors.Inc()
					}
					if errors.Is(err, condaerr.Auth) || errors.Is(err, condaerr.Config) {
						log.Error("fatal error, aborting run", "source", c.SourceIdentity, "error", err)
						abort()
					}
				}
			}
		}()
	}

	var feedErr error
feed:
	for _, src := range sources {
		for c, err := range src.Enumerate(runCtx) {
			if err != nil {
				errs.add("<enumeration>", err)
				if errors.Is(err, condaerr.Auth) || errors.Is(err, condaerr.Config) {
					log.Error("fatal error, aborting run", "error", err)
					abort()
					break feed
				}
				continue
			}
			select {
			case ch <- c:
			case <-runCtx.Done():
				feedErr = runCtx.Err()
				break feed
			}
		}
	}
	close(ch)
	wg.Wait()

	if e.BatchFlush {
		e.flushAll()
	}

	if clashes.len() > 0 {
		log.Warn("integrity clashes occurred this run (later writer wins, spec.md §9)", "count", clashes.len())
	}

	// errs takes priority over a bare feed cancellation: when a fatal Auth
	// or Config error triggered abort(), the feed loop also observes
	// runCtx.Done() and would otherwise report a generic "cancelled" error
	// that loses the classification classifyExit depends on.
	if errs.len() > 0 {
		return errs.error()
	}
	if feedErr != nil {
		return condaerr.Wrap("mirror.Run", condaerr.Cancelled, feedErr, "cancelled while feeding candidates")
	}
	if clashes.len() > 0 {
		return clashes.error()
	}
	return nil
}

// flushAll writes every subdir's repodata.json concurrently, grounded on
// the teacher's internal/indexer/fetcher.go use of errgroup to fan out
// independent per-layer work under one shared context. Best-effort: a
// write failure here is swallowed since this is an end-of-run batch step,
// not a per-candidate one.
func (e *Engine) flushAll() {
	g, ctx := errgroup.WithContext(context.Background())
	for _, subdir := range e.Index.Subdirs() {
		subdir := subdir
		g.Go(func() error {
			doc := e.Index.Flush(subdir)
			b, err := doc.Marshal()
			if err != nil {
				return nil
			}
			_ = e.Sink.WriteRepodata(ctx, subdir, b)
			return nil
		})
	}
	_ = g.Wait()

	cd := e.Index.RefreshChanneldata()
	if b, err := cd.Marshal(); err == nil {
		_ = e.Sink.WriteChanneldata(context.Background(), b)
	}
}

// processOne runs the per-candidate pipeline in spec.md §4.7: buffer to a
// temp file while hashing, introspect, resolve the subdir, compute the
// canonical path, place, then notify the indexer. Temp files are removed on
// every exit path.
func (e *Engine) processOne(ctx context.Context, log *slog.Logger, c condamirror.Candidate, clashes *errmap) error {
	defer c.Body.Close()

	tmp, err := os.CreateTemp("", "meso-forge-mirror-candidate-*")
	if err != nil {
		return condaerr.Wrap("mirror.processOne", condaerr.Sink, err, "creating temp buffer")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	defer tmp.Close()

	dw := digest.NewWriter()
	size, err := io.Copy(tmp, digest.TeeReader(c.Body, dw))
	if err != nil {
		return condaerr.Wrap("mirror.processOne", condaerr.Source, err, "buffering candidate body")
	}
	d := dw.Finalize()

	meta, format, err := condapkg.Introspect(tmp, size)
	if err != nil {
		return err
	}

	resolved := e.Resolver.Resolve(meta.Name, meta.Subdir, meta.Platform, meta.Arch, c.FilenameHint)
	meta.Subdir = resolved.Subdir

	fname := canonicalFilename(meta, format, c.FilenameHint)

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return condaerr.Wrap("mirror.processOne", condaerr.Source, err, "rewinding buffered candidate")
	}

	placeErr := retrypolicy.DoVoid(ctx, e.Retry, func(ctx context.Context) error {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return condaerr.Wrap("mirror.processOne", condaerr.Source, err, "rewinding before retry")
		}
		return e.Sink.Place(ctx, meta.Subdir, fname, tmp, size, d)
	})
	if placeErr != nil {
		return placeErr
	}

	rec := condamirror.Record{
		Name:        meta.Name,
		Version:     meta.Version,
		Build:       meta.Build,
		BuildNumber: meta.BuildNumber,
		Subdir:      meta.Subdir,
		Depends:     meta.Depends,
		MD5:         d.MD5Hex(),
		SHA256:      d.SHA256Hex(),
		Size:        d.Size,
		Timestamp:   meta.Timestamp,
		License:     meta.License,
	}
	isCondaFormat := format == condamirror.CondaFormat
	clashed := e.Index.Upsert(meta.Subdir, fname, rec, isCondaFormat)

	if e.Metrics != nil {
		e.Metrics.PackagesPlaced.Inc()
	}
	if clashed {
		if e.Metrics != nil {
			e.Metrics.IntegrityClashes.Inc()
		}
		key := meta.Subdir + "/" + fname
		clashes.add(key, condaerr.New("mirror.processOne", condaerr.Integrity,
			fmt.Sprintf("%s placed twice this run with differing content; later writer (%s) kept", key, c.SourceIdentity)))
		log.Warn("integrity clash: later writer wins (spec.md §9)",
			"subdir", meta.Subdir,
			"fname", fname,
			"source", c.SourceIdentity,
		)
	}
	log.Info("placed package",
		"identity", meta.Identity(),
		"subdir", meta.Subdir,
		"fname", fname,
		"resolved_via", resolved.Source,
		"source", c.SourceIdentity,
	)

	if !e.BatchFlush {
		doc := e.Index.Flush(meta.Subdir)
		b, err := doc.Marshal()
		if err != nil {
			return condaerr.Wrap("mirror.processOne", condaerr.Sink, err, "marshaling repodata.json")
		}
		if err := e.Sink.WriteRepodata(ctx, meta.Subdir, b); err != nil {
			return condaerr.Wrap("mirror.processOne", condaerr.Sink, err, "writing repodata.json")
		}
		cd := e.Index.RefreshChanneldata()
		cb, err := cd.Marshal()
		if err != nil {
			return condaerr.Wrap("mirror.processOne", condaerr.Sink, err, "marshaling channeldata.json")
		}
		if err := e.Sink.WriteChanneldata(ctx, cb); err != nil {
			return condaerr.Wrap("mirror.processOne", condaerr.Sink, err, "writing channeldata.json")
		}
	}
	return nil
}

// canonicalFilename derives <name>-<version>-<build>.<ext> using the
// detected format's extension, correcting a mismatched hint (spec.md §4.7
// step 5: "If the filename's extension disagrees with the detected format,
// the detected format wins").
func canonicalFilename(meta condamirror.PackageMeta, format condamirror.Format, hint string) string {
	if meta.Name != "" && meta.Version != "" && meta.Build != "" {
		return meta.CanonicalFilename(format)
	}
	return correctExtension(path.Base(hint), format)
}

// correctExtension swaps base's extension for format's own when they
// disagree, the same extension correction PackageMeta.CanonicalFilename
// applies implicitly via Format.Ext() — needed here too since an empty
// Build (spec-legal) skips that branch but not the step-5 rule itself.
func correctExtension(base string, format condamirror.Format) string {
	want := format.Ext()
	if want == "" || strings.HasSuffix(base, want) {
		return base
	}
	for _, ext := range []string{".conda", ".tar.bz2"} {
		if ext != want && strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext) + want
		}
	}
	return base + want
}
