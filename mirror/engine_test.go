package mirror

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"testing"

	bz2 "github.com/dsnet/compress/bzip2"

	condamirror "github.com/babeloff/meso-forge-mirror"
	"github.com/babeloff/meso-forge-mirror/condaerr"
	"github.com/babeloff/meso-forge-mirror/digest"
	"github.com/babeloff/meso-forge-mirror/platform"
	"github.com/babeloff/meso-forge-mirror/provider"
	"github.com/babeloff/meso-forge-mirror/repodata"
	"github.com/babeloff/meso-forge-mirror/retrypolicy"
)

func buildLegacyPackage(t *testing.T, indexJSON string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	hdr := &tar.Header{Name: "info/index.json", Size: int64(len(indexJSON)), Mode: 0644, Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := tw.Write([]byte(indexJSON)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}

	var buf bytes.Buffer
	bw, err := bz2.NewWriter(&buf, nil)
	if err != nil {
		t.Fatalf("bz2.NewWriter: %v", err)
	}
	if _, err := bw.Write(tarBuf.Bytes()); err != nil {
		t.Fatalf("bz2 write: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("bz2 close: %v", err)
	}
	return buf.Bytes()
}

// staticSource yields a fixed slice of Candidates once, modeling a Source
// Provider that has already enumerated its listing.
type staticSource struct {
	candidates []condamirror.Candidate
}

func (s staticSource) Enumerate(ctx context.Context) iter.Seq2[condamirror.Candidate, error] {
	return func(yield func(condamirror.Candidate, error) bool) {
		for _, c := range s.candidates {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// memSink records every placement in memory, for assertions without
// touching the filesystem.
type memSink struct {
	mu         sync.Mutex
	placed     map[string][]byte
	repodata   map[string][]byte
	channeldat []byte
	placeErr   error
	placeCalls int
}

func newMemSink() *memSink {
	return &memSink{placed: make(map[string][]byte), repodata: make(map[string][]byte)}
}

func (m *memSink) Place(ctx context.Context, subdir, fname string, r io.Reader, size int64, d digest.Digest) error {
	m.mu.Lock()
	m.placeCalls++
	placeErr := m.placeErr
	m.mu.Unlock()
	if placeErr != nil {
		return placeErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed[subdir+"/"+fname] = b
	return nil
}

func (m *memSink) WriteRepodata(ctx context.Context, subdir string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repodata[subdir] = append([]byte(nil), doc...)
	return nil
}

func (m *memSink) WriteChanneldata(ctx context.Context, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channeldat = append([]byte(nil), doc...)
	return nil
}

func newTestEngine(snk *memSink) *Engine {
	return &Engine{
		Resolver:      platform.New(),
		Index:         repodata.New(),
		Sink:          snk,
		Retry:         retrypolicy.New(1),
		MaxConcurrent: 2,
	}
}

func candidateFromBytes(t *testing.T, hint, identity string, raw []byte) condamirror.Candidate {
	t.Helper()
	return condamirror.Candidate{
		FilenameHint:   hint,
		SourceIdentity: identity,
		Body:           io.NopCloser(bytes.NewReader(raw)),
	}
}

func TestEngineRunPlacesPackageAndWritesIndex(t *testing.T) {
	raw := buildLegacyPackage(t, `{"name":"foo","version":"1.0","build":"0","build_number":0,"subdir":"linux-64"}`)
	snk := newMemSink()
	e := newTestEngine(snk)

	src := staticSource{candidates: []condamirror.Candidate{
		candidateFromBytes(t, "foo-1.0-0.tar.bz2", "test:foo", raw),
	}}

	if err := e.Run(context.Background(), []provider.Source{src}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, ok := snk.placed["linux-64/foo-1.0-0.tar.bz2"]
	if !ok {
		t.Fatalf("expected placement at linux-64/foo-1.0-0.tar.bz2, got keys %v", keysOf(snk.placed))
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("placed bytes differ from source bytes")
	}
	if _, ok := snk.repodata["linux-64"]; !ok {
		t.Errorf("expected a repodata.json write for linux-64")
	}
	if snk.channeldat == nil {
		t.Errorf("expected a channeldata.json write")
	}
}

func TestEngineRunResolvesMissingSubdirViaHeuristic(t *testing.T) {
	raw := buildLegacyPackage(t, `{"name":"coreos-installer","version":"0.20.0","build":"0","build_number":0}`)
	snk := newMemSink()
	e := newTestEngine(snk)

	src := staticSource{candidates: []condamirror.Candidate{
		candidateFromBytes(t, "coreos-installer-0.20.0-0.tar.bz2", "test:coreos", raw),
	}}

	if err := e.Run(context.Background(), []provider.Source{src}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := snk.placed["linux-64/coreos-installer-0.20.0-0.tar.bz2"]; !ok {
		t.Fatalf("expected name-heuristic fallback to linux-64, got keys %v", keysOf(snk.placed))
	}
}

func TestEngineRunIsIdempotentOnRerun(t *testing.T) {
	raw := buildLegacyPackage(t, `{"name":"foo","version":"1.0","build":"0","build_number":0,"subdir":"noarch"}`)
	snk := newMemSink()
	e := newTestEngine(snk)

	run := func() error {
		src := staticSource{candidates: []condamirror.Candidate{
			candidateFromBytes(t, "foo-1.0-0.tar.bz2", "test:foo", raw),
		}}
		return e.Run(context.Background(), []provider.Source{src})
	}
	if err := run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first := append([]byte(nil), snk.repodata["noarch"]...)
	if err := run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	second := snk.repodata["noarch"]
	if !bytes.Equal(first, second) {
		t.Errorf("repodata.json changed across idempotent re-run:\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestEngineRunReportsIntegrityClashOnDifferingRewrite(t *testing.T) {
	rawA := buildLegacyPackage(t, `{"name":"foo","version":"1.0","build":"0","build_number":0,"subdir":"noarch","license":"MIT"}`)
	rawB := buildLegacyPackage(t, `{"name":"foo","version":"1.0","build":"0","build_number":0,"subdir":"noarch","license":"Apache-2.0"}`)
	snk := newMemSink()
	e := newTestEngine(snk)
	e.MaxConcurrent = 1 // deterministic ordering: A then B

	src := staticSource{candidates: []condamirror.Candidate{
		candidateFromBytes(t, "foo-1.0-0.tar.bz2", "test:a", rawA),
		candidateFromBytes(t, "foo-1.0-0.tar.bz2", "test:b", rawB),
	}}

	err := e.Run(context.Background(), []provider.Source{src})
	if err == nil {
		t.Fatal("expected an IntegrityError to be reported for the differing-bytes clash")
	}
	got, ok := snk.placed["noarch/foo-1.0-0.tar.bz2"]
	if !ok {
		t.Fatal("expected a placement despite the clash (later writer wins)")
	}
	if !bytes.Equal(got, rawB) {
		t.Errorf("later writer did not win: placed bytes do not match rawB")
	}
}

func TestEngineRunAbortsOnAuthError(t *testing.T) {
	raw := buildLegacyPackage(t, `{"name":"foo","version":"1.0","build":"0","build_number":0,"subdir":"noarch"}`)
	snk := newMemSink()
	snk.placeErr = condaerr.New("test", condaerr.Auth, "credential rejected")
	e := newTestEngine(snk)
	e.MaxConcurrent = 1
	e.Retry = retrypolicy.New(1)

	const total = 5
	candidates := make([]condamirror.Candidate, total)
	for i := range candidates {
		candidates[i] = candidateFromBytes(t, "foo-1.0-0.tar.bz2", fmt.Sprintf("test:%d", i), raw)
	}
	src := staticSource{candidates: candidates}

	err := e.Run(context.Background(), []provider.Source{src})
	if err == nil {
		t.Fatal("expected an error when the sink rejects every placement with Auth")
	}
	if !errors.Is(err, condaerr.Auth) {
		t.Errorf("expected the returned error to classify as condaerr.Auth, got %v", err)
	}
	snk.mu.Lock()
	calls := snk.placeCalls
	snk.mu.Unlock()
	if calls >= total {
		t.Errorf("expected Run to abort before processing every candidate, placeCalls = %d of %d", calls, total)
	}
}

func TestCanonicalFilenameFallbackCorrectsExtension(t *testing.T) {
	// meta.Build == "" is spec-legal (buildless index.json), which skips the
	// CanonicalFilename branch and falls back to the filename hint — that
	// fallback must still apply the "detected format wins" extension
	// correction from spec.md §4.7 step 5.
	meta := condamirror.PackageMeta{Name: "foo", Version: "1.0"}
	got := canonicalFilename(meta, condamirror.CondaFormat, "foo-1.0.tar.bz2")
	if want := "foo-1.0.conda"; got != want {
		t.Errorf("canonicalFilename = %q, want %q", got, want)
	}
}

func TestCanonicalFilenameFallbackLeavesMatchingExtension(t *testing.T) {
	meta := condamirror.PackageMeta{Name: "foo", Version: "1.0"}
	got := canonicalFilename(meta, condamirror.LegacyFormat, "foo-1.0.tar.bz2")
	if want := "foo-1.0.tar.bz2"; got != want {
		t.Errorf("canonicalFilename = %q, want %q", got, want)
	}
}

func keysOf(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
