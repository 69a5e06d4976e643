// Package tgzarchive implements the "tgz" and "tgz-url" Source Provider
// kinds: first-match selection over a .tar.gz scanned in sequential order
// (spec.md §4.5, §4.6). Unlike ziparchive, no random access is needed, so a
// remote tgz-url streams directly without spilling to a temp file first.
package tgzarchive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"

	condamirror "github.com/babeloff/meso-forge-mirror"
	"github.com/babeloff/meso-forge-mirror/archivefs"
	"github.com/babeloff/meso-forge-mirror/condaerr"
	"github.com/babeloff/meso-forge-mirror/provider"
	"github.com/babeloff/meso-forge-mirror/selector"
)

// Provider applies Selector's first-match rule to a .tar.gz read
// sequentially, either from a local Path or a remote URL.
type Provider struct {
	Client      *http.Client
	Path        string
	URL         string
	Select      *selector.Selector
	SourceLabel string
}

var _ provider.Source = Provider{}

// NewLocal builds a Provider over a local .tar.gz file.
func NewLocal(path string, sel *selector.Selector) Provider {
	return Provider{Path: path, Select: sel, SourceLabel: "tgz:" + path}
}

// NewRemote builds a Provider over a .tar.gz streamed from url.
func NewRemote(client *http.Client, url string, sel *selector.Selector) Provider {
	if client == nil {
		client = http.DefaultClient
	}
	return Provider{Client: client, URL: url, Select: sel, SourceLabel: "tgz-url:" + url}
}

// Enumerate scans entries sequentially and yields at most one candidate:
// the first whose path satisfies Select (spec.md §4.6). Since a tar stream
// cannot be rewound, the selected entry is read fully into memory and the
// stream is closed before the candidate is yielded; entries after it are
// never scanned.
func (p Provider) Enumerate(ctx context.Context) iter.Seq2[condamirror.Candidate, error] {
	return func(yield func(condamirror.Candidate, error) bool) {
		body, closer, err := p.open(ctx)
		if err != nil {
			yield(condamirror.Candidate{}, err)
			return
		}
		seq, err := archivefs.NewSequentialTarGz(body)
		if err != nil {
			closer()
			yield(condamirror.Candidate{}, condaerr.Wrap("tgzarchive.Enumerate", condaerr.Format, err, "opening tar.gz"))
			return
		}

		var seen []string
		for {
			e, r, err := seq.Next()
			if err == io.EOF {
				closer()
				yield(condamirror.Candidate{}, condaerr.NewNoMatch(p.Select.Pattern(), seen))
				return
			}
			if err != nil {
				closer()
				yield(condamirror.Candidate{}, condaerr.Wrap("tgzarchive.Enumerate", condaerr.Source, err, "scanning tar.gz"))
				return
			}
			seen = append(seen, e.Path)
			if !p.Select.Match(e.Path) {
				continue
			}
			data, err := io.ReadAll(r)
			closer()
			if err != nil {
				yield(condamirror.Candidate{}, condaerr.Wrap("tgzarchive.Enumerate", condaerr.Source, err, "reading selected entry"))
				return
			}
			yield(condamirror.Candidate{
				FilenameHint:   e.Path,
				SourceIdentity: p.SourceLabel + "!" + e.Path,
				Body:           io.NopCloser(bytes.NewReader(data)),
			}, nil)
			return
		}
	}
}

func (p Provider) open(ctx context.Context) (io.Reader, func(), error) {
	if p.URL == "" {
		f, err := os.Open(p.Path)
		if err != nil {
			return nil, func() {}, condaerr.Wrap("tgzarchive.open", condaerr.Source, err, "opening local tar.gz")
		}
		return f, func() { f.Close() }, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, func() {}, condaerr.Wrap("tgzarchive.open", condaerr.Config, err, "building request")
	}
	res, err := p.Client.Do(req)
	if err != nil {
		return nil, func() {}, condaerr.Wrap("tgzarchive.open", condaerr.Transient, err, "downloading tar.gz")
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, func() {}, condaerr.New("tgzarchive.open", condaerr.Source, fmt.Sprintf("http %d from %s", res.StatusCode, p.URL))
	}
	return res.Body, func() { res.Body.Close() }, nil
}
