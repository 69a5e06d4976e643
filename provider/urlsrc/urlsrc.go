// Package urlsrc implements the "url" Source Provider kind: a single
// package streamed from an HTTP(S) GET (spec.md §4.5). Request construction
// follows the teacher's enricher/kev pattern (http.NewRequestWithContext
// plus an http.Client the caller supplies), adapted here to authenticate
// with a pass-through Authorization header instead of If-Modified-Since.
package urlsrc

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"path"

	condamirror "github.com/babeloff/meso-forge-mirror"
	"github.com/babeloff/meso-forge-mirror/condaerr"
	"github.com/babeloff/meso-forge-mirror/provider"
)

// Provider fetches a single package body from URL. Authorization, when set,
// is sent verbatim as the Authorization header (spec.md §4.5 "Authorization
// header pass-through if configured").
type Provider struct {
	Client        *http.Client
	URL           string
	Authorization string
}

var _ provider.Source = Provider{}

// New builds a urlsrc Provider. A nil client defaults to http.DefaultClient.
func New(client *http.Client, url string) Provider {
	if client == nil {
		client = http.DefaultClient
	}
	return Provider{Client: client, URL: url}
}

// Enumerate performs the GET and yields exactly one candidate on success.
func (p Provider) Enumerate(ctx context.Context) iter.Seq2[condamirror.Candidate, error] {
	return func(yield func(condamirror.Candidate, error) bool) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
		if err != nil {
			yield(condamirror.Candidate{}, condaerr.Wrap("urlsrc.Enumerate", condaerr.Config, err, "building request"))
			return
		}
		if p.Authorization != "" {
			req.Header.Set("Authorization", p.Authorization)
		}
		res, err := p.Client.Do(req)
		if err != nil {
			yield(condamirror.Candidate{}, condaerr.Wrap("urlsrc.Enumerate", condaerr.Transient, err, "performing request"))
			return
		}
		switch {
		case res.StatusCode == http.StatusOK:
		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
			res.Body.Close()
			yield(condamirror.Candidate{}, condaerr.New("urlsrc.Enumerate", condaerr.Transient, fmt.Sprintf("http %d from %s", res.StatusCode, p.URL)))
			return
		case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
			res.Body.Close()
			yield(condamirror.Candidate{}, condaerr.New("urlsrc.Enumerate", condaerr.Auth, fmt.Sprintf("http %d from %s", res.StatusCode, p.URL)))
			return
		default:
			res.Body.Close()
			yield(condamirror.Candidate{}, condaerr.New("urlsrc.Enumerate", condaerr.Source, fmt.Sprintf("http %d from %s", res.StatusCode, p.URL)))
			return
		}
		yield(condamirror.Candidate{
			FilenameHint:   path.Base(req.URL.Path),
			SourceIdentity: "url:" + p.URL,
			Body:           res.Body,
		}, nil)
	}
}
