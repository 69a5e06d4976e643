// Package github implements the "github" Source Provider kind: it
// enumerates GitHub Actions artifacts for a repository (spec.md §4.5, §6),
// downloads each matching one as a ZIP, and delegates member selection to
// ziparchive — the same "fetch, then hand off to a narrower provider"
// composition used for the Azure provider.
package github

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"regexp"

	gogithub "github.com/google/go-github/v62/github"
	"golang.org/x/time/rate"

	condamirror "github.com/babeloff/meso-forge-mirror"
	"github.com/babeloff/meso-forge-mirror/condaerr"
	"github.com/babeloff/meso-forge-mirror/provider"
	"github.com/babeloff/meso-forge-mirror/provider/ziparchive"
	"github.com/babeloff/meso-forge-mirror/selector"
)

// Provider enumerates artifacts for Owner/Repo via the GitHub Actions
// artifacts API (spec.md §6: GET .../actions/artifacts[, /{id}, /{id}/zip]).
// Token is optional; unauthenticated access is permitted for public
// repositories (spec.md §4.5), subject to GitHub's rate limits.
type Provider struct {
	Client *gogithub.Client
	HTTP   *http.Client
	Owner  string
	Repo   string

	// ArtifactID restricts enumeration to a single artifact, set from the
	// optional "#artifact_id" suffix on --src.
	ArtifactID int64
	// NameFilter, when non-nil, only artifacts whose name matches are
	// enumerated (the info subcommand's --name-filter, spec.md §6).
	NameFilter *regexp.Regexp
	// ExcludeExpired drops artifacts GitHub has marked expired.
	ExcludeExpired bool

	// Select picks the inner conda package from each downloaded artifact
	// ZIP, delegated to ziparchive (spec.md §4.5).
	Select *selector.Selector

	// RateLimit, when set, throttles listArtifacts/download calls the way
	// rhel/rhcc.Mapper throttles its outbound lookups; unauthenticated
	// access is worth pacing given GitHub's stricter anonymous rate limit.
	RateLimit *rate.Limiter
}

var _ provider.Source = Provider{}

// New builds a Provider. An empty token yields unauthenticated access.
func New(token, owner, repo string, sel *selector.Selector) Provider {
	hc := http.DefaultClient
	var gc *gogithub.Client
	if token != "" {
		gc = gogithub.NewClient(nil).WithAuthToken(token)
	} else {
		gc = gogithub.NewClient(nil)
	}
	return Provider{Client: gc, HTTP: hc, Owner: owner, Repo: repo, Select: sel}
}

// Enumerate lists artifacts, filters them, downloads each survivor as a ZIP
// to a temp file, and re-yields ziparchive's first-match candidate for
// that ZIP (spec.md §4.5: "the outer loop may produce multiple ZIPs; each
// ZIP is then subject to first-match selection").
func (p Provider) Enumerate(ctx context.Context) iter.Seq2[condamirror.Candidate, error] {
	return func(yield func(condamirror.Candidate, error) bool) {
		artifacts, err := p.listArtifacts(ctx)
		if err != nil {
			yield(condamirror.Candidate{}, err)
			return
		}
		for _, a := range artifacts {
			if !p.accepts(a) {
				continue
			}
			path, cleanup, err := p.download(ctx, a.GetID())
			if err != nil {
				if !yield(condamirror.Candidate{}, err) {
					return
				}
				continue
			}
			inner := ziparchive.NewLocal(path, p.Select)
			inner.SourceLabel = fmt.Sprintf("github:%s/%s#%d/%s", p.Owner, p.Repo, a.GetID(), a.GetName())
			cont := true
			for c, err := range inner.Enumerate(ctx) {
				if !yield(c, err) {
					cont = false
					break
				}
			}
			cleanup()
			if !cont {
				return
			}
		}
	}
}

func (p Provider) accepts(a *gogithub.Artifact) bool {
	if p.ArtifactID != 0 && a.GetID() != p.ArtifactID {
		return false
	}
	if p.ExcludeExpired && a.GetExpired() {
		return false
	}
	if p.NameFilter != nil && !p.NameFilter.MatchString(a.GetName()) {
		return false
	}
	return true
}

// Artifacts returns the filtered artifact list without downloading
// anything, backing `info --github` (spec.md §6 scenario 5).
func (p Provider) Artifacts(ctx context.Context) ([]*gogithub.Artifact, error) {
	all, err := p.listArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	var out []*gogithub.Artifact
	for _, a := range all {
		if p.accepts(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (p Provider) wait(ctx context.Context) error {
	if p.RateLimit == nil {
		return nil
	}
	return p.RateLimit.Wait(ctx)
}

func (p Provider) listArtifacts(ctx context.Context) ([]*gogithub.Artifact, error) {
	var all []*gogithub.Artifact
	opts := &gogithub.ListArtifactsOptions{ListOptions: gogithub.ListOptions{PerPage: 100}}
	for {
		if err := p.wait(ctx); err != nil {
			return nil, condaerr.Wrap("github.listArtifacts", condaerr.Cancelled, err, "rate limit wait")
		}
		list, res, err := p.Client.Actions.ListArtifacts(ctx, p.Owner, p.Repo, opts)
		if err != nil {
			return nil, classifyAPIError("github.listArtifacts", err)
		}
		all = append(all, list.Artifacts...)
		if res.NextPage == 0 {
			break
		}
		opts.Page = res.NextPage
	}
	return all, nil
}

func (p Provider) download(ctx context.Context, artifactID int64) (string, func(), error) {
	if err := p.wait(ctx); err != nil {
		return "", func() {}, condaerr.Wrap("github.download", condaerr.Cancelled, err, "rate limit wait")
	}
	u, _, err := p.Client.Actions.DownloadArtifact(ctx, p.Owner, p.Repo, artifactID, 5)
	if err != nil {
		return "", func() {}, classifyAPIError("github.DownloadArtifact", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", func() {}, condaerr.Wrap("github.download", condaerr.Config, err, "building download request")
	}
	res, err := p.HTTP.Do(req)
	if err != nil {
		return "", func() {}, condaerr.Wrap("github.download", condaerr.Transient, err, "downloading artifact zip")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", func() {}, condaerr.New("github.download", condaerr.Source, fmt.Sprintf("http %d downloading artifact %d", res.StatusCode, artifactID))
	}
	tmp, err := os.CreateTemp("", "meso-forge-mirror-gh-artifact-*.zip")
	if err != nil {
		return "", func() {}, condaerr.Wrap("github.download", condaerr.Sink, err, "creating temp file")
	}
	if _, err := io.Copy(tmp, res.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", func() {}, condaerr.Wrap("github.download", condaerr.Transient, err, "buffering artifact zip")
	}
	tmp.Close()
	name := tmp.Name()
	return name, func() { os.Remove(name) }, nil
}

func classifyAPIError(op string, err error) error {
	if rl, ok := err.(*gogithub.RateLimitError); ok {
		return condaerr.Wrap(op, condaerr.Transient, rl, "github rate limit")
	}
	if ae, ok := err.(*gogithub.AcceptedError); ok {
		return condaerr.Wrap(op, condaerr.Transient, ae, "github processing, retry later")
	}
	if er, ok := err.(*gogithub.ErrorResponse); ok {
		switch er.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return condaerr.Wrap(op, condaerr.Auth, err, "github credential rejected")
		case http.StatusTooManyRequests:
			return condaerr.Wrap(op, condaerr.Transient, err, "github rate limited")
		}
	}
	return condaerr.Wrap(op, condaerr.Source, err, "github api error")
}
