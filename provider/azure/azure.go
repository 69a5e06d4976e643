// Package azure implements the "azure" Source Provider kind: Azure DevOps
// build artifacts (spec.md §4.5, §6). No official Azure DevOps Go SDK
// appears anywhere in the example pack (see DESIGN.md), so this is a small
// hand-rolled REST v6.0 client in the same direct net/http style the
// teacher's enrichers use for their feed fetches, rather than importing an
// unrelated cloud SDK just to get an HTTP client wrapper.
package azure

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"

	"golang.org/x/time/rate"

	condamirror "github.com/babeloff/meso-forge-mirror"
	"github.com/babeloff/meso-forge-mirror/condaerr"
	"github.com/babeloff/meso-forge-mirror/provider"
	"github.com/babeloff/meso-forge-mirror/provider/ziparchive"
	"github.com/babeloff/meso-forge-mirror/selector"
)

const apiVersion = "6.0"

// Provider enumerates builds and their artifacts for Org/Project via the
// Azure DevOps REST API. PAT is mandatory (spec.md §4.5: "the API requires
// authentication"), sent as the password half of HTTP Basic auth with an
// empty username.
type Provider struct {
	Client  *http.Client
	BaseURL string // defaults to https://dev.azure.com
	Org     string
	Project string
	PAT     string

	// BuildID restricts enumeration to one build, set from the optional
	// "#build_id" suffix on --src; zero means "most recent successful".
	BuildID int64
	// NameFilter optionally restricts which artifacts are enumerated.
	NameFilter *regexp.Regexp

	Select *selector.Selector

	// RateLimit, when set, throttles build/artifact lookups, grounded on
	// rhel/rhcc.Mapper's rate.Limiter-gated outbound calls.
	RateLimit *rate.Limiter
}

var _ provider.Source = Provider{}

// New builds a Provider. pat must be non-empty (spec.md §4.5).
func New(pat, org, project string, sel *selector.Selector) Provider {
	return Provider{
		Client:  http.DefaultClient,
		BaseURL: "https://dev.azure.com",
		Org:     org,
		Project: project,
		PAT:     pat,
		Select:  sel,
	}
}

type build struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Result string `json:"result"`
}

type buildListResponse struct {
	Value []build `json:"value"`
}

type artifact struct {
	Name     string `json:"name"`
	Resource struct {
		Type        string `json:"type"`
		DownloadURL string `json:"downloadUrl"`
	} `json:"resource"`
}

type artifactListResponse struct {
	Value []artifact `json:"value"`
}

// Enumerate resolves the target build (BuildID, or the most recent
// successful build when absent — spec.md §4.5), lists its artifacts,
// downloads each ZIP-typed one, and delegates member selection to
// ziparchive.
func (p Provider) Enumerate(ctx context.Context) iter.Seq2[condamirror.Candidate, error] {
	return func(yield func(condamirror.Candidate, error) bool) {
		buildID, err := p.resolveBuildID(ctx)
		if err != nil {
			yield(condamirror.Candidate{}, err)
			return
		}
		artifacts, err := p.listArtifacts(ctx, buildID)
		if err != nil {
			yield(condamirror.Candidate{}, err)
			return
		}
		for _, a := range artifacts {
			if a.Resource.Type != "Container" && a.Resource.Type != "FilePath" {
				continue
			}
			if p.NameFilter != nil && !p.NameFilter.MatchString(a.Name) {
				continue
			}
			path, cleanup, err := p.download(ctx, a.Resource.DownloadURL)
			if err != nil {
				if !yield(condamirror.Candidate{}, err) {
					return
				}
				continue
			}
			inner := ziparchive.NewLocal(path, p.Select)
			inner.SourceLabel = fmt.Sprintf("azure:%s/%s#%d/%s", p.Org, p.Project, buildID, a.Name)
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

// Artifacts resolves the target build and returns its artifact listing
// filtered by NameFilter, without downloading anything — the `info --azure`
// subcommand's read path (spec.md §6), mirroring the github provider's
// Artifacts method.
func (p Provider) Artifacts(ctx context.Context) ([]artifact, int64, error) {
	buildID, err := p.resolveBuildID(ctx)
	if err != nil {
		return nil, 0, err
	}
	all, err := p.listArtifacts(ctx, buildID)
	if err != nil {
		return nil, buildID, err
	}
	if p.NameFilter == nil {
		return all, buildID, nil
	}
	out := make([]artifact, 0, len(all))
	for _, a := range all {
		if p.NameFilter.MatchString(a.Name) {
			out = append(out, a)
		}
	}
	return out, buildID, nil
}

// resolveBuildID returns p.BuildID if set, else the most recent successful
// build (spec.md §4.5).
func (p Provider) resolveBuildID(ctx context.Context) (int64, error) {
	if p.BuildID != 0 {
		return p.BuildID, nil
	}
	u := fmt.Sprintf("%s/%s/%s/_apis/build/builds?api-version=%s&statusFilter=completed&resultFilter=succeeded",
		p.BaseURL, url.PathEscape(p.Org), url.PathEscape(p.Project), apiVersion)
	var resp buildListResponse
	if err := p.get(ctx, u, &resp); err != nil {
		return 0, err
	}
	if len(resp.Value) == 0 {
		return 0, condaerr.New("azure.resolveBuildID", condaerr.Source, "no successful builds found")
	}
	sort.Slice(resp.Value, func(i, j int) bool { return resp.Value[i].ID > resp.Value[j].ID })
	return resp.Value[0].ID, nil
}

func (p Provider) listArtifacts(ctx context.Context, buildID int64) ([]artifact, error) {
	u := fmt.Sprintf("%s/%s/%s/_apis/build/builds/%d/artifacts?api-version=%s",
		p.BaseURL, url.PathEscape(p.Org), url.PathEscape(p.Project), buildID, apiVersion)
	var resp artifactListResponse
	if err := p.get(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (p Provider) get(ctx context.Context, u string, out any) error {
	if p.RateLimit != nil {
		if err := p.RateLimit.Wait(ctx); err != nil {
			return condaerr.Wrap("azure.get", condaerr.Cancelled, err, "rate limit wait")
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return condaerr.Wrap("azure.get", condaerr.Config, err, "building request")
	}
	p.authorize(req)
	res, err := p.Client.Do(req)
	if err != nil {
		return condaerr.Wrap("azure.get", condaerr.Transient, err, "performing request")
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return condaerr.New("azure.get", condaerr.Auth, fmt.Sprintf("http %d from %s", res.StatusCode, u))
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return condaerr.New("azure.get", condaerr.Transient, fmt.Sprintf("http %d from %s", res.StatusCode, u))
	default:
		return condaerr.New("azure.get", condaerr.Source, fmt.Sprintf("http %d from %s", res.StatusCode, u))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return condaerr.Wrap("azure.get", condaerr.Source, err, "decoding response")
	}
	return nil
}

func (p Provider) download(ctx context.Context, downloadURL string) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", func() {}, condaerr.Wrap("azure.download", condaerr.Config, err, "building download request")
	}
	p.authorize(req)
	res, err := p.Client.Do(req)
	if err != nil {
		return "", func() {}, condaerr.Wrap("azure.download", condaerr.Transient, err, "downloading artifact")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", func() {}, condaerr.New("azure.download", condaerr.Source, fmt.Sprintf("http %d downloading artifact", res.StatusCode))
	}
	tmp, err := os.CreateTemp("", "meso-forge-mirror-azure-artifact-*.zip")
	if err != nil {
		return "", func() {}, condaerr.Wrap("azure.download", condaerr.Sink, err, "creating temp file")
	}
	if _, err := io.Copy(tmp, res.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", func() {}, condaerr.Wrap("azure.download", condaerr.Transient, err, "buffering artifact")
	}
	tmp.Close()
	name := tmp.Name()
	return name, func() { os.Remove(name) }, nil
}

// authorize sets HTTP Basic auth with an empty username and the PAT as
// password (spec.md §4.5, §6).
func (p Provider) authorize(req *http.Request) {
	token := base64.StdEncoding.EncodeToString([]byte(":" + p.PAT))
	req.Header.Set("Authorization", "Basic "+token)
}
