// Package hostedchannel implements the "hosted channel" Target Sink: an
// authenticated HTTPS PUT of each package blob to a channel-scoped upload
// endpoint (spec.md §4.8). The hosted service computes its own repodata
// index, so WriteRepodata/WriteChanneldata only confirm the upload rather
// than pushing a document the service would otherwise ignore.
package hostedchannel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/babeloff/meso-forge-mirror/digest"
	mirrorsink "github.com/babeloff/meso-forge-mirror/sink"
)

// Sink PUTs package blobs to BaseURL/<subdir>/<fname>, authenticating with
// an Authorization header built from Token (spec.md §4.5's bearer-token
// convention, reused here since the hosted service's own auth scheme is
// left to the operator's configuration).
type Sink struct {
	Client  *http.Client
	BaseURL string
	Token   string
}

var _ mirrorsink.Sink = (*Sink)(nil)

// New builds a Sink against baseURL, the channel-scoped upload endpoint
// root documented by the hosted service.
func New(client *http.Client, baseURL, token string) *Sink {
	if client == nil {
		client = http.DefaultClient
	}
	return &Sink{Client: client, BaseURL: baseURL, Token: token}
}

// Place uploads the package via PUT to BaseURL/subdir/fname.
func (s *Sink) Place(ctx context.Context, subdir, fname string, r io.Reader, size int64, d digest.Digest) error {
	return s.put(ctx, s.BaseURL+"/"+subdir+"/"+fname, r, size)
}

// WriteRepodata is a no-op confirmation: the hosted service computes its
// own repodata.json from the packages it has received (spec.md §4.8).
func (s *Sink) WriteRepodata(ctx context.Context, subdir string, doc []byte) error {
	return nil
}

// WriteChanneldata is likewise a no-op confirmation.
func (s *Sink) WriteChanneldata(ctx context.Context, doc []byte) error {
	return nil
}

func (s *Sink) put(ctx context.Context, url string, r io.Reader, size int64) error {
	var body io.Reader = r
	if _, ok := r.(io.ReadSeeker); !ok {
		buf, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("hostedchannel.put: buffering body for %s: %w", url, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return fmt.Errorf("hostedchannel.put: building request for %s: %w", url, err)
	}
	req.ContentLength = size
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	res, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("hostedchannel.put: performing request for %s: %w", url, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("hostedchannel.put: http %d uploading %s", res.StatusCode, url)
	}
	return nil
}
