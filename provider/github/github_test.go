package github

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	gogithub "github.com/google/go-github/v62/github"

	"github.com/babeloff/meso-forge-mirror/selector"
)

func buildArtifactZip(t *testing.T, entryName string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(entryName)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Write([]byte("artifact-content-" + entryName))
	if err := zw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

// TestArtifactsFiltersByNameAndExpiry mirrors spec.md §8 scenario 5: three
// artifacts conda-linux-64, conda-osx-64 (expired), docs; only
// conda-linux-64 survives a name filter plus exclude-expired.
func TestArtifactsFiltersByNameAndExpiry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/conda-forge/noop-feedstock/actions/artifacts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"total_count": 3,
			"artifacts": [
				{"id": 1, "name": "conda-linux-64", "expired": false},
				{"id": 2, "name": "conda-osx-64", "expired": true},
				{"id": 3, "name": "docs", "expired": false}
			]
		}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sel, _ := selector.Compile(`.*\.conda$`)
	p := New("", "conda-forge", "noop-feedstock", sel)
	p.Client = gogithub.NewClient(nil)
	baseURL := srv.URL + "/"
	u, err := gogithub.NewClient(nil).BaseURL.Parse(baseURL)
	if err != nil {
		t.Fatalf("parsing base url: %v", err)
	}
	p.Client.BaseURL = u
	p.NameFilter = regexp.MustCompile(`conda.*linux.*`)
	p.ExcludeExpired = true

	got, err := p.Artifacts(context.Background())
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if len(got) != 1 || got[0].GetName() != "conda-linux-64" {
		t.Fatalf("got %v artifacts, want exactly conda-linux-64", got)
	}
}

func TestEnumerateDownloadsAndSelects(t *testing.T) {
	zipBytes := buildArtifactZip(t, "pkgs/foo-1.0-0.conda")

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/repos/conda-forge/noop-feedstock/actions/artifacts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_count": 1, "artifacts": [{"id": 42, "name": "conda-linux-64", "expired": false}]}`)
	})
	mux.HandleFunc("/repos/conda-forge/noop-feedstock/actions/artifacts/42/zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", srv.URL+"/download/42.zip")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/download/42.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipBytes)
	})

	sel, _ := selector.Compile(`^pkgs/foo-.*\.conda$`)
	p := New("", "conda-forge", "noop-feedstock", sel)
	p.Client = gogithub.NewClient(nil)
	u, err := p.Client.BaseURL.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("parsing base url: %v", err)
	}
	p.Client.BaseURL = u
	p.HTTP = srv.Client()

	count := 0
	for c, err := range p.Enumerate(context.Background()) {
		if err != nil {
			t.Fatalf("Enumerate: %v", err)
		}
		count++
		data, _ := io.ReadAll(c.Body)
		c.Body.Close()
		if string(data) != "artifact-content-pkgs/foo-1.0-0.conda" {
			t.Errorf("body = %q", data)
		}
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
