package ziparchive

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/babeloff/meso-forge-mirror/selector"
)

func buildZipFile(t *testing.T, dir string, names []string) string {
	t.Helper()
	path := filepath.Join(dir, "bundle.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatalf("zip Create: %v", err)
		}
		if _, err := w.Write([]byte("content-of-" + n)); err != nil {
			t.Fatalf("zip Write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	return path
}

func TestEnumerateLocalFirstMatch(t *testing.T) {
	dir := t.TempDir()
	path := buildZipFile(t, dir, []string{
		"README.md",
		"conda_pkgs_linux/okd-install-4.19.15-h2b58dbe_0.conda",
		"conda_pkgs_linux/okd-install-4.19.16-h2b58dbe_0.conda",
	})
	sel, err := selector.Compile(`^conda_pkgs_linux/okd-install-4\.19\.\d+-.*\.conda$`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	p := NewLocal(path, sel)
	count := 0
	for c, err := range p.Enumerate(context.Background()) {
		if err != nil {
			t.Fatalf("Enumerate: %v", err)
		}
		count++
		if c.FilenameHint != "conda_pkgs_linux/okd-install-4.19.15-h2b58dbe_0.conda" {
			t.Errorf("FilenameHint = %q, want the 4.19.15 entry (first match)", c.FilenameHint)
		}
		data, _ := io.ReadAll(c.Body)
		c.Body.Close()
		if string(data) != "content-of-conda_pkgs_linux/okd-install-4.19.15-h2b58dbe_0.conda" {
			t.Errorf("unexpected body: %q", data)
		}
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (first-match yields exactly one candidate)", count)
	}
}

func TestEnumerateNoMatchYieldsError(t *testing.T) {
	dir := t.TempDir()
	path := buildZipFile(t, dir, []string{"README.md"})
	sel, _ := selector.Compile(`^nonexistent/.*\.conda$`)
	p := NewLocal(path, sel)
	sawErr := false
	for _, err := range p.Enumerate(context.Background()) {
		if err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatal("expected a NoMatchError")
	}
}

func TestEnumerateRemoteDownloadsThenSelects(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("pkgs/foo-1.0-0.conda")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Write([]byte("remote-content"))
	zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	sel, _ := selector.Compile(`^pkgs/foo-.*\.conda$`)
	p := NewRemote(nil, srv.URL, sel)
	count := 0
	for c, err := range p.Enumerate(context.Background()) {
		if err != nil {
			t.Fatalf("Enumerate: %v", err)
		}
		count++
		data, _ := io.ReadAll(c.Body)
		c.Body.Close()
		if string(data) != "remote-content" {
			t.Errorf("body = %q", data)
		}
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
