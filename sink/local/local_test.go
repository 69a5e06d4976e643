package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/babeloff/meso-forge-mirror/digest"
)

func TestPlaceWritesFileUnderSubdir(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	err := s.Place(context.Background(), "linux-64", "foo-1.0-0.conda", strings.NewReader("content"), 7, digest.Digest{})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "linux-64", "foo-1.0-0.conda"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "content" {
		t.Errorf("content = %q", data)
	}
}

func TestPlaceIsIdempotentForSameKey(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	if err := s.Place(context.Background(), "noarch", "foo-1.0-0.conda", strings.NewReader("v1"), 2, digest.Digest{}); err != nil {
		t.Fatalf("Place 1: %v", err)
	}
	if err := s.Place(context.Background(), "noarch", "foo-1.0-0.conda", strings.NewReader("v2"), 2, digest.Digest{}); err != nil {
		t.Fatalf("Place 2: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "noarch", "foo-1.0-0.conda"))
	if string(data) != "v2" {
		t.Errorf("expected re-placement to overwrite, got %q", data)
	}
}

func TestPlaceMirrorsToCacheRoot(t *testing.T) {
	root := t.TempDir()
	cache := t.TempDir()
	s := New(root)
	s.CacheRoot = cache
	if err := s.Place(context.Background(), "linux-64", "foo-1.0-0.conda", strings.NewReader("content"), 7, digest.Digest{}); err != nil {
		t.Fatalf("Place: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(cache, "linux-64", "foo-1.0-0.conda"))
	if err != nil {
		t.Fatalf("cache mirror missing: %v", err)
	}
	if string(data) != "content" {
		t.Errorf("cache content = %q", data)
	}
}

func TestWriteRepodataAndChanneldata(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	if err := s.WriteRepodata(context.Background(), "linux-64", []byte(`{"info":{"subdir":"linux-64"}}`)); err != nil {
		t.Fatalf("WriteRepodata: %v", err)
	}
	if err := s.WriteChanneldata(context.Background(), []byte(`{"subdirs":["linux-64","noarch"]}`)); err != nil {
		t.Fatalf("WriteChanneldata: %v", err)
	}
	if _, err := os.ReadFile(filepath.Join(root, "linux-64", "repodata.json")); err != nil {
		t.Errorf("repodata.json missing: %v", err)
	}
	if _, err := os.ReadFile(filepath.Join(root, "channeldata.json")); err != nil {
		t.Errorf("channeldata.json missing: %v", err)
	}
}
