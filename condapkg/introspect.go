// Package condapkg introspects conda packages: it extracts info/index.json
// from either a legacy .tar.bz2 (bzip2-compressed tar) or a modern .conda
// (ZIP containing zstd-compressed inner tars) without decompressing the
// package's payload member (spec.md §4.3).
package condapkg

import (
	"archive/tar"
	"encoding/json"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	condamirror "github.com/babeloff/meso-forge-mirror"
	"github.com/babeloff/meso-forge-mirror/archivefs"
	"github.com/babeloff/meso-forge-mirror/condaerr"
)

const indexJSONPath = "info/index.json"

// Introspect detects the outer container format from magic bytes and
// extracts info/index.json, returning the parsed PackageMeta alongside the
// detected Format. r must support io.ReaderAt and report its own size for
// the .conda (ZIP) path; callers holding only a streaming reader should
// buffer to a temp file first (spec.md §4.7 step 2).
func Introspect(r io.ReaderAt, size int64) (condamirror.PackageMeta, condamirror.Format, error) {
	head := make([]byte, 4)
	if _, err := r.ReadAt(head, 0); err != nil && err != io.EOF {
		return condamirror.PackageMeta{}, condamirror.UnknownFormat,
			condaerr.Wrap("condapkg.Introspect", condaerr.Format, err, "reading magic bytes")
	}
	switch archivefs.Detect(head) {
	case archivefs.ZipFormat:
		m, err := introspectConda(r, size)
		return m, condamirror.CondaFormat, err
	case archivefs.TarBz2Format:
		m, err := introspectLegacy(io.NewSectionReader(r, 0, size))
		return m, condamirror.LegacyFormat, err
	default:
		return condamirror.PackageMeta{}, condamirror.UnknownFormat,
			condaerr.New("condapkg.Introspect", condaerr.Format, "neither .conda (zip) nor .tar.bz2 (bzip2) magic bytes found")
	}
}

// introspectLegacy scans a .tar.bz2 stream sequentially for info/index.json,
// which is expected near the top of a well-formed package.
func introspectLegacy(r io.Reader) (condamirror.PackageMeta, error) {
	seq := archivefs.NewSequentialTarBz2(r)
	for {
		e, er, err := seq.Next()
		if err == io.EOF {
			return condamirror.PackageMeta{}, condaerr.New("condapkg.introspectLegacy", condaerr.Introspection, "info/index.json not found in .tar.bz2")
		}
		if err != nil {
			return condamirror.PackageMeta{}, condaerr.Wrap("condapkg.introspectLegacy", condaerr.Introspection, err, "scanning tar.bz2")
		}
		if e.Path != indexJSONPath {
			continue
		}
		return decodeIndexJSON(er)
	}
}

// introspectConda opens the outer ZIP, locates the info-*.tar.zst member
// (never pkg-*.tar.zst), decompresses it with zstd, and scans the inner tar
// for info/index.json.
func introspectConda(r io.ReaderAt, size int64) (condamirror.PackageMeta, error) {
	ra, err := archivefs.NewRandomAccessZip(r, size)
	if err != nil {
		return condamirror.PackageMeta{}, condaerr.Wrap("condapkg.introspectConda", condaerr.Format, err, "opening outer zip")
	}
	entries, err := ra.Entries()
	if err != nil {
		return condamirror.PackageMeta{}, condaerr.Wrap("condapkg.introspectConda", condaerr.Format, err, "listing outer zip entries")
	}
	var infoMember string
	for _, e := range entries {
		if strings.HasPrefix(e.Path, "info-") && strings.HasSuffix(e.Path, ".tar.zst") {
			infoMember = e.Path
			break
		}
	}
	if infoMember == "" {
		return condamirror.PackageMeta{}, condaerr.New("condapkg.introspectConda", condaerr.Introspection, "no info-*.tar.zst member in .conda package")
	}
	rc, err := ra.OpenName(infoMember)
	if err != nil {
		return condamirror.PackageMeta{}, condaerr.Wrap("condapkg.introspectConda", condaerr.Introspection, err, "opening info member")
	}
	defer rc.Close()

	zr, err := zstd.NewReader(rc)
	if err != nil {
		return condamirror.PackageMeta{}, condaerr.Wrap("condapkg.introspectConda", condaerr.Introspection, err, "initializing zstd reader")
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return condamirror.PackageMeta{}, condaerr.New("condapkg.introspectConda", condaerr.Introspection, "info/index.json not found in info-*.tar.zst")
		}
		if err != nil {
			return condamirror.PackageMeta{}, condaerr.Wrap("condapkg.introspectConda", condaerr.Introspection, err, "scanning info tar")
		}
		if hdr.Typeflag != tar.TypeReg || hdr.Name != indexJSONPath {
			continue
		}
		return decodeIndexJSON(tr)
	}
}

func decodeIndexJSON(r io.Reader) (condamirror.PackageMeta, error) {
	var raw indexJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return condamirror.PackageMeta{}, condaerr.Wrap("condapkg.decodeIndexJSON", condaerr.Introspection, err, "parsing info/index.json")
	}
	m := raw.toMeta()
	if err := m.Validate(); err != nil {
		return condamirror.PackageMeta{}, condaerr.Wrap("condapkg.decodeIndexJSON", condaerr.Introspection, err, "validating info/index.json")
	}
	return m, nil
}

// indexJSON mirrors the on-disk shape of info/index.json, which is looser
// than PackageMeta (build_number may be absent, fields may be null).
type indexJSON struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber *int64   `json:"build_number"`
	Depends     []string `json:"depends"`
	License     string   `json:"license"`
	Subdir      string   `json:"subdir"`
	Platform    string   `json:"platform"`
	Arch        string   `json:"arch"`
	Timestamp   int64    `json:"timestamp"`
}

func (j indexJSON) toMeta() condamirror.PackageMeta {
	var bn int64
	if j.BuildNumber != nil {
		bn = *j.BuildNumber
	}
	return condamirror.PackageMeta{
		Name:        j.Name,
		Version:     j.Version,
		Build:       j.Build,
		BuildNumber: bn,
		Depends:     j.Depends,
		License:     j.License,
		Subdir:      j.Subdir,
		Platform:    j.Platform,
		Arch:        j.Arch,
		Timestamp:   j.Timestamp,
	}
}

