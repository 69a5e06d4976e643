// Package condamirror holds the core vocabulary shared by every component of
// the mirror engine: the metadata record extracted from a conda package, the
// channel record derived from it, and the package identity used for
// diagnostics. Concrete pipeline stages live in their own packages
// (archivefs, condapkg, platform, selector, provider, mirror, sink,
// repodata) and import this package rather than redeclaring its types.
package condamirror

import "fmt"

// PackageMeta holds the fields extracted from a package's info/index.json
// (spec.md §3). After introspection, Subdir is always non-empty: either the
// JSON carried it directly, or the Platform Resolver filled it in.
type PackageMeta struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int64    `json:"build_number"`
	Depends     []string `json:"depends,omitempty"`
	License     string   `json:"license,omitempty"`
	Subdir      string   `json:"subdir,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	Arch        string   `json:"arch,omitempty"`
	Timestamp   int64    `json:"timestamp,omitempty"`
}

// Validate checks the data-model invariants that must hold once introspection
// has completed and before the Platform Resolver and Mirror Engine act on a
// PackageMeta: name and version must be present and build_number may not be
// negative. Subdir emptiness is not checked here — filling it in is the
// Platform Resolver's job, run after Validate.
func (m PackageMeta) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("condamirror: info/index.json missing required field %q", "name")
	}
	if m.Version == "" {
		return fmt.Errorf("condamirror: info/index.json missing required field %q", "version")
	}
	if m.BuildNumber < 0 {
		return fmt.Errorf("condamirror: info/index.json field %q must be non-negative, got %d", "build_number", m.BuildNumber)
	}
	return nil
}

// Format identifies which on-disk conda package container produced this
// metadata, which in turn decides the repodata.json bucket ("packages" vs
// "packages.conda") it is recorded under.
type Format int

const (
	UnknownFormat Format = iota
	// CondaFormat is the modern ZIP-of-zstd-tars container (.conda).
	CondaFormat
	// LegacyFormat is the bzip2-compressed tar container (.tar.bz2).
	LegacyFormat
)

// Ext returns the canonical package filename suffix for a Format.
func (f Format) Ext() string {
	switch f {
	case CondaFormat:
		return ".conda"
	case LegacyFormat:
		return ".tar.bz2"
	default:
		return ""
	}
}

// CanonicalFilename builds the filename a correctly-identified package is
// stored under: <name>-<version>-<build>.<ext> (spec.md §3).
func (m PackageMeta) CanonicalFilename(f Format) string {
	return fmt.Sprintf("%s-%s-%s%s", m.Name, m.Version, m.Build, f.Ext())
}
