package condamirror

import "github.com/package-url/packageurl-go"

// Identity returns a pkg:conda/... PURL for diagnostics: it is attached to
// log lines and error messages for a candidate, and is never parsed back
// into a PackageMeta (that round trip is explicitly out of scope — see
// SPEC_FULL.md §3).
func (m PackageMeta) Identity() string {
	var quals packageurl.Qualifiers
	if m.Build != "" {
		quals = append(quals, packageurl.Qualifier{Key: "build", Value: m.Build})
	}
	if m.Subdir != "" {
		quals = append(quals, packageurl.Qualifier{Key: "subdir", Value: m.Subdir})
	}
	p := packageurl.NewPackageURL("conda", "", m.Name, m.Version, quals, "")
	return p.ToString()
}
