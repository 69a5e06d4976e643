package platform

import "testing"

func TestResolveSubdirFieldWins(t *testing.T) {
	r := New()
	got := r.Resolve("foo", "osx-arm64", "linux", "x86_64", "foo-1.0-linux-64.tar.bz2")
	if got.Subdir != "osx-arm64" || got.Source != "subdir" {
		t.Errorf("got %+v", got)
	}
}

func TestResolvePlatformArchFallback(t *testing.T) {
	r := New()
	got := r.Resolve("foo", "", "linux", "aarch64", "")
	if got.Subdir != "linux-aarch64" || got.Source != "platform-arch" {
		t.Errorf("got %+v", got)
	}
}

func TestResolveNameHeuristic(t *testing.T) {
	r := New()
	got := r.Resolve("coreos-installer", "", "", "", "")
	if got.Subdir != "linux-64" || got.Source != "name-heuristic" {
		t.Errorf("got %+v", got)
	}
}

func TestResolveFilenameToken(t *testing.T) {
	r := New()
	got := r.Resolve("unknown-pkg", "", "", "", "bundle/conda_pkgs_osx-64/unknown-pkg-1.0-0.conda")
	if got.Subdir != "osx-64" || got.Source != "filename-token" {
		t.Errorf("got %+v", got)
	}
}

func TestResolveFilenameTokenUnderscoreForm(t *testing.T) {
	r := New()
	got := r.Resolve("unknown-pkg", "", "", "", "pkg-linux_64-0.conda")
	if got.Subdir != "linux-64" || got.Source != "filename-token" {
		t.Errorf("got %+v, want linux-64 via filename-token", got)
	}
}

func TestResolveDefaultsToNoarch(t *testing.T) {
	r := New()
	got := r.Resolve("totally-unknown", "", "", "", "totally-unknown-1.0-0.conda")
	if got.Subdir != DefaultSubdir || got.Source != "default" {
		t.Errorf("got %+v", got)
	}
}

func TestWithHeuristicsDoesNotMutateReceiver(t *testing.T) {
	base := New()
	extended := base.WithHeuristics(map[string]string{"my-custom-pkg": "win-64"})
	if got := base.Resolve("my-custom-pkg", "", "", "", ""); got.Source != "default" {
		t.Errorf("base resolver should be unaffected, got %+v", got)
	}
	if got := extended.Resolve("my-custom-pkg", "", "", "", ""); got.Subdir != "win-64" || got.Source != "name-heuristic" {
		t.Errorf("extended resolver should pick up the new heuristic, got %+v", got)
	}
}

func TestWithHeuristicsOverridesDefault(t *testing.T) {
	base := New()
	extended := base.WithHeuristics(map[string]string{"coreos-installer": "osx-arm64"})
	if got := extended.Resolve("coreos-installer", "", "", "", ""); got.Subdir != "osx-arm64" {
		t.Errorf("override should win, got %+v", got)
	}
}

func TestUnknownPlatformArchCombinationFallsThrough(t *testing.T) {
	r := New()
	got := r.Resolve("totally-unknown", "", "solaris", "sparc", "")
	if got.Source != "default" {
		t.Errorf("unrecognized platform/arch combo should fall through to default, got %+v", got)
	}
}
