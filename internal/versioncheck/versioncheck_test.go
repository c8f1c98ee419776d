package versioncheck

import (
	"context"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/lbekk/stagemill/internal/version"
)

func TestCheckSkipsNonReleaseBuilds(t *testing.T) {
	old := version.Version
	version.Version = "dev"
	t.Cleanup(func() { version.Version = old })

	// non-semver versions bail before any cache or network access
	if res := Check(context.Background(), nil); res != nil {
		t.Fatalf("got result %+v for dev build, want nil", res)
	}
}

func TestBuildResult(t *testing.T) {
	cases := []struct {
		current string
		latest  string
		update  bool
	}{
		{"1.2.0", "v1.3.0", true},
		{"1.2.0", "v1.2.0", false},
		{"1.3.0", "v1.2.0", false},
	}

	for _, tc := range cases {
		res := checkAgainst(t, tc.current, tc.latest)
		if res == nil {
			t.Fatalf("%s vs %s: nil result", tc.current, tc.latest)
		}
		if res.UpdateAvailable != tc.update {
			t.Errorf("%s vs %s: update=%v, want %v", tc.current, tc.latest, res.UpdateAvailable, tc.update)
		}
	}

	if res := checkAgainst(t, "1.2.0", "not-a-version"); res != nil {
		t.Fatalf("got result %+v for garbage tag, want nil", res)
	}
}

func checkAgainst(t *testing.T, current, latest string) *Result {
	t.Helper()
	cur, err := semver.NewVersion(current)
	if err != nil {
		t.Fatalf("parse %s: %v", current, err)
	}
	return buildResult(cur, current, latest, "https://example.test/release")
}
