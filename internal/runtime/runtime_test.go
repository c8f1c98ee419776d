package runtime

import (
	"strings"
	"testing"
)

func TestNewRunIDsAreDistinct(t *testing.T) {
	a := New()
	b := New()
	t.Cleanup(a.CancelCtx)
	t.Cleanup(b.CancelCtx)

	if a.RunID() == "" {
		t.Fatal("empty run ID")
	}
	// same-second starts must not collide on the build log file
	if a.RunID() == b.RunID() {
		t.Fatalf("both runs got ID %s", a.RunID())
	}
	if !strings.Contains(a.RunID(), "-") {
		t.Fatalf("run ID %s missing random suffix", a.RunID())
	}
}

func TestFromContext(t *testing.T) {
	rt := New()
	t.Cleanup(rt.CancelCtx)

	if got := FromContext(rt.Ctx()); got != rt {
		t.Fatalf("got %p from context, want %p", got, rt)
	}
}
