package reqfile

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_PreservesOrderAndSpecifiers(t *testing.T) {
	manifest := `fastapi==0.110.0
uvicorn[standard]>=0.27,<0.30
pytesseract
pdf2image==1.17.0

# db layer
psycopg2-binary==2.9.9
`
	reqs, err := Parse(strings.NewReader(manifest))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantOrder := []string{"fastapi", "uvicorn", "pytesseract", "pdf2image", "psycopg2-binary"}
	if len(reqs) != len(wantOrder) {
		t.Fatalf("got %d requirements, want %d", len(reqs), len(wantOrder))
	}
	for i, want := range wantOrder {
		if reqs[i].Canonical != want {
			t.Fatalf("position %d: got %s, want %s", i, reqs[i].Canonical, want)
		}
	}

	if reqs[1].Specifier != ">=0.27,<0.30" {
		t.Fatalf("specifier not kept: %q", reqs[1].Specifier)
	}
	if len(reqs[1].Extras) != 1 || reqs[1].Extras[0] != "standard" {
		t.Fatalf("extras not parsed: %v", reqs[1].Extras)
	}
}

func TestParse_Pinned(t *testing.T) {
	reqs, err := Parse(strings.NewReader("Pillow==10.2.0\npdfplumber>=0.10\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, ok := reqs[0].Pinned()
	if !ok || v != "10.2.0" {
		t.Fatalf("expected exact pin 10.2.0, got %q ok=%v", v, ok)
	}
	if _, ok := reqs[1].Pinned(); ok {
		t.Fatalf("range specifier must not report a pin")
	}
}

func TestParse_EnvironmentMarker(t *testing.T) {
	reqs, err := Parse(strings.NewReader(`typing-extensions>=4.0; python_version < "3.11"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reqs[0].Marker != `python_version < "3.11"` {
		t.Fatalf("marker not kept: %q", reqs[0].Marker)
	}
	if reqs[0].Specifier != ">=4.0" {
		t.Fatalf("specifier polluted by marker: %q", reqs[0].Specifier)
	}
}

func TestParse_DuplicateIsFatal(t *testing.T) {
	_, err := Parse(strings.NewReader("pillow==10.2.0\nPillow==9.0.0\n"))
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("expected ErrResolution, got %v", err)
	}
	var re *ResolutionError
	if !errors.As(err, &re) || re.Line != 2 {
		t.Fatalf("expected failure pinned to line 2, got %+v", err)
	}
}

func TestParse_RejectsOptionsAndURLs(t *testing.T) {
	for _, manifest := range []string{
		"-r other.txt\n",
		"--index-url https://example.invalid/simple\n",
		"git+https://example.invalid/repo.git\n",
		"./vendored/pkg\n",
	} {
		if _, err := Parse(strings.NewReader(manifest)); !errors.Is(err, ErrResolution) {
			t.Fatalf("manifest %q: expected ErrResolution, got %v", manifest, err)
		}
	}
}

func TestParse_LineContinuation(t *testing.T) {
	reqs, err := Parse(strings.NewReader("uvicorn>=0.27,\\\n<0.30\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reqs[0].Specifier != ">=0.27,<0.30" {
		t.Fatalf("continuation not joined: %q", reqs[0].Specifier)
	}
}

func TestParse_MalformedSpecifier(t *testing.T) {
	_, err := Parse(strings.NewReader("fastapi 0.110.0\n"))
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("expected ErrResolution, got %v", err)
	}
}

func TestCanonical(t *testing.T) {
	cases := map[string]string{
		"Pillow":          "pillow",
		"psycopg2_binary": "psycopg2-binary",
		"ruamel.yaml":     "ruamel-yaml",
		"A__b--c":         "a-b-c",
	}
	for in, want := range cases {
		if got := Canonical(in); got != want {
			t.Fatalf("Canonical(%s): got %s, want %s", in, got, want)
		}
	}
}
