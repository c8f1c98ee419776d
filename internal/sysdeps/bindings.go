package sysdeps

// Binding describes the system-level footprint of a language package that
// wraps a native tool or library. The language package itself is portable
// between stages; the native side is not, and must be installed in whichever
// filesystem serves requests.
type Binding struct {
	// Import is the module name the package exposes, when it differs from
	// the distribution name. Used by the transplant-completeness probe.
	Import string
	// Binaries the binding shells out to at runtime; each must resolve on
	// the final image's search path.
	Binaries []string
	// Runtime system packages the final stage must install.
	Runtime []Dep
	// Build system packages only the builder stage needs.
	Build []Dep
}

// bindings maps canonical (PEP 503) distribution names to their native
// footprint. Only packages with a native side appear here; pure-python
// packages need no projection.
var bindings = map[string]Binding{
	"pytesseract": {
		Binaries: []string{"tesseract"},
		Runtime: []Dep{
			{Name: "tesseract-ocr", Scope: ScopeRuntime, Reason: "pytesseract"},
			{Name: "tesseract-ocr-por", Scope: ScopeRuntime, Reason: "pytesseract language pack"},
			{Name: "tesseract-ocr-eng", Scope: ScopeRuntime, Reason: "pytesseract language pack"},
		},
	},
	"pdf2image": {
		Binaries: []string{"pdftoppm"},
		Runtime: []Dep{
			{Name: "poppler-utils", Scope: ScopeRuntime, Reason: "pdf2image"},
		},
	},
	"pdfplumber": {
		// pdfplumber is pure python on top of pdfminer, but shares the
		// poppler rasterizer with pdf2image for page previews.
		Runtime: []Dep{
			{Name: "poppler-utils", Scope: ScopeRuntime, Reason: "pdfplumber"},
		},
	},
	"psycopg2": {
		Runtime: []Dep{
			{Name: "libpq5", Scope: ScopeRuntime, Reason: "psycopg2"},
		},
		Build: []Dep{
			{Name: "libpq-dev", Scope: ScopeBuild, Reason: "psycopg2"},
			{Name: "gcc", Scope: ScopeBuild, Reason: "psycopg2"},
		},
	},
	"psycopg2-binary": {
		Import: "psycopg2",
		// wheels bundle libpq, nothing to project at runtime
	},
	"pillow": {
		Import: "PIL",
	},
	"uvicorn": {
		Binaries: []string{"uvicorn"},
	},
	"python-multipart": {
		Import: "multipart",
	},
}

// LookupBinding returns the native footprint for a canonical distribution
// name, if the package is a known binding.
func LookupBinding(canonical string) (Binding, bool) {
	b, ok := bindings[canonical]
	return b, ok
}

// ImportName returns the module to probe for a distribution: the binding
// override when known, otherwise the canonical name with dashes folded to
// underscores (the usual wheel layout).
func ImportName(canonical string) string {
	if b, ok := bindings[canonical]; ok && b.Import != "" {
		return b.Import
	}
	out := make([]byte, len(canonical))
	for i := 0; i < len(canonical); i++ {
		c := canonical[i]
		if c == '-' || c == '.' {
			c = '_'
		}
		out[i] = c
	}
	return string(out)
}

// Project folds the native footprint of every requirement into the manifest.
// This is the mechanical projection that keeps the runtime package set a
// superset of what the installed bindings invoke.
func Project(set *Set, canonicalNames []string) {
	for _, name := range canonicalNames {
		b, ok := bindings[name]
		if !ok {
			continue
		}
		for _, d := range b.Runtime {
			set.Add(d)
		}
		for _, d := range b.Build {
			set.Add(d)
		}
	}
}

// RuntimeBinaries lists the executables that must resolve on the final
// image's search path for the given requirements.
func RuntimeBinaries(canonicalNames []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, name := range canonicalNames {
		b, ok := bindings[name]
		if !ok {
			continue
		}
		for _, bin := range b.Binaries {
			if !seen[bin] {
				seen[bin] = true
				out = append(out, bin)
			}
		}
	}
	return out
}
