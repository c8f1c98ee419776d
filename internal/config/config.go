// Package config loads the pipeline manifest (stagemill.hcl) that declares
// the two build stages: base image pinning, the application payload, the
// exposed port, and the scope-tagged system dependency set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/lbekk/stagemill/internal/pyversion"
	"github.com/lbekk/stagemill/internal/sysdeps"
)

// ManifestName is the file looked up in the project directory.
const ManifestName = "stagemill.hcl"

// Transplant selects how the installed-package tree moves from the builder
// stage into the final stage.
type Transplant string

const (
	// TransplantUnset defers the choice to the caller (flag, prompt, or
	// the narrow default).
	TransplantUnset Transplant = ""
	// TransplantNarrow copies site-packages plus the executable-script
	// directory. Leaner; validated by the transplant-completeness check.
	TransplantNarrow Transplant = "narrow"
	// TransplantPrefix copies the whole /usr/local prefix. Broader and
	// more robust at the cost of image size.
	TransplantPrefix Transplant = "prefix"
)

// ParseTransplant validates a transplant mode string.
func ParseTransplant(s string) (Transplant, error) {
	switch Transplant(s) {
	case TransplantUnset, TransplantNarrow, TransplantPrefix:
		return Transplant(s), nil
	}
	return "", fmt.Errorf("unknown transplant mode %q (want narrow or prefix)", s)
}

// Config is the resolved pipeline manifest.
type Config struct {
	Name       string
	ProjectDir string

	Python      pyversion.Version
	BuilderBase string
	FinalBase   string

	AppDir       string
	Requirements string
	Port         int
	Transplant   Transplant
	Entrypoint   []string

	System []sysdeps.Dep
}

type fileRoot struct {
	Pipelines []*pipelineBlock `hcl:"pipeline,block"`
}

type pipelineBlock struct {
	Name         string         `hcl:"name,label"`
	Python       string         `hcl:"python"`
	BuilderBase  string         `hcl:"builder_base,optional"`
	FinalBase    string         `hcl:"final_base,optional"`
	AppDir       string         `hcl:"app_dir,optional"`
	Requirements string         `hcl:"requirements,optional"`
	Port         int            `hcl:"port,optional"`
	Transplant   string         `hcl:"transplant,optional"`
	Entrypoint   []string       `hcl:"entrypoint,optional"`
	Systems      []*systemBlock `hcl:"system,block"`
}

type systemBlock struct {
	Name  string `hcl:"name,label"`
	Scope string `hcl:"scope,optional"`
	Pin   string `hcl:"pin,optional"`
}

// seriesOnly is the first-pass schema: python and port are decoded before
// everything else so the rest of the block can interpolate them.
type seriesOnly struct {
	Python string   `hcl:"python"`
	Port   int      `hcl:"port,optional"`
	Rest   hcl.Body `hcl:",remain"`
}

// Load reads the manifest from projectDir, falling back to Default when no
// manifest file exists.
func Load(projectDir string) (*Config, error) {
	path := filepath.Join(projectDir, ManifestName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(projectDir), nil
	}
	return LoadFile(projectDir, path)
}

// LoadFile parses one manifest file.
func LoadFile(projectDir, path string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", path, diags)
	}

	var root struct {
		Pipelines []struct {
			Name string   `hcl:"name,label"`
			Body hcl.Body `hcl:",remain"`
		} `hcl:"pipeline,block"`
	}
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("decode %s: %w", path, diags)
	}
	if len(root.Pipelines) == 0 {
		return nil, fmt.Errorf("%s declares no pipeline block", path)
	}
	if len(root.Pipelines) > 1 {
		return nil, fmt.Errorf("%s declares %d pipeline blocks; exactly one image is built", path, len(root.Pipelines))
	}

	raw := root.Pipelines[0]

	// pass 1: pin the runtime series so pass 2 can interpolate it
	var head seriesOnly
	if diags := gohcl.DecodeBody(raw.Body, nil, &head); diags.HasErrors() {
		return nil, fmt.Errorf("decode pipeline %q: %w", raw.Name, diags)
	}

	series, err := pyversion.ParseImageRef("python:" + head.Python)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: python = %q: %w", raw.Name, head.Python, err)
	}

	port := head.Port
	if port == 0 {
		port = defaultPort
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"python": cty.ObjectVal(map[string]cty.Value{
				"series":        cty.StringVal(series.Series()),
				"site_packages": cty.StringVal(series.SitePackages()),
			}),
			"port": cty.NumberIntVal(int64(port)),
		},
		Functions: manifestFunctions,
	}

	block := &pipelineBlock{Name: raw.Name}
	if diags := gohcl.DecodeBody(raw.Body, evalCtx, block); diags.HasErrors() {
		return nil, fmt.Errorf("decode pipeline %q: %w", raw.Name, diags)
	}

	return resolve(projectDir, block, series, port)
}

const defaultPort = 8000

// manifestFunctions are the cty builtins manifests may call. Small on
// purpose: manifests describe an image, they don't compute.
var manifestFunctions = map[string]function.Function{
	"tostring": stdlib.MakeToFunc(cty.String),
	"tonumber": stdlib.MakeToFunc(cty.Number),
	"format":   stdlib.FormatFunc,
	"join":     stdlib.JoinFunc,
	"upper":    stdlib.UpperFunc,
	"lower":    stdlib.LowerFunc,
}

func resolve(projectDir string, block *pipelineBlock, series pyversion.Version, port int) (*Config, error) {
	cfg := &Config{
		Name:         block.Name,
		ProjectDir:   projectDir,
		Python:       series,
		BuilderBase:  block.BuilderBase,
		FinalBase:    block.FinalBase,
		AppDir:       block.AppDir,
		Requirements: block.Requirements,
		Port:         port,
		Entrypoint:   block.Entrypoint,
	}

	if cfg.BuilderBase == "" {
		cfg.BuilderBase = "python:" + block.Python
	}
	if cfg.FinalBase == "" {
		cfg.FinalBase = "python:" + block.Python + "-slim"
	}
	if cfg.AppDir == "" {
		cfg.AppDir = "app"
	}
	if cfg.Requirements == "" {
		cfg.Requirements = "requirements.txt"
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("pipeline %q: port %d out of range", block.Name, cfg.Port)
	}

	mode, err := ParseTransplant(block.Transplant)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", block.Name, err)
	}
	cfg.Transplant = mode

	if len(cfg.Entrypoint) == 0 {
		cfg.Entrypoint = DefaultEntrypoint(cfg.Port)
	}

	for _, sys := range block.Systems {
		scope := sysdeps.ScopeRuntime
		if sys.Scope != "" {
			scope, err = sysdeps.ParseScope(sys.Scope)
			if err != nil {
				return nil, fmt.Errorf("pipeline %q: system %q: %w", block.Name, sys.Name, err)
			}
		}
		cfg.System = append(cfg.System, sysdeps.Dep{
			Name:   sys.Name,
			Scope:  scope,
			Pin:    sys.Pin,
			Reason: "declared in " + ManifestName,
		})
	}

	return cfg, nil
}

// Default is the manifest-less configuration matching the document-processing
// API this pipeline packages: python 3.11, uvicorn on 8000, app/ payload.
func Default(projectDir string) *Config {
	series, _ := pyversion.ParseImageRef("python:3.11")
	return &Config{
		Name:         filepath.Base(projectDir),
		ProjectDir:   projectDir,
		Python:       series,
		BuilderBase:  "python:3.11",
		FinalBase:    "python:3.11-slim",
		AppDir:       "app",
		Requirements: "requirements.txt",
		Port:         defaultPort,
		Entrypoint:   DefaultEntrypoint(defaultPort),
	}
}

// DefaultEntrypoint launches the ASGI server bound to all interfaces.
func DefaultEntrypoint(port int) []string {
	return []string{"uvicorn", "app.main:app", "--host", "0.0.0.0", "--port", fmt.Sprintf("%d", port)}
}
