// Package pipeline composes the two-stage build plan: a full-toolchain
// builder stage that resolves the language-level dependency tree, and a
// minimized terminal stage that installs only runtime system packages and
// imports the builder's installed-package tree.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/dockerfile"
	"github.com/lbekk/stagemill/internal/pyversion"
	"github.com/lbekk/stagemill/internal/reqfile"
	"github.com/lbekk/stagemill/internal/sysdeps"
)

// BuilderStage is the alias the transplant copies from.
const BuilderStage = "builder"

// Summary is the resolved projection behind a plan, for inspection and for
// the post-build verifier.
type Summary struct {
	Requirements    []reqfile.Requirement
	BuilderPackages []string
	RuntimePackages []string
	Transplant      config.Transplant
	TransplantPaths []string
	RuntimeBinaries []string
	Port            int
	Entrypoint      []string
}

type PlanResult struct {
	Plan    *dockerfile.Plan
	Summary *Summary
	Err     error
}

type Warning struct {
	Msg string
}

// Planner resolves manifests into a validated plan. Warnings stream on their
// own channel while planning runs; the result channel delivers exactly one
// PlanResult and closes.
type Planner interface {
	Plan(ctx context.Context) <-chan PlanResult
	Warnings() <-chan Warning
}

type planner struct {
	cfg      *config.Config
	warnings chan Warning
}

func NewPlanner(cfg *config.Config) Planner {
	return &planner{
		cfg:      cfg,
		warnings: make(chan Warning, 8),
	}
}

func (p *planner) Warnings() <-chan Warning {
	return p.warnings
}

func (p *planner) Plan(ctx context.Context) <-chan PlanResult {
	ch := make(chan PlanResult, 1)

	go func() {
		defer close(ch)
		defer close(p.warnings)

		plan, summary, err := p.build(ctx)
		ch <- PlanResult{Plan: plan, Summary: summary, Err: err}
	}()

	return ch
}

func (p *planner) warn(format string, args ...any) {
	select {
	case p.warnings <- Warning{Msg: fmt.Sprintf(format, args...)}:
	default:
		// warnings are advisory; never block planning on a slow reader
	}
}

func (p *planner) build(ctx context.Context) (*dockerfile.Plan, *Summary, error) {
	cfg := p.cfg

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	builderPy, err := pyversion.ParseImageRef(cfg.BuilderBase)
	if err != nil {
		return nil, nil, fmt.Errorf("builder base: %w", err)
	}
	finalPy, err := pyversion.ParseImageRef(cfg.FinalBase)
	if err != nil {
		return nil, nil, fmt.Errorf("final base: %w", err)
	}
	if !builderPy.SameSeries(finalPy) {
		// the lint would also catch this, but failing before manifest
		// parsing gives a clearer message
		return nil, nil, fmt.Errorf("builder pins python %s, final pins python %s: stages must share one runtime series",
			builderPy.Series(), finalPy.Series())
	}
	if !finalPy.Slim() {
		p.warn("final base %q is not a minimized variant; the shipped image carries build tooling it does not need", cfg.FinalBase)
	}
	if !builderPy.Exact() {
		p.warn("builder base %q pins only a series; pin a patch version for fully reproducible builds", cfg.BuilderBase)
	}

	appDir := filepath.Join(cfg.ProjectDir, cfg.AppDir)
	if fi, err := os.Stat(appDir); err != nil || !fi.IsDir() {
		return nil, nil, fmt.Errorf("%w: application payload directory %q not found", reqfile.ErrResolution, appDir)
	}

	reqs, err := reqfile.ParseFile(filepath.Join(cfg.ProjectDir, cfg.Requirements))
	if err != nil {
		return nil, nil, err
	}
	names := reqfile.CanonicalNames(reqs)

	for _, r := range reqs {
		if _, pinned := r.Pinned(); !pinned {
			p.warn("requirement %q is not pinned to an exact version", r.Name)
		}
	}
	if len(cfg.Entrypoint) > 0 && !contains(names, reqfile.Canonical(cfg.Entrypoint[0])) {
		p.warn("entrypoint launches %q but the requirements manifest does not declare it", cfg.Entrypoint[0])
	}

	deps := sysdeps.NewSet()
	for _, d := range cfg.System {
		deps.Add(d)
	}
	sysdeps.Project(deps, names)

	mode := cfg.Transplant
	if mode == config.TransplantUnset {
		mode = config.TransplantNarrow
		p.warn("transplant mode not declared; defaulting to the narrow site-packages copy")
	}

	plan := dockerfile.NewPlan()

	builder := plan.AddStage(BuilderStage, cfg.BuilderBase)
	builder.Add(
		dockerfile.Env{Key: "PIP_DISABLE_PIP_VERSION_CHECK", Value: "1"},
		dockerfile.Env{Key: "PYTHONDONTWRITEBYTECODE", Value: "1"},
	)
	builder.Add(sysdeps.AptInstall(deps.Builder())...)
	builder.Add(dockerfile.Workdir{Path: "/build"})
	builder.Add(dockerfile.Copy{Sources: []string{cfg.Requirements}, Dest: "./"})
	builder.Add(dockerfile.RunShell{
		Script: "pip install --no-cache-dir -r " + filepath.Base(cfg.Requirements),
	})

	final := plan.AddStage("", cfg.FinalBase)
	final.Add(dockerfile.Env{Key: "PYTHONUNBUFFERED", Value: "1"})
	final.Add(sysdeps.AptInstall(deps.Runtime())...)

	paths := transplantPaths(mode, finalPy)
	for _, path := range paths {
		final.Add(dockerfile.Copy{FromStage: BuilderStage, Sources: []string{path}, Dest: path})
	}

	final.Add(dockerfile.Workdir{Path: "/srv"})
	final.Add(dockerfile.Copy{Sources: []string{cfg.AppDir}, Dest: "./app", Payload: true})
	final.Add(dockerfile.Expose{Port: cfg.Port})
	final.Add(dockerfile.Entrypoint{Argv: cfg.Entrypoint})

	plan.AddLabel("stagemill.pipeline", cfg.Name)
	plan.AddLabel("stagemill.python", finalPy.Series())

	if err := plan.Validate(); err != nil {
		return nil, nil, err
	}

	summary := &Summary{
		Requirements:    reqs,
		BuilderPackages: deps.Builder(),
		RuntimePackages: deps.Runtime(),
		Transplant:      mode,
		TransplantPaths: paths,
		RuntimeBinaries: sysdeps.RuntimeBinaries(names),
		Port:            cfg.Port,
		Entrypoint:      cfg.Entrypoint,
	}

	return plan, summary, nil
}

// transplantPaths resolves the copy set for a granularity. The narrow variant
// must move the executable-script directory together with site-packages or
// installed console entry points (uvicorn itself) go missing.
func transplantPaths(mode config.Transplant, py pyversion.Version) []string {
	if mode == config.TransplantPrefix {
		return []string{pyversion.Prefix()}
	}
	return []string{py.SitePackages(), pyversion.ScriptsDir()}
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

// CollectWarnings drains a planner's warning channel into a slice, joined for
// log output. Intended for callers that do not stream warnings live.
func CollectWarnings(ch <-chan Warning) []string {
	var out []string
	for w := range ch {
		out = append(out, w.Msg)
	}
	return out
}

// JoinWarnings formats collected warnings for a single log line.
func JoinWarnings(ws []string) string {
	return strings.Join(ws, "; ")
}
