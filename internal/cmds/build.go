package cmds

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lbekk/stagemill/internal/cache"
	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/dockerclient"
	"github.com/lbekk/stagemill/internal/dockerfile"
	"github.com/lbekk/stagemill/internal/guardrails"
	"github.com/lbekk/stagemill/internal/logs"
	"github.com/lbekk/stagemill/internal/pipeline"
	"github.com/lbekk/stagemill/internal/runtime"
	"github.com/lbekk/stagemill/internal/state"
)

type buildOptions struct {
	Rebuild    bool
	Transplant string
	SkipScan   bool
}

func (o *buildOptions) bindFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.Rebuild, "rebuild", false, "Build even when a cached image matches")
	cmd.Flags().StringVar(&o.Transplant, "transplant", "", "Transplant mode: narrow or prefix (overrides the manifest)")
	cmd.Flags().BoolVar(&o.SkipScan, "skip-scan", false, "Skip the pre-build secrets scan of the build context")
}

func newBuildCmd() *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build [PATH]",
		Short: "Build the two-stage image for a project",
		Long:  "Resolve the manifest, render the two-stage plan, and build (or reuse) the final image.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := runBuild(cmd.Context(), args, opts)
			if err != nil {
				return err
			}
			logs.Infof("image: %s", out.Resolution.ImageID)
			return nil
		},
	}

	opts.bindFlags(cmd)
	return cmd
}

// buildOutput is everything a build leaves behind that later steps (verify,
// shell) need.
type buildOutput struct {
	Config     *config.Config
	Summary    *pipeline.Summary
	Resolution cache.Resolution
	Engine     dockerclient.Engine
}

// runBuild is the shared path behind build, verify, and shell: manifest to
// usable image, through the image cache.
func runBuild(ctx context.Context, args []string, opts *buildOptions) (*buildOutput, error) {
	cfg, err := loadConfig(args, opts.Transplant)
	if err != nil {
		return nil, err
	}
	promptTransplant(cfg)

	if rt := runtime.FromContext(ctx); rt != nil {
		rt.OpenBuildLog(cfg.Name)
	}

	logs.Banner("stagemill build: " + cfg.Name)
	logs.Infof("project: %s", cfg.ProjectDir)
	logs.Infof("python %s, %s -> %s", cfg.Python.Series(), cfg.BuilderBase, cfg.FinalBase)

	plan, summary, warnings, err := planProject(ctx, cfg)
	logWarnings(warnings)
	if err != nil {
		return nil, err
	}

	dc, err := dockerclient.NewClient()
	if err != nil {
		return nil, err
	}

	mgr, err := cache.NewManager(config.CacheStateFile())
	if err != nil {
		return nil, err
	}

	contextKey, err := cache.KeyBuildContext(cfg.ProjectDir, cfg.Requirements, cfg.AppDir)
	if err != nil {
		return nil, err
	}

	imageExists := func(ctx context.Context, id cache.ImageID) bool {
		if opts.Rebuild {
			// pretending the image is gone forces the manager down
			// the build path and replaces the cache entry
			return false
		}
		return dc.ImageExists(ctx, string(id))
	}

	renderDockerfile := func(ctx context.Context) (dockerfile.Dockerfile, error) {
		return plan.Render()
	}

	buildImageSync := func(ctx context.Context, df dockerfile.Dockerfile, tag string) (cache.ImageID, error) {
		if !opts.SkipScan {
			if err := scanBuildContext(ctx, cfg); err != nil {
				return "", err
			}
		}

		logs.Infof("building %s", tag)
		tail := logs.NewTailBox("image build: " + tag)
		for _, line := range df {
			tail.Println(line)
		}

		started := time.Now()
		built, buildErr := dc.BuildImage(ctx, dockerclient.BuildRequest{
			Dockerfile: df.String(),
			ContextDir: cfg.ProjectDir,
			Include:    []string{cfg.Requirements, cfg.AppDir},
			Tag:        tag,
		})
		tail.Close()
		if buildErr != nil {
			return "", buildErr
		}

		logs.Infof("built %s in %s", built, time.Since(started).Round(time.Millisecond))
		return cache.ImageID(built), nil
	}

	started := time.Now()
	res, err := mgr.ResolveImage(ctx, cfg, contextKey, imageExists, renderDockerfile, buildImageSync)
	if err != nil {
		return nil, err
	}
	if res.CacheHit {
		logs.Infof("cache hit, reusing %s", res.ImageID)
	}

	engineID, err := dc.ImageID(ctx, string(res.ImageID))
	if err != nil {
		logs.Debugf("resolving engine image ID: %v", err)
		engineID = string(res.ImageID)
	}

	recordBuild(ctx, cfg, res, engineID, time.Since(started))

	return &buildOutput{
		Config:     cfg,
		Summary:    summary,
		Resolution: res,
		Engine:     dc,
	}, nil
}

// scanBuildContext flags credential-looking files before they end up in an
// image layer. Interactive runs get a veto; unattended runs warn and ship.
func scanBuildContext(ctx context.Context, cfg *config.Config) error {
	findings, err := guardrails.Scan(ctx, cfg.ProjectDir, cfg.Requirements, cfg.AppDir)
	if err != nil {
		return err
	}
	if len(findings) == 0 {
		return nil
	}

	for _, f := range findings {
		logs.Warnf("possible secret in build context: %s (%s)", f.Path, f.Reason)
	}

	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return nil
	}

	ok, err := logs.PromptConfirm("The flagged files will be baked into the image. Build anyway?")
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("build aborted: secrets scan flagged the build context")
	}
	return nil
}

// recordBuild appends the run to the build history. History is a trace, not
// a dependency: failures log and move on.
func recordBuild(ctx context.Context, cfg *config.Config, res cache.Resolution, engineID string, took time.Duration) {
	db, err := state.Open(ctx, state.Config{Path: config.StateDBFile()})
	if err != nil {
		logs.Warnf("build history unavailable: %v", err)
		return
	}
	defer db.Close()

	store, err := state.NewBuildStore(ctx, db)
	if err != nil {
		logs.Warnf("build history unavailable: %v", err)
		return
	}

	rec := &state.BuildRecord{
		Project:  cfg.ProjectDir,
		Pipeline: cfg.Name,
		ImageRef: string(res.ImageID),
		ImageID:  engineID,
		CacheHit: res.CacheHit,
		Duration: took,
	}
	if err := store.Record(ctx, rec); err != nil {
		logs.Warnf("recording build: %v", err)
	}
}
