package cmds

import (
	"context"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/dockerfile"
	"github.com/lbekk/stagemill/internal/logs"
	"github.com/lbekk/stagemill/internal/pipeline"
	"github.com/lbekk/stagemill/internal/ui"
	"github.com/lbekk/stagemill/internal/utils"
)

// resolveProjectDir turns the optional positional PATH argument into an
// absolute project directory, defaulting to the working directory.
func resolveProjectDir(args []string) (string, error) {
	pathArg := "."
	if len(args) == 1 {
		pathArg = args[0]
	}
	dir, err := utils.ResolveFolderStrict(pathArg)
	if err != nil {
		return "", fmt.Errorf("resolve project path %q: %w", pathArg, err)
	}
	return dir, nil
}

// loadConfig reads the manifest and applies command-line overrides.
func loadConfig(args []string, transplantFlag string) (*config.Config, error) {
	dir, err := resolveProjectDir(args)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	if transplantFlag != "" {
		mode, err := config.ParseTransplant(transplantFlag)
		if err != nil {
			return nil, err
		}
		cfg.Transplant = mode
	}

	return cfg, nil
}

// promptTransplant asks for a transplant mode when the manifest leaves it
// open and a human is on the other end. Non-interactive runs keep the
// default.
func promptTransplant(cfg *config.Config) {
	if cfg.Transplant != config.TransplantUnset {
		return
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return
	}

	choice, err := logs.PromptSelectOne("No transplant mode in the manifest. What should move to the final stage?", []ui.SelectOption{
		logs.NewSelectOption("site-packages and console scripts (recommended)", string(config.TransplantNarrow)),
		logs.NewSelectOption("the whole interpreter prefix", string(config.TransplantPrefix)),
	})
	if err != nil {
		logs.Debugf("transplant prompt: %v", err)
		return
	}
	cfg.Transplant = config.Transplant(choice.OptionID())
}

// planProject runs the planner to completion and gathers its warnings.
func planProject(ctx context.Context, cfg *config.Config) (*dockerfile.Plan, *pipeline.Summary, []string, error) {
	p := pipeline.NewPlanner(cfg)
	res := <-p.Plan(ctx)
	warnings := pipeline.CollectWarnings(p.Warnings())

	if res.Err != nil {
		return nil, nil, warnings, res.Err
	}
	return res.Plan, res.Summary, warnings, nil
}

func logWarnings(warnings []string) {
	for _, w := range warnings {
		logs.Warnf("%s", w)
	}
}
