package cmds

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/dockerclient"
	"github.com/lbekk/stagemill/internal/logs"
	"github.com/lbekk/stagemill/internal/pipeline"
	"github.com/lbekk/stagemill/internal/verify"
)

// engineAdapter narrows the docker client to the verifier's view. StartServer
// needs the wrap because Go will not covary *dockerclient.Server into the
// verify.Server interface on its own.
type engineAdapter struct {
	dc dockerclient.Engine
}

func (a engineAdapter) RunCommand(ctx context.Context, image string, argv []string) (dockerclient.CommandResult, error) {
	return a.dc.RunCommand(ctx, image, argv)
}

func (a engineAdapter) StartServer(ctx context.Context, image string, containerPort int) (verify.Server, error) {
	srv, err := a.dc.StartServer(ctx, image, containerPort)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

func newVerifyCmd() *cobra.Command {
	buildOpts := &buildOptions{}
	var image string
	var skipStartup bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "verify [PATH]",
		Short: "Probe the built image for transplant breakage",
		Long: `Build (or reuse) the image, then probe it: every runtime binary must be on
PATH, every requirement must import, the interpreter series must match the
manifest, and the service must come up and accept connections.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				cfg     *config.Config
				summary *pipeline.Summary
				engine  dockerclient.Engine
				target  string
			)

			if image != "" {
				var err error
				cfg, err = loadConfig(args, buildOpts.Transplant)
				if err != nil {
					return err
				}
				_, summary, _, err = planProject(ctx, cfg)
				if err != nil {
					return err
				}
				engine, err = dockerclient.NewClient()
				if err != nil {
					return err
				}
				target = image
			} else {
				out, err := runBuild(ctx, args, buildOpts)
				if err != nil {
					return err
				}
				cfg, summary, engine = out.Config, out.Summary, out.Engine
				target = string(out.Resolution.ImageID)
			}

			logs.Banner("verify: " + target)

			v := verify.New(engineAdapter{dc: engine}, verify.Options{
				StartupTimeout: timeout,
				SkipStartup:    skipStartup,
			})
			report, err := v.Run(ctx, cfg, summary, target)
			if err != nil && !errors.Is(err, verify.ErrVerify) {
				return err
			}

			for _, c := range report.Checks {
				if c.OK {
					logs.Infof("ok   %s", c.Name)
				} else {
					logs.Errorf("FAIL %s: %s", c.Name, c.Detail)
				}
			}
			return err
		},
	}

	buildOpts.bindFlags(cmd)
	cmd.Flags().StringVar(&image, "image", "", "Verify an existing image instead of building")
	cmd.Flags().BoolVar(&skipStartup, "skip-startup", false, "Skip the live startup probe")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long the service gets to accept connections")
	return cmd
}
