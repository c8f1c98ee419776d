package cmds

import (
	"github.com/spf13/cobra"

	"github.com/lbekk/stagemill/internal/logs"
)

func newShellCmd() *cobra.Command {
	buildOpts := &buildOptions{}
	var shellArgv []string

	cmd := &cobra.Command{
		Use:   "shell [PATH]",
		Short: "Open an interactive shell in the built image",
		Long:  "Build (or reuse) the image and attach an interactive shell inside it, for poking at the transplanted runtime by hand.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			out, err := runBuild(ctx, args, buildOpts)
			if err != nil {
				return err
			}

			image := string(out.Resolution.ImageID)
			logs.Infof("attaching %v in %s", shellArgv, image)

			code, err := out.Engine.RunInteractive(ctx, image, shellArgv)
			if err != nil {
				return err
			}
			if code != 0 {
				logs.Warnf("shell exited with status %d", code)
			}
			return nil
		},
	}

	buildOpts.bindFlags(cmd)
	cmd.Flags().StringSliceVar(&shellArgv, "cmd", []string{"/bin/sh"}, "Command to run instead of the entrypoint")
	return cmd
}
