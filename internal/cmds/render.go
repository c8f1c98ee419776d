package cmds

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lbekk/stagemill/internal/logs"
)

func newRenderCmd() *cobra.Command {
	var outPath string
	var transplantFlag string

	cmd := &cobra.Command{
		Use:   "render [PATH]",
		Short: "Render the Dockerfile without building",
		Long:  "Resolve the manifest and print the rendered two-stage Dockerfile.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args, transplantFlag)
			if err != nil {
				return err
			}

			// stdout carries only the Dockerfile so it can be piped
			restore := logs.Mute()
			plan, _, warnings, err := planProject(cmd.Context(), cfg)
			restore()
			logWarnings(warnings)
			if err != nil {
				return err
			}

			df, err := plan.Render()
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, []byte(df.String()), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", outPath, err)
				}
				logs.Infof("wrote %s", outPath)
				return nil
			}

			fmt.Print(df.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write the Dockerfile to a file instead of stdout")
	cmd.Flags().StringVar(&transplantFlag, "transplant", "", "Transplant mode: narrow or prefix (overrides the manifest)")
	return cmd
}
