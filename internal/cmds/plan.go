package cmds

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lbekk/stagemill/internal/logs"
	"github.com/lbekk/stagemill/internal/ui"
)

func newPlanCmd() *cobra.Command {
	var transplantFlag string

	cmd := &cobra.Command{
		Use:   "plan [PATH]",
		Short: "Show what a build would do",
		Long:  "Resolve the manifest and print the resolved pipeline: packages per stage, transplant paths, and the probes a verify run would use.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args, transplantFlag)
			if err != nil {
				return err
			}

			restore := logs.Mute()
			_, summary, warnings, err := planProject(cmd.Context(), cfg)
			restore()
			if err != nil {
				return err
			}

			fmt.Printf("pipeline %q (%s)\n", cfg.Name, cfg.ProjectDir)
			fmt.Printf("python %s, port %d, transplant %s\n\n", cfg.Python.Series(), summary.Port, summary.Transplant)

			tbl := ui.NewTable(
				ui.Column{Header: "REQUIREMENT", PaddingRight: 2},
				ui.Column{Header: "SPECIFIER", PaddingRight: 2},
				ui.Column{Header: "MARKER"},
			)
			for _, req := range summary.Requirements {
				tbl.AddRow(req.Name, req.Specifier, req.Marker)
			}
			if err := tbl.Render(os.Stdout); err != nil {
				return err
			}

			fmt.Printf("\nbuilder packages: %s\n", joinOrNone(summary.BuilderPackages))
			fmt.Printf("runtime packages: %s\n", joinOrNone(summary.RuntimePackages))
			fmt.Printf("runtime binaries: %s\n", joinOrNone(summary.RuntimeBinaries))

			fmt.Println("\ntransplant paths:")
			for _, p := range summary.TransplantPaths {
				fmt.Printf("  %s\n", p)
			}
			fmt.Printf("\nentrypoint: %s\n", strings.Join(summary.Entrypoint, " "))

			for _, w := range warnings {
				fmt.Printf("\nwarning: %s", w)
			}
			if len(warnings) > 0 {
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&transplantFlag, "transplant", "", "Transplant mode: narrow or prefix (overrides the manifest)")
	return cmd
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
