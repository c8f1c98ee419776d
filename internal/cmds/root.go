package cmds

import (
	"github.com/spf13/cobra"

	"github.com/lbekk/stagemill/internal/logs"
	"github.com/lbekk/stagemill/internal/runtime"
)

var verbose bool

func Execute(rt *runtime.Runtime) error {
	rootCmd := &cobra.Command{
		Use:   "stagemill",
		Short: "Two-stage container images for Python services",
		Long: `stagemill packages a Python service into a minimal container image.

A full-toolchain builder stage resolves and compiles the dependency tree,
then a slim final stage receives the installed packages, the runtime system
libraries, and the application payload.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logs.SetVerbose(verbose)
			return nil
		},
		// we render errors ourselves
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(newRenderCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd.ExecuteContext(rt.Ctx())
}
