package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/logs"
	"github.com/lbekk/stagemill/internal/state"
	"github.com/lbekk/stagemill/internal/version"
	"github.com/lbekk/stagemill/internal/versioncheck"
)

func newVersionCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the stagemill version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("stagemill " + version.Get())
			if !check {
				return nil
			}

			ctx := cmd.Context()

			var kv *state.KVStore
			db, err := state.Open(ctx, state.Config{Path: config.StateDBFile()})
			if err == nil {
				defer db.Close()
				kv, err = state.NewKVStore(ctx, db)
				if err != nil {
					logs.Debugf("kv store: %v", err)
				}
			}

			res := versioncheck.Check(ctx, kv)
			switch {
			case res == nil:
				fmt.Println("update check skipped (not a release build, or lookup failed)")
			case res.UpdateAvailable:
				fmt.Printf("update available: %s -> %s\n  %s\n", res.CurrentVersion, res.LatestVersion, res.UpdateURL)
			default:
				fmt.Println("up to date")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Check GitHub for a newer release")
	return cmd
}
