package cmds

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/state"
	"github.com/lbekk/stagemill/internal/ui"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var all bool

	cmd := &cobra.Command{
		Use:   "history [PATH]",
		Short: "Show past builds",
		Long:  "List recorded builds for the given project, newest first. With --all, list builds across every project.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			project := ""
			if !all {
				dir, err := resolveProjectDir(args)
				if err != nil {
					return err
				}
				project = dir
			}

			db, err := state.Open(ctx, state.Config{Path: config.StateDBFile()})
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := state.NewBuildStore(ctx, db)
			if err != nil {
				return err
			}

			records, err := store.History(ctx, project, limit)
			if err != nil {
				return err
			}

			tbl := ui.NewTable(
				ui.Column{Header: "WHEN", PaddingRight: 2},
				ui.Column{Header: "PIPELINE", PaddingRight: 2},
				ui.Column{Header: "IMAGE", MaxWidth: 48, PaddingRight: 2},
				ui.Column{Header: "CACHE", PaddingRight: 2},
				ui.Column{Header: "TOOK", Align: ui.AlignRight},
			)
			for _, rec := range records {
				cache := "miss"
				if rec.CacheHit {
					cache = "hit"
				}
				tbl.AddRow(
					rec.CreatedAt.Local().Format(time.DateTime),
					rec.Pipeline,
					rec.ImageRef,
					cache,
					rec.Duration.Round(time.Millisecond).String(),
				)
			}
			if len(records) == limit {
				tbl.AddRow("...", "", "showing last "+strconv.Itoa(limit), "", "")
			}
			return tbl.Render(os.Stdout)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to show")
	cmd.Flags().BoolVar(&all, "all", false, "Show builds across all projects")
	return cmd
}
