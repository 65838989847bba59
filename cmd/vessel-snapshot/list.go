package main

import (
	"fmt"
	"strconv"

	"github.com/deepfence/vessel-snapshot/ui"
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List snapshots, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summaries, err := a.offline().List()
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(a.out, ui.InfoMsg("No snapshots found in %s", a.cfg.SnapshotDir))
				return nil
			}

			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, []string{
					s.Name,
					ui.FormatDate(s.CreatedAt),
					strconv.Itoa(s.Containers),
					strconv.Itoa(s.Volumes),
					strconv.Itoa(s.Networks),
					ui.FormatSize(s.Size),
				})
			}
			fmt.Fprintln(a.out, ui.Header("Snapshots"))
			fmt.Fprintln(a.out, ui.Table([]string{"NAME", "CREATED", "CONTAINERS", "VOLUMES", "NETWORKS", "SIZE"}, rows))
			return nil
		},
	}
}
