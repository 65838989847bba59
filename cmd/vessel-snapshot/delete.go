package main

import (
	"fmt"

	"github.com/deepfence/vessel-snapshot/ui"
	"github.com/spf13/cobra"
)

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a snapshot",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.offline().Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.out, ui.SuccessMsg("Deleted snapshot: %s", args[0]))
			return nil
		},
	}
}
