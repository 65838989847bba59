package main

import (
	"fmt"

	"github.com/deepfence/vessel-snapshot/snapshot"
	"github.com/deepfence/vessel-snapshot/ui"
	"github.com/spf13/cobra"
)

func newSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save [label]",
		Short: "Capture the runtime state into a new snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := ""
			if len(args) == 1 {
				label = args[0]
			}
			rt, err := a.connect()
			if err != nil {
				return err
			}
			defer rt.Close()

			fmt.Fprintln(a.out, ui.InfoMsg("Capturing %s state...", rt.Name()))
			saved, err := snapshot.New(a.store(), rt, a.options()).Save(cmd.Context(), label)
			if err != nil {
				return err
			}

			for _, w := range saved.Warnings {
				fmt.Fprintln(a.out, ui.WarnMsg("%v", w))
			}
			fmt.Fprintln(a.out, ui.SuccessMsg("Snapshot saved: %s", ui.Bold(saved.Name)))
			fmt.Fprintf(a.out, "  Saved %d containers, %d volumes, %d networks\n",
				len(saved.State.Containers), len(saved.State.Volumes), len(saved.State.Networks))
			fmt.Fprintln(a.out, "  "+ui.Muted(saved.Path))
			return nil
		},
	}
}
