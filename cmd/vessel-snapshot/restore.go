package main

import (
	"fmt"

	vessel "github.com/deepfence/vessel-snapshot"
	"github.com/deepfence/vessel-snapshot/restore"
	"github.com/deepfence/vessel-snapshot/snapshot"
	"github.com/deepfence/vessel-snapshot/ui"
	"github.com/spf13/cobra"
)

func newRestoreCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Start the containers that were running when the snapshot was taken",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			// Fail on a missing or corrupt snapshot before touching the runtime.
			doc, err := a.offline().Load(name)
			if err != nil {
				return err
			}

			var rt vessel.Runtime
			if !dryRun {
				rt, err = a.connect()
				if err != nil {
					return err
				}
				defer rt.Close()
			}

			fmt.Fprintln(a.out, ui.InfoMsg("Restoring snapshot %s", ui.Bold(name)))
			report, err := snapshot.New(a.store(), rt, a.options()).RestoreState(cmd.Context(), name, doc, dryRun)
			if err != nil {
				return err
			}
			for _, o := range report.Outcomes {
				fmt.Fprintln(a.out, outcomeLine(o))
			}
			fmt.Fprintf(a.out, "  %d started, %d skipped, %d failed\n", report.Started, report.Skipped, report.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be started without starting anything")
	return cmd
}

func outcomeLine(o restore.Outcome) string {
	label := o.Name
	if label == "" {
		label = o.ID
	}
	switch o.Status {
	case restore.Started:
		return ui.SuccessMsg("Started %s", label)
	case restore.WouldStart:
		return ui.InfoMsg("Would start %s", label)
	case restore.SkippedNotRunning:
		return ui.SkipMsg("Skipped %s (not running at capture time)", label)
	default:
		if o.NotFound() {
			return ui.ErrorMsg("Failed %s: container %s no longer exists", label, o.ID)
		}
		return ui.ErrorMsg("Failed %s: %v", label, o.Err)
	}
}
