package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newShowCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a snapshot document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.offline().Load(args[0])
			if err != nil {
				return err
			}
			var data []byte
			switch output {
			case "json":
				data, err = a.store().Raw(args[0])
			case "yaml":
				data, err = yaml.Marshal(doc)
			default:
				return errors.Errorf("unknown output format %q, want json or yaml", output)
			}
			if err != nil {
				return err
			}
			_, err = a.out.Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}
