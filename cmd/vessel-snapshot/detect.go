package main

import (
	"fmt"
	"os"

	"github.com/deepfence/vessel-snapshot/config"
	"github.com/deepfence/vessel-snapshot/ui"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newDetectCmd(a *app) *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect the container runtime and record it in .env",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runtime, endpoint, err := a.detect()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, ui.SuccessMsg("Detected %s at %s", ui.Bold(runtime), endpoint))
			if !write {
				return nil
			}
			if err := writeDotEnv(config.DotEnvFile, map[string]string{
				config.RuntimeEnv:  runtime,
				config.EndpointEnv: endpoint,
			}); err != nil {
				return err
			}
			fmt.Fprintln(a.out, ui.InfoMsg("Wrote %s", config.DotEnvFile))
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", true, "record the result in .env")
	return cmd
}

// writeDotEnv merges envars into path, keeping unrelated keys.
func writeDotEnv(path string, envars map[string]string) error {
	existing, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.Wrapf(err, "read %s", path)
		}
		existing = map[string]string{}
	}
	for k, v := range envars {
		existing[k] = v
	}
	return errors.Wrapf(godotenv.Write(existing, path), "write %s", path)
}
