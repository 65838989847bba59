package main

import (
	"io"

	vessel "github.com/deepfence/vessel-snapshot"
	"github.com/deepfence/vessel-snapshot/config"
	"github.com/deepfence/vessel-snapshot/snapshot"
	"github.com/deepfence/vessel-snapshot/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries what every command needs. The runtime constructor and the
// detector are fields so tests can replace them.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	cfg     *config.Config
	out     io.Writer

	newRuntime func(vessel.Options) (vessel.Runtime, error)
	detect     func() (string, string, error)
}

func newApp(out io.Writer) *app {
	return &app{
		v:          config.New(),
		out:        out,
		newRuntime: vessel.NewRuntime,
		detect:     vessel.AutoDetectRuntime,
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vessel-snapshot",
		Short:         "Save and restore the state of a container runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logrus.SetLevel(cfg.Level())
			if a.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			logrus.Debugf("snapshot dir %s, runtime %s", cfg.SnapshotDir, cfg.Runtime)
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	cmd.SetOut(a.out)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default <snapshot-dir>/config.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.String("snapshot-dir", "", "directory holding snapshots")
	flags.String("runtime", "", "container runtime: auto, docker, containerd, crio, podman")
	flags.String("endpoint", "", "runtime socket, e.g. unix:///var/run/docker.sock")
	flags.String("namespace", "", "containerd namespace")
	flags.Duration("timeout", 0, "timeout of each runtime call")
	flags.Int("workers", 0, "concurrent container detail fetches")
	flags.String("log-level", "", "log level")
	for key, flag := range map[string]string{
		config.KeySnapshotDir: "snapshot-dir",
		config.KeyRuntime:     "runtime",
		config.KeyEndpoint:    "endpoint",
		config.KeyNamespace:   "namespace",
		config.KeyTimeout:     "timeout",
		config.KeyWorkers:     "workers",
		config.KeyLogLevel:    "log-level",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(
		newSaveCmd(a),
		newRestoreCmd(a),
		newListCmd(a),
		newDeleteCmd(a),
		newShowCmd(a),
		newDetectCmd(a),
	)
	return cmd
}

func (a *app) store() *store.Store {
	return store.New(a.cfg.SnapshotDir)
}

func (a *app) options() snapshot.Options {
	return snapshot.Options{Workers: a.cfg.Workers, CallTimeout: a.cfg.Timeout}
}

// connect opens the configured runtime. The caller closes it.
func (a *app) connect() (vessel.Runtime, error) {
	rt, err := a.newRuntime(vessel.Options{
		Runtime:   a.cfg.Runtime,
		Endpoint:  a.cfg.Endpoint,
		Namespace: a.cfg.Namespace,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to container runtime")
	}
	return rt, nil
}

// offline returns a manager for workflows that never touch the runtime.
func (a *app) offline() *snapshot.Manager {
	return snapshot.New(a.store(), nil, a.options())
}
