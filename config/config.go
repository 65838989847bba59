// Package config loads vessel-snapshot settings.
//
// Sources, highest precedence first:
//  1. command line flags bound with viper.BindPFlag
//  2. environment variables (VESSEL_ prefix, plus CONTAINER_RUNTIME and
//     CRI_ENDPOINT as written by the detect command)
//  3. a .env file in the working directory
//  4. the config file (--config, else <snapshot_dir>/config.yaml)
//  5. defaults
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/utils"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "VESSEL"
	ConfigFileName = "config.yaml"
	DotEnvFile     = ".env"

	// Variables shared with the detect command.
	RuntimeEnv  = "CONTAINER_RUNTIME"
	EndpointEnv = "CRI_ENDPOINT"
)

// Keys understood by Load.
const (
	KeySnapshotDir = "snapshot_dir"
	KeyRuntime     = "runtime"
	KeyEndpoint    = "endpoint"
	KeyNamespace   = "namespace"
	KeyTimeout     = "timeout"
	KeyWorkers     = "workers"
	KeyLogLevel    = "log_level"
)

// Config is the resolved configuration.
type Config struct {
	// SnapshotDir holds one subdirectory per snapshot.
	SnapshotDir string `mapstructure:"snapshot_dir"`
	// Runtime is docker, containerd, crio, podman or auto.
	Runtime string `mapstructure:"runtime"`
	// Endpoint overrides the runtime's default socket.
	Endpoint string `mapstructure:"endpoint"`
	// Namespace is only used by containerd.
	Namespace string `mapstructure:"namespace"`
	// Timeout bounds each runtime call.
	Timeout time.Duration `mapstructure:"timeout"`
	// Workers bounds concurrent detail fetches during capture.
	Workers  int    `mapstructure:"workers"`
	LogLevel string `mapstructure:"log_level"`
}

// New returns a viper instance with defaults and environment bindings in
// place. Flags may be bound to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	_ = v.BindEnv(KeyRuntime, EnvPrefix+"_RUNTIME", RuntimeEnv)
	_ = v.BindEnv(KeyEndpoint, EnvPrefix+"_ENDPOINT", EndpointEnv)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeySnapshotDir, "~/.vessel-snapshots")
	v.SetDefault(KeyRuntime, utils.AUTO)
	v.SetDefault(KeyEndpoint, "")
	v.SetDefault(KeyNamespace, utils.CONTAINERD_DEFAULT_NS)
	v.SetDefault(KeyTimeout, utils.CallTimeout.String())
	v.SetDefault(KeyWorkers, 4)
	v.SetDefault(KeyLogLevel, "warning")
}

// Load resolves the configuration held by v. An explicit cfgFile must exist;
// the implicit one under the snapshot directory is optional.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(errdefs.ErrConfig, "read %s: %v", DotEnvFile, err)
	}

	if cfgFile == "" {
		dir, err := homedir.Expand(v.GetString(KeySnapshotDir))
		if err == nil {
			candidate := filepath.Join(dir, ConfigFileName)
			if _, statErr := os.Stat(candidate); statErr == nil {
				cfgFile = candidate
			}
		}
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(errdefs.ErrConfig, "read config file %s: %v", cfgFile, err)
		}
		logrus.Debugf("using config file %s", v.ConfigFileUsed())
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(errdefs.ErrConfig, "decode config: %v", err)
	}
	cfg.Runtime = strings.ToLower(strings.TrimSpace(cfg.Runtime))
	dir, err := homedir.Expand(cfg.SnapshotDir)
	if err != nil {
		return nil, errors.Wrapf(errdefs.ErrConfig, "snapshot_dir %q: %v", cfg.SnapshotDir, err)
	}
	cfg.SnapshotDir = dir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engines cannot work with.
func (c *Config) Validate() error {
	if c.SnapshotDir == "" {
		return errors.Wrap(errdefs.ErrConfig, "snapshot_dir is required")
	}
	if c.Timeout <= 0 {
		return errors.Wrapf(errdefs.ErrConfig, "timeout must be positive, got %s", c.Timeout)
	}
	if c.Workers <= 0 {
		return errors.Wrapf(errdefs.ErrConfig, "workers must be positive, got %d", c.Workers)
	}
	if c.Runtime != utils.AUTO && c.Runtime != "" {
		if _, ok := utils.SupportedRuntimes[c.Runtime]; !ok {
			return errors.Wrapf(errdefs.ErrConfig, "unknown runtime %q", c.Runtime)
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(errdefs.ErrConfig, "log_level: %v", err)
	}
	return nil
}

// Level returns the configured logrus level.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.WarnLevel
	}
	return level
}
