/*
Copyright The Ratify Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ratify-project/imagesync-go/internal/config"
)

const usageDesc = `Replicate container images between registries.

Images are taken from a full scan of the source registry or from a curated
"repository[:tag]" list and copied with bounded parallelism. Failed copies
are retried with exponential backoff; the outcome of every image is recorded
and failures raise an alert.`

type rootOptions struct {
	confFile  string
	verbosity string
	logopts   []string

	viper *viper.Viper
	log   *logrus.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{
		viper: config.NewViper(),
		log:   logrus.StandardLogger(),
	}
	cmd := &cobra.Command{
		Use:               "imagesync <cmd>",
		Short:             "Replicate container images between registries",
		Long:              usageDesc,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.preRun,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.confFile, "config", "c", "", "Config file")
	flags.StringVarP(&opts.verbosity, "verbosity", "v", logrus.InfoLevel.String(), "Log level (debug, info, warn, error, fatal, panic)")
	flags.StringArrayVar(&opts.logopts, "logopt", []string{}, "Log options (json)")
	config.AddFlags(flags)
	_ = cmd.MarkPersistentFlagFilename("config", "yaml", "yml")

	cmd.AddCommand(
		newOnceCmd(opts),
		newServerCmd(opts),
		newListCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) preRun(cmd *cobra.Command, _ []string) error {
	lvl, err := logrus.ParseLevel(o.verbosity)
	if err != nil {
		return err
	}
	o.log.SetLevel(lvl)
	o.log.SetOutput(cmd.ErrOrStderr())
	o.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	for _, opt := range o.logopts {
		if opt == "json" {
			o.log.SetFormatter(new(logrus.JSONFormatter))
		}
	}
	return config.BindFlags(o.viper, cmd.Flags())
}

// loadConfig reads the configuration from the config file, the environment
// and the flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.viper, o.confFile)
	if err != nil {
		return nil, err
	}
	o.log.WithFields(logrus.Fields{
		"source":      cfg.Source.Mode,
		"destination": cfg.Destination.Registry,
		"concurrency": cfg.ConcurrencyLimit,
	}).Debug("Loaded configuration")
	return cfg, nil
}
