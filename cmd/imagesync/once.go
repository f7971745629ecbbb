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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newOnceCmd(opts *rootOptions) *cobra.Command {
	var failOnError bool
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run one replication and exit",
		Long: `Enumerates the images once and copies them, ignoring the schedule.
The command returns when every image reached a terminal state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, opts, failOnError)
		},
	}
	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "Exit with an error when any image failed to copy")
	return cmd
}

func runOnce(cmd *cobra.Command, opts *rootOptions, failOnError bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, opts.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			opts.log.WithError(err).Warn("Failed to close connections")
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	// handle interrupt signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
			opts.log.WithFields(logrus.Fields{}).Debug("Interrupt received, stopping")
			cancel()
		case <-ctx.Done():
		}
	}()

	executionID := uuid.NewString()
	outcome, err := a.replicator.Run(ctx, executionID)
	fmt.Fprintf(cmd.OutOrStdout(), "execution %s: %d succeeded, %d failed, %d skipped\n",
		executionID, outcome.Succeeded, outcome.Failed, outcome.Skipped)
	if err != nil {
		return err
	}
	if failOnError && outcome.Failed > 0 {
		return errors.New("some images failed to copy")
	}
	return nil
}
