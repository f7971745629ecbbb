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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ratify-project/imagesync-go"
)

const shutdownTimeout = 5 * time.Second

func newServerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the replication guard on a schedule",
		Long: `Starts a replication unless one is already running, then repeats the
check on the configured cron schedule. Metrics are served on the metrics
address when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, opts)
		},
	}
}

func runServer(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, opts.log)
	if err != nil {
		return err
	}
	log := opts.log

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	executions := imagesync.NewLocalExecutions(ctx, a.replicator.Run)
	guard := &imagesync.Guard{Source: executions, Logger: log}
	ensure := func() {
		handle, started, err := guard.EnsureRunning(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to ensure a replication is running")
			return
		}
		fields := logrus.Fields{"execution": handle.ID}
		if started {
			log.WithFields(fields).Info("Started replication")
		} else {
			log.WithFields(fields).Info("Replication already running")
		}
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if cfg.Schedule != "" {
		if _, err := c.AddFunc(cfg.Schedule, ensure); err != nil {
			return errors.Join(err, a.Close())
		}
		log.WithFields(logrus.Fields{"sched": cfg.Schedule}).Debug("Scheduled replication")
	}

	var srv *http.Server
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: shutdownTimeout,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	// the guard is also checked on start
	ensure()
	c.Start()

	// wait on interrupt signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.WithFields(logrus.Fields{}).Debug("Interrupt received, stopping")

	// clean shutdown
	<-c.Stop().Done()
	cancel()
	log.WithFields(logrus.Fields{}).Debug("Waiting on running replications")
	executions.Wait()
	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Failed to stop metrics server")
		}
	}
	return a.Close()
}
