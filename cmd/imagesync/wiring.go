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
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ratify-project/imagesync-go"
	_ "github.com/ratify-project/imagesync-go/alert/kafka"
	"github.com/ratify-project/imagesync-go/internal/config"
	"github.com/ratify-project/imagesync-go/internal/constants"
	"github.com/ratify-project/imagesync-go/internal/metrics"
	_ "github.com/ratify-project/imagesync-go/store/objectstore"
	_ "github.com/ratify-project/imagesync-go/store/postgres"
)

// app holds the components of a configured replication.
type app struct {
	runContext imagesync.RunContext
	replicator *imagesync.Replicator
	metrics    *metrics.Recorder
	closers    []io.Closer
}

func newApp(cfg *config.Config, log logrus.FieldLogger) (*app, error) {
	rc, err := cfg.RunContext()
	if err != nil {
		return nil, err
	}
	resolver, err := newCredentialResolver(cfg)
	if err != nil {
		return nil, err
	}
	worker, err := newCopyWorker(cfg, resolver)
	if err != nil {
		return nil, err
	}

	a := &app{
		runContext: rc,
		metrics:    metrics.NewRecorder(),
	}
	outcomes, err := imagesync.CreateOutcomeStore(imagesync.CreateOutcomeStoreOptions{
		Type:       cfg.OutcomeStore.Type,
		Parameters: cfg.OutcomeStore.Parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create outcome store: %w", err)
	}
	a.addCloser(outcomes)
	alerts, err := imagesync.CreateAlertPublisher(imagesync.CreateAlertPublisherOptions{
		Type:       cfg.Alert.Type,
		Parameters: cfg.Alert.Parameters,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create alert publisher: %w", err), a.Close())
	}
	a.addCloser(alerts)

	coordinator, err := imagesync.NewCoordinator(worker, outcomes, alerts)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	coordinator.Logger = log
	coordinator.OnTransition = func(t imagesync.Transition) {
		a.metrics.ItemTransition(t.State.String(), t.Attempt)
	}

	replicator, err := imagesync.NewReplicator(rc, newEnumerator(cfg, resolver, log), coordinator)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	replicator.Logger = log
	replicator.OnFinish = func(_ string, outcome imagesync.RunOutcome, err error, elapsed time.Duration) {
		status := imagesync.ExecutionSucceeded
		if err != nil {
			status = imagesync.ExecutionFailed
		}
		a.metrics.RunFinished(status.String(), outcome.Succeeded, outcome.Failed, outcome.Skipped, elapsed)
	}
	a.replicator = replicator
	return a, nil
}

func (a *app) addCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

// Close releases the outcome store and alert publisher connections.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newCredentialResolver(cfg *config.Config) (imagesync.CredentialResolver, error) {
	if cfg.Credentials.Dir != "" {
		return imagesync.NewFileCredentialResolver(cfg.Credentials.Dir), nil
	}
	resolver, err := imagesync.NewDockerCredentialResolver(cfg.Credentials.Docker)
	if err != nil {
		return nil, fmt.Errorf("failed to load docker credentials: %w", err)
	}
	return resolver, nil
}

func newEnumerator(cfg *config.Config, resolver imagesync.CredentialResolver, log logrus.FieldLogger) *imagesync.Enumerator {
	return &imagesync.Enumerator{
		NewRegistryClient: imagesync.NewOCIRegistryClientFactory(imagesync.RegistryClientOptions{
			PlainHTTP: cfg.Registry.PlainHTTP,
			PageSize:  cfg.Registry.PageSize,
		}),
		Credentials: resolver,
		Logger:      log,
	}
}

func newCopyWorker(cfg *config.Config, resolver imagesync.CredentialResolver) (imagesync.CopyWorker, error) {
	switch cfg.Worker.Type {
	case constants.WorkerTypeOras:
		return &imagesync.OrasCopyWorker{
			Credentials: resolver,
			PlainHTTP:   cfg.Registry.PlainHTTP,
			Concurrency: cfg.Worker.Concurrency,
		}, nil
	case constants.WorkerTypeExec:
		return &imagesync.ExecCopyWorker{
			Command: cfg.Worker.Command,
			Args:    cfg.Worker.Args,
		}, nil
	default:
		return nil, fmt.Errorf("unknown %s %q", constants.WorkerType, cfg.Worker.Type)
	}
}
