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

package imagesync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Replicator runs complete replications: it enumerates the work items of
// its run context and hands them to the coordinator.
type Replicator struct {
	// RunContext configures every run. It is read-only once the replicator
	// is created.
	RunContext RunContext

	// Enumerator produces the work items. Required.
	Enumerator *Enumerator

	// Coordinator replicates the work items. Required.
	Coordinator *Coordinator

	// Logger is used for progress logging. If nil, the logrus standard
	// logger is used.
	Logger logrus.FieldLogger

	// OnFinish is called when a run ends, enumeration failures included.
	// Optional.
	OnFinish func(executionID string, outcome RunOutcome, err error, elapsed time.Duration)
}

// NewReplicator creates a new [Replicator]. It fails with an error matching
// [ErrConfig] if rc is not usable.
func NewReplicator(rc RunContext, enumerator *Enumerator, coordinator *Coordinator) (*Replicator, error) {
	if enumerator == nil {
		return nil, errNilEnumerator
	}
	if coordinator == nil {
		return nil, errNilCoordinator
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return &Replicator{
		RunContext:  rc,
		Enumerator:  enumerator,
		Coordinator: coordinator,
	}, nil
}

// Run performs one replication identified by executionID.
//
// Configuration and enumeration errors abort the run before any image is
// copied. Otherwise the aggregate outcome is returned, with an error only
// if the run exceeded its time budget.
func (r *Replicator) Run(ctx context.Context, executionID string) (outcome RunOutcome, err error) {
	start := time.Now()
	logger := r.logger().WithField("execution", executionID)
	defer func() {
		elapsed := time.Since(start)
		if err != nil {
			logger.WithError(err).Errorf("replication failed after %s", elapsed)
		} else {
			logger.Infof("replication completed in %s", elapsed)
		}
		if r.OnFinish != nil {
			r.OnFinish(executionID, outcome, err, elapsed)
		}
	}()

	if r.Enumerator == nil {
		return RunOutcome{}, errNilEnumerator
	}
	if r.Coordinator == nil {
		return RunOutcome{}, errNilCoordinator
	}
	rc := r.RunContext
	if err := rc.Validate(); err != nil {
		return RunOutcome{}, err
	}
	if rc.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.RunTimeout)
		defer cancel()
	}

	logger.WithField("source", rc.SourceKind).Info("enumerating images")
	items, err := r.Enumerator.Enumerate(ctx, rc)
	if err != nil {
		return RunOutcome{}, err
	}
	return r.Coordinator.Run(ctx, rc, executionID, items)
}

func (r *Replicator) logger() logrus.FieldLogger {
	if r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}
