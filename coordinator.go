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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	ierrors "github.com/ratify-project/imagesync-go/internal/errors"
	"github.com/ratify-project/imagesync-go/internal/syncutil"
)

// maxErrorMessageLength bounds the error message kept in outcome records.
const maxErrorMessageLength = 1024

// ItemState is the state of a work item within a run.
type ItemState int

const (
	// ItemPending means the item waits for a free slot.
	ItemPending ItemState = iota

	// ItemAttempting means the copy worker is copying the item.
	ItemAttempting

	// ItemRetryWait means the last attempt failed and the item waits for
	// its backoff to elapse.
	ItemRetryWait

	// ItemSucceeded is terminal.
	ItemSucceeded

	// ItemFailed is terminal.
	ItemFailed
)

// String returns the string representation of the state.
func (s ItemState) String() string {
	switch s {
	case ItemPending:
		return "Pending"
	case ItemAttempting:
		return "Attempting"
	case ItemRetryWait:
		return "RetryWait"
	case ItemSucceeded:
		return "Succeeded"
	case ItemFailed:
		return "Failed"
	default:
		return fmt.Sprintf("ItemState(%d)", int(s))
	}
}

// Transition is a state change of a work item.
type Transition struct {
	ExecutionID string
	Item        WorkItem
	State       ItemState

	// Attempt is the number of the current or last attempt, starting at 1.
	// It is 0 for pending items.
	Attempt int

	// Err is the error of the last attempt for RetryWait and Failed.
	Err error
}

// Coordinator fans out work items to a copy worker with bounded
// concurrency, retries failed copies with exponential backoff and records
// the terminal outcome of every item.
type Coordinator struct {
	// Worker copies the items. Required.
	Worker CopyWorker

	// Outcomes records the terminal outcome of the items. Required.
	Outcomes OutcomeStore

	// Alerts is notified of every item that failed terminally. Required.
	Alerts AlertPublisher

	// Logger is used for progress logging. If nil, the logrus standard
	// logger is used.
	Logger logrus.FieldLogger

	// OnTransition is called on every item state change. Optional.
	// Note: it is called concurrently from the item pipelines.
	OnTransition func(Transition)

	// Sleep waits for a retry backoff. It returns early with an error when
	// ctx is done. If nil, a timer is used.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now returns the record time of outcomes. If nil, [time.Now] is used.
	Now func() time.Time
}

// NewCoordinator creates a new [Coordinator] with the required
// collaborators.
func NewCoordinator(worker CopyWorker, outcomes OutcomeStore, alerts AlertPublisher) (*Coordinator, error) {
	c := &Coordinator{
		Worker:   worker,
		Outcomes: outcomes,
		Alerts:   alerts,
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

type itemResult struct {
	item     WorkItem
	status   OutcomeStatus
	attempts int
}

// Run replicates items under the limits of rc and returns the aggregate
// outcome once every dispatched item reached a terminal state.
//
// Item failures are contained in the item and never fail the run. If ctx is
// done before all items terminated, items waiting for a retry fail, items
// not yet dispatched are counted as skipped and Run returns the outcome
// along with the context error.
func (c *Coordinator) Run(ctx context.Context, rc RunContext, executionID string, items []WorkItem) (RunOutcome, error) {
	if err := c.validate(); err != nil {
		return RunOutcome{}, err
	}
	rc = rc.withDefaults()
	logger := c.logger().WithField("execution", executionID)
	logger.Infof("replicating %d images with concurrency %d", len(items), rc.ConcurrencyLimit)

	var outcome RunOutcome
	pool, poolCtx := syncutil.NewWorkerPool[itemResult](ctx, rc.ConcurrencyLimit)
	for i, item := range items {
		c.transition(Transition{ExecutionID: executionID, Item: item, State: ItemPending})
		err := pool.Go(func() (itemResult, error) {
			return c.process(poolCtx, rc, executionID, item), nil
		})
		if err != nil {
			outcome.Skipped = len(items) - i
			logger.Warnf("stopped dispatching, %d images skipped: %v", outcome.Skipped, err)
			break
		}
	}

	// item pipelines never fail the pool.
	results, _ := pool.Wait()
	for _, result := range results {
		switch result.status {
		case OutcomeDone:
			outcome.Succeeded++
		default:
			outcome.Failed++
		}
	}
	logger.WithFields(logrus.Fields{
		"succeeded": outcome.Succeeded,
		"failed":    outcome.Failed,
		"skipped":   outcome.Skipped,
	}).Info("replication finished")

	if err := ctx.Err(); err != nil {
		return outcome, fmt.Errorf("execution %s did not complete: %w", executionID, err)
	}
	return outcome, nil
}

// process drives one item to a terminal state and records it.
func (c *Coordinator) process(ctx context.Context, rc RunContext, executionID string, item WorkItem) itemResult {
	logger := c.logger().WithFields(logrus.Fields{
		"execution": executionID,
		"image":     item.Repository,
		"tag":       item.Tag,
	})
	req := newCopyRequest(rc, item)
	policy := rc.RetryPolicy

	var lastErr error
	attempt := 1
	for ; ; attempt++ {
		c.transition(Transition{ExecutionID: executionID, Item: item, State: ItemAttempting, Attempt: attempt})
		logger.WithField("attempt", attempt).Debug("copying image")

		err := c.Worker.Copy(ctx, req)
		if err == nil {
			c.transition(Transition{ExecutionID: executionID, Item: item, State: ItemSucceeded, Attempt: attempt})
			logger.WithField("attempt", attempt).Info("image copied")
			c.record(ctx, logger, OutcomeRecord{
				Image:       item.Repository,
				Tag:         item.Tag,
				ExecutionID: executionID,
				Status:      OutcomeDone,
			})
			return itemResult{item: item, status: OutcomeDone, attempts: attempt}
		}
		lastErr = ierrors.ErrorCodeItemCopyFailure.WithDetail(item.String()).WithError(err)
		if attempt >= policy.MaxAttempts {
			break
		}

		backoff := policy.Backoff(attempt)
		c.transition(Transition{ExecutionID: executionID, Item: item, State: ItemRetryWait, Attempt: attempt, Err: lastErr})
		logger.WithField("attempt", attempt).Warnf("copy failed, retrying in %s: %v", backoff, err)
		if err := c.sleep(ctx, backoff); err != nil {
			logger.WithField("attempt", attempt).Warnf("retry abandoned: %v", err)
			break
		}
	}

	c.transition(Transition{ExecutionID: executionID, Item: item, State: ItemFailed, Attempt: attempt, Err: lastErr})
	reason := lastErr.Error()
	if coded, ok := lastErr.(ierrors.Error); ok {
		reason = coded.Reason()
	}
	logger.WithField("attempt", attempt).Errorf("image failed after %d attempts: %s", attempt, reason)

	// the outcome is recorded before the alert is published.
	c.record(ctx, logger, OutcomeRecord{
		Image:        item.Repository,
		Tag:          item.Tag,
		ExecutionID:  executionID,
		Status:       OutcomeError,
		ErrorMessage: ierrors.Truncate(reason, maxErrorMessageLength),
	})
	c.alert(ctx, logger, AlertMessage{
		Error:       AlertCopyFailed,
		ExecutionID: executionID,
		Image:       item.Repository,
		Tag:         item.Tag,
	})
	return itemResult{item: item, status: OutcomeError, attempts: attempt}
}

// record writes record to the outcome store. Failures are logged only.
func (c *Coordinator) record(ctx context.Context, logger logrus.FieldLogger, record OutcomeRecord) {
	record.RecordedAt = c.now()
	if err := c.Outcomes.Put(context.WithoutCancel(ctx), record); err != nil {
		logger.WithError(recordingError(err)).Error("failed to record outcome")
	}
}

// alert publishes msg. Failures are logged only.
func (c *Coordinator) alert(ctx context.Context, logger logrus.FieldLogger, msg AlertMessage) {
	if err := c.Alerts.Publish(context.WithoutCancel(ctx), msg); err != nil {
		logger.WithError(recordingError(err)).Error("failed to publish alert")
	}
}

func (c *Coordinator) transition(t Transition) {
	if c.OnTransition != nil {
		c.OnTransition(t)
	}
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

func (c *Coordinator) validate() error {
	switch {
	case c.Worker == nil:
		return errNilCopyWorker
	case c.Outcomes == nil:
		return errNilOutcomeStore
	case c.Alerts == nil:
		return errNilAlert
	}
	return nil
}
