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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultExecutionHistory is the default number of finished executions kept
// by [LocalExecutions].
const DefaultExecutionHistory = 32

// ExecutionStatus is the status of a replication execution.
type ExecutionStatus int

const (
	ExecutionNotStarted ExecutionStatus = iota
	ExecutionRunning
	ExecutionSucceeded
	ExecutionFailed
)

// String returns the string representation of the status.
func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionNotStarted:
		return "NotStarted"
	case ExecutionRunning:
		return "Running"
	case ExecutionSucceeded:
		return "Succeeded"
	case ExecutionFailed:
		return "Failed"
	default:
		return fmt.Sprintf("ExecutionStatus(%d)", int(s))
	}
}

// ExecutionHandle identifies a replication execution and its status.
type ExecutionHandle struct {
	ID        string
	Status    ExecutionStatus
	StartedAt time.Time

	// StoppedAt, Outcome and Err are set once the execution finished.
	StoppedAt time.Time
	Outcome   *RunOutcome
	Err       error
}

// HandleSource lists and starts replication executions.
type HandleSource interface {
	// ListExecutions returns the known executions with the given status.
	ListExecutions(ctx context.Context, status ExecutionStatus) ([]ExecutionHandle, error)

	// StartExecution starts a new execution and returns without waiting for
	// it to finish.
	StartExecution(ctx context.Context) (ExecutionHandle, error)
}

// Guard starts a replication execution unless one is already running.
//
// The check is advisory: two guards invoked at nearly the same time may
// both start an execution.
type Guard struct {
	// Source is queried for running executions and starts new ones.
	// Required.
	Source HandleSource

	// Logger is used for progress logging. If nil, the logrus standard
	// logger is used.
	Logger logrus.FieldLogger
}

// EnsureRunning starts an execution if none is running. It returns the
// running or started execution, and whether it was started by this call.
func (g *Guard) EnsureRunning(ctx context.Context) (ExecutionHandle, bool, error) {
	if g.Source == nil {
		return ExecutionHandle{}, false, errNilHandleSource
	}
	logger := g.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	running, err := g.Source.ListExecutions(ctx, ExecutionRunning)
	if err != nil {
		return ExecutionHandle{}, false, fmt.Errorf("failed to list running executions: %w", err)
	}
	if len(running) > 0 {
		logger.WithField("execution", running[0].ID).Info("replication already running")
		return running[0], false, nil
	}

	handle, err := g.Source.StartExecution(ctx)
	if err != nil {
		return ExecutionHandle{}, false, fmt.Errorf("failed to start execution: %w", err)
	}
	logger.WithField("execution", handle.ID).Info("replication started")
	return handle, true, nil
}

// RunFunc performs the replication identified by executionID.
type RunFunc func(ctx context.Context, executionID string) (RunOutcome, error)

// LocalExecutions is a [HandleSource] running executions as goroutines of
// the current process.
type LocalExecutions struct {
	// MaxHistory bounds the finished executions kept for listing. If less
	// than or equal to zero, [DefaultExecutionHistory] is used.
	MaxHistory int

	// NewID returns the identifier of a new execution. If nil, a random
	// UUID is used.
	NewID func() string

	baseCtx    context.Context
	run        RunFunc
	mu         sync.Mutex
	executions []*ExecutionHandle
	wg         sync.WaitGroup
}

// NewLocalExecutions creates a [LocalExecutions] running run. Executions run
// under ctx rather than the context of the call that started them.
func NewLocalExecutions(ctx context.Context, run RunFunc) *LocalExecutions {
	return &LocalExecutions{
		baseCtx: ctx,
		run:     run,
	}
}

// ListExecutions implements [HandleSource]. Executions are returned in start
// order.
func (l *LocalExecutions) ListExecutions(_ context.Context, status ExecutionStatus) ([]ExecutionHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var handles []ExecutionHandle
	for _, execution := range l.executions {
		if execution.Status == status {
			handles = append(handles, *execution)
		}
	}
	return handles, nil
}

// StartExecution implements [HandleSource].
func (l *LocalExecutions) StartExecution(_ context.Context) (ExecutionHandle, error) {
	if l.run == nil {
		return ExecutionHandle{}, fmt.Errorf("run function must be configured")
	}
	id := uuid.NewString()
	if l.NewID != nil {
		id = l.NewID()
	}
	execution := &ExecutionHandle{
		ID:        id,
		Status:    ExecutionRunning,
		StartedAt: time.Now(),
	}

	l.mu.Lock()
	l.executions = append(l.executions, execution)
	l.trim()
	handle := *execution
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		outcome, err := l.run(l.baseCtx, id)

		l.mu.Lock()
		defer l.mu.Unlock()
		execution.StoppedAt = time.Now()
		execution.Outcome = &outcome
		execution.Err = err
		if err != nil {
			execution.Status = ExecutionFailed
		} else {
			execution.Status = ExecutionSucceeded
		}
	}()
	return handle, nil
}

// Get returns the execution with the given id.
func (l *LocalExecutions) Get(id string) (ExecutionHandle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, execution := range l.executions {
		if execution.ID == id {
			return *execution, true
		}
	}
	return ExecutionHandle{}, false
}

// Wait blocks until all started executions finished.
func (l *LocalExecutions) Wait() {
	l.wg.Wait()
}

// trim drops the oldest finished executions beyond the history limit.
// Running executions are always kept. l.mu must be held.
func (l *LocalExecutions) trim() {
	limit := l.MaxHistory
	if limit <= 0 {
		limit = DefaultExecutionHistory
	}
	finished := 0
	for _, execution := range l.executions {
		if execution.Status != ExecutionRunning {
			finished++
		}
	}
	if finished <= limit {
		return
	}
	drop := finished - limit
	kept := l.executions[:0]
	for _, execution := range l.executions {
		if drop > 0 && execution.Status != ExecutionRunning {
			drop--
			continue
		}
		kept = append(kept, execution)
	}
	clear(l.executions[len(kept):])
	l.executions = kept
}
