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
	"errors"
	"reflect"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
)

// mockHandleSource is a mock implementation of HandleSource.
type mockHandleSource struct {
	running  []ExecutionHandle
	listErr  error
	startErr error
	started  int
}

func (m *mockHandleSource) ListExecutions(_ context.Context, status ExecutionStatus) ([]ExecutionHandle, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if status != ExecutionRunning {
		return nil, nil
	}
	return m.running, nil
}

func (m *mockHandleSource) StartExecution(_ context.Context) (ExecutionHandle, error) {
	if m.startErr != nil {
		return ExecutionHandle{}, m.startErr
	}
	m.started++
	handle := ExecutionHandle{ID: "new-" + strconv.Itoa(m.started), Status: ExecutionRunning}
	m.running = append(m.running, handle)
	return handle, nil
}

func testGuard(source HandleSource) *Guard {
	logger, _ := test.NewNullLogger()
	return &Guard{Source: source, Logger: logger}
}

func TestGuard_EnsureRunning(t *testing.T) {
	t.Run("execution already running", func(t *testing.T) {
		running := ExecutionHandle{ID: "running", Status: ExecutionRunning}
		source := &mockHandleSource{running: []ExecutionHandle{running}}
		handle, started, err := testGuard(source).EnsureRunning(context.Background())
		if err != nil {
			t.Fatalf("EnsureRunning() error = %v, want nil", err)
		}
		if started || source.started != 0 {
			t.Errorf("EnsureRunning() started a new execution, want none")
		}
		if handle.ID != running.ID {
			t.Errorf("EnsureRunning() handle = %v, want %v", handle.ID, running.ID)
		}
	})

	t.Run("no execution running", func(t *testing.T) {
		source := &mockHandleSource{}
		handle, started, err := testGuard(source).EnsureRunning(context.Background())
		if err != nil {
			t.Fatalf("EnsureRunning() error = %v, want nil", err)
		}
		if !started || source.started != 1 {
			t.Errorf("EnsureRunning() started %d executions, want 1", source.started)
		}
		if handle.ID != "new-1" || handle.Status != ExecutionRunning {
			t.Errorf("EnsureRunning() handle = %+v, want running new-1", handle)
		}
	})

	t.Run("repeated calls start once", func(t *testing.T) {
		source := &mockHandleSource{}
		guard := testGuard(source)
		for i := 0; i < 3; i++ {
			if _, _, err := guard.EnsureRunning(context.Background()); err != nil {
				t.Fatalf("EnsureRunning() error = %v, want nil", err)
			}
		}
		if source.started != 1 {
			t.Errorf("started executions = %d, want 1", source.started)
		}
	})

	t.Run("list failure", func(t *testing.T) {
		errList := errors.New("list failed")
		source := &mockHandleSource{listErr: errList}
		_, started, err := testGuard(source).EnsureRunning(context.Background())
		if !errors.Is(err, errList) {
			t.Errorf("EnsureRunning() error = %v, want %v", err, errList)
		}
		if started || source.started != 0 {
			t.Error("EnsureRunning() started an execution after a failed query")
		}
	})

	t.Run("start failure", func(t *testing.T) {
		errStart := errors.New("start failed")
		source := &mockHandleSource{startErr: errStart}
		_, started, err := testGuard(source).EnsureRunning(context.Background())
		if !errors.Is(err, errStart) || started {
			t.Errorf("EnsureRunning() = %v, %v, want false, %v", started, err, errStart)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		if _, _, err := (&Guard{}).EnsureRunning(context.Background()); err != errNilHandleSource {
			t.Errorf("EnsureRunning() error = %v, want %v", err, errNilHandleSource)
		}
	})
}

func TestLocalExecutions(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	executions := NewLocalExecutions(context.Background(), func(ctx context.Context, executionID string) (RunOutcome, error) {
		runs.Add(1)
		<-release
		return RunOutcome{Succeeded: 2}, nil
	})
	guard := testGuard(executions)

	handle, started, err := guard.EnsureRunning(context.Background())
	if err != nil || !started {
		t.Fatalf("EnsureRunning() = %v, %v, want true, nil", started, err)
	}
	if _, err := uuid.Parse(handle.ID); err != nil {
		t.Errorf("execution ID %q is not a UUID: %v", handle.ID, err)
	}
	if handle.Status != ExecutionRunning || handle.StartedAt.IsZero() {
		t.Errorf("handle = %+v, want running with start time", handle)
	}

	again, started, err := guard.EnsureRunning(context.Background())
	if err != nil || started {
		t.Fatalf("second EnsureRunning() = %v, %v, want false, nil", started, err)
	}
	if again.ID != handle.ID {
		t.Errorf("second EnsureRunning() handle = %v, want %v", again.ID, handle.ID)
	}

	close(release)
	executions.Wait()
	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}

	finished, ok := executions.Get(handle.ID)
	if !ok {
		t.Fatalf("Get(%s) not found", handle.ID)
	}
	if finished.Status != ExecutionSucceeded || finished.StoppedAt.IsZero() {
		t.Errorf("finished = %+v, want succeeded with stop time", finished)
	}
	if finished.Outcome == nil || *finished.Outcome != (RunOutcome{Succeeded: 2}) {
		t.Errorf("finished.Outcome = %v, want 2 succeeded", finished.Outcome)
	}
	running, _ := executions.ListExecutions(context.Background(), ExecutionRunning)
	if len(running) != 0 {
		t.Errorf("running executions = %v, want none", running)
	}
}

func TestLocalExecutions_FailedRun(t *testing.T) {
	errRun := errors.New("enumeration failed")
	executions := NewLocalExecutions(context.Background(), func(context.Context, string) (RunOutcome, error) {
		return RunOutcome{}, errRun
	})
	handle, err := executions.StartExecution(context.Background())
	if err != nil {
		t.Fatalf("StartExecution() error = %v, want nil", err)
	}
	executions.Wait()

	failed, err := executions.ListExecutions(context.Background(), ExecutionFailed)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v, want nil", err)
	}
	if len(failed) != 1 || failed[0].ID != handle.ID || !errors.Is(failed[0].Err, errRun) {
		t.Errorf("failed executions = %+v, want %s with %v", failed, handle.ID, errRun)
	}
}

func TestLocalExecutions_History(t *testing.T) {
	var next int
	executions := NewLocalExecutions(context.Background(), func(context.Context, string) (RunOutcome, error) {
		return RunOutcome{}, nil
	})
	executions.MaxHistory = 2
	executions.NewID = func() string {
		next++
		return strconv.Itoa(next)
	}

	for i := 0; i < 5; i++ {
		if _, err := executions.StartExecution(context.Background()); err != nil {
			t.Fatalf("StartExecution() error = %v, want nil", err)
		}
		executions.Wait()
	}

	succeeded, _ := executions.ListExecutions(context.Background(), ExecutionSucceeded)
	var ids []string
	for _, handle := range succeeded {
		ids = append(ids, handle.ID)
	}
	if want := []string{"3", "4", "5"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("kept executions = %v, want %v", ids, want)
	}
	if _, ok := executions.Get("1"); ok {
		t.Error("Get(1) found a trimmed execution")
	}
}

func TestLocalExecutions_MissingRun(t *testing.T) {
	executions := NewLocalExecutions(context.Background(), nil)
	if _, err := executions.StartExecution(context.Background()); err == nil {
		t.Error("StartExecution() error = nil, want error")
	}
}

func TestExecutionStatus_String(t *testing.T) {
	tests := map[ExecutionStatus]string{
		ExecutionNotStarted:  "NotStarted",
		ExecutionRunning:     "Running",
		ExecutionSucceeded:   "Succeeded",
		ExecutionFailed:      "Failed",
		ExecutionStatus(-1):  "ExecutionStatus(-1)",
	}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("ExecutionStatus.String() = %q, want %q", got, want)
		}
	}
}
