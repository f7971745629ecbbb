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
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func testCuratedContext(list string) RunContext {
	return RunContext{
		SourceKind:  CuratedList,
		CuratedList: list,
		Source:      Location{Registry: testSourceRegistry},
		Destination: Destination{Location: Location{Registry: testDestRegistry}},
	}
}

func TestNewReplicator(t *testing.T) {
	enumerator := &Enumerator{}
	coordinator, _, _, _ := testCoordinator(newScriptedWorker(nil))

	t.Run("valid", func(t *testing.T) {
		if _, err := NewReplicator(testCuratedContext("a"), enumerator, coordinator); err != nil {
			t.Errorf("NewReplicator() error = %v, want nil", err)
		}
	})

	t.Run("invalid run context", func(t *testing.T) {
		rc := testCuratedContext("a")
		rc.Destination = Destination{}
		if _, err := NewReplicator(rc, enumerator, coordinator); !errors.Is(err, ErrConfig) {
			t.Errorf("NewReplicator() error = %v, want %v", err, ErrConfig)
		}
	})

	t.Run("missing enumerator", func(t *testing.T) {
		if _, err := NewReplicator(testCuratedContext("a"), nil, coordinator); err != errNilEnumerator {
			t.Errorf("NewReplicator() error = %v, want %v", err, errNilEnumerator)
		}
	})

	t.Run("missing coordinator", func(t *testing.T) {
		if _, err := NewReplicator(testCuratedContext("a"), enumerator, nil); err != errNilCoordinator {
			t.Errorf("NewReplicator() error = %v, want %v", err, errNilCoordinator)
		}
	})
}

func TestReplicator_Run(t *testing.T) {
	worker := newScriptedWorker(nil)
	coordinator, store, _, _ := testCoordinator(worker)
	logger, _ := test.NewNullLogger()
	r, err := NewReplicator(testCuratedContext("a, b:2"), &Enumerator{Logger: logger}, coordinator)
	if err != nil {
		t.Fatalf("NewReplicator() error = %v, want nil", err)
	}
	r.Logger = logger
	var finished []string
	r.OnFinish = func(executionID string, outcome RunOutcome, err error, _ time.Duration) {
		if err != nil {
			t.Errorf("OnFinish() error = %v, want nil", err)
		}
		finished = append(finished, executionID)
	}

	got, err := r.Run(context.Background(), testExecutionID)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if want := (RunOutcome{Succeeded: 2}); got != want {
		t.Errorf("Run() = %+v, want %+v", got, want)
	}
	for _, key := range [][2]string{{"a", DefaultTag}, {"b", "2"}} {
		if record, ok := store.Get(key[0], key[1]); !ok || record.ExecutionID != testExecutionID {
			t.Errorf("outcome of %s:%s = %+v, want recorded by %s", key[0], key[1], record, testExecutionID)
		}
	}
	if len(finished) != 1 || finished[0] != testExecutionID {
		t.Errorf("OnFinish() calls = %v, want [%s]", finished, testExecutionID)
	}
}

func TestReplicator_Run_EnumerationFailure(t *testing.T) {
	worker := newScriptedWorker(nil)
	coordinator, store, _, _ := testCoordinator(worker)
	client := threePageRegistry()
	client.err = errors.New("unauthorized")
	rc := testFullScanContext()
	logger, hook := test.NewNullLogger()
	r := &Replicator{
		RunContext:  rc,
		Enumerator:  &Enumerator{NewRegistryClient: staticClientFactory(client, nil), Logger: logger},
		Coordinator: coordinator,
		Logger:      logger,
	}
	var finishErr error
	r.OnFinish = func(_ string, _ RunOutcome, err error, _ time.Duration) {
		finishErr = err
	}

	_, err := r.Run(context.Background(), testExecutionID)
	if !errors.Is(err, ErrEnumeration) {
		t.Fatalf("Run() error = %v, want %v", err, ErrEnumeration)
	}
	if !errors.Is(finishErr, ErrEnumeration) {
		t.Errorf("OnFinish() error = %v, want %v", finishErr, ErrEnumeration)
	}
	if len(worker.requests) != 0 || store.Len() != 0 {
		t.Error("Run() copied images after a failed enumeration")
	}
	if entry := hook.LastEntry(); entry == nil || entry.Message == "" {
		t.Error("Run() did not log the failure")
	}
}

func TestReplicator_Run_Timeout(t *testing.T) {
	worker := CopyWorkerFunc(func(ctx context.Context, _ CopyRequest) error {
		<-ctx.Done()
		return ctx.Err()
	})
	store := NewMemoryOutcomeStore()
	alerts := &mockAlertPublisher{}
	logger, _ := test.NewNullLogger()
	coordinator := &Coordinator{Worker: worker, Outcomes: store, Alerts: alerts, Logger: logger}
	rc := testCuratedContext("a,b")
	rc.RunTimeout = 10 * time.Millisecond
	r := &Replicator{
		RunContext:  rc,
		Enumerator:  &Enumerator{Logger: logger},
		Coordinator: coordinator,
		Logger:      logger,
	}

	got, err := r.Run(context.Background(), testExecutionID)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if got.Failed != 2 {
		t.Errorf("Run() = %+v, want 2 failed", got)
	}
	if store.Len() != 2 || len(alerts.messages) != 2 {
		t.Errorf("recorded %d outcomes and %d alerts, want 2 each", store.Len(), len(alerts.messages))
	}
}
