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

package syncutil

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_Empty(t *testing.T) {
	pool, _ := NewWorkerPool[int](context.Background(), 2)

	results, err := pool.Wait()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %v", results)
	}
}

func TestWorkerPool_MultipleTasks(t *testing.T) {
	pool, _ := NewWorkerPool[int](context.Background(), 3)

	for i := 1; i <= 5; i++ {
		if err := pool.Go(func() (int, error) {
			return i, nil
		}); err != nil {
			t.Fatalf("failed to submit task %d: %v", i, err)
		}
	}

	results, err := pool.Wait()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	sort.Ints(results)
	want := []int{1, 2, 3, 4, 5}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, results)
		}
	}
}

func TestWorkerPool_ConcurrencyLimit(t *testing.T) {
	const size = 2
	pool, _ := NewWorkerPool[struct{}](context.Background(), size)

	var inFlight, peak atomic.Int32
	for i := 0; i < 10; i++ {
		if err := pool.Go(func() (struct{}, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return struct{}{}, nil
		}); err != nil {
			t.Fatalf("failed to submit task: %v", err)
		}
	}
	if _, err := pool.Wait(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := peak.Load(); got > size {
		t.Fatalf("peak concurrency = %d, want <= %d", got, size)
	}
}

func TestWorkerPool_WithError(t *testing.T) {
	pool, ctx := NewWorkerPool[int](context.Background(), 2)
	expectedErr := errors.New("task error")

	if err := pool.Go(func() (int, error) {
		return 0, expectedErr
	}); err != nil {
		t.Fatalf("failed to submit task: %v", err)
	}

	<-ctx.Done()
	if err := pool.Go(func() (int, error) {
		return 42, nil
	}); !errors.Is(err, expectedErr) {
		t.Fatalf("Go() after failure error = %v, want %v", err, expectedErr)
	}

	if _, err := pool.Wait(); !errors.Is(err, expectedErr) {
		t.Fatalf("Wait() error = %v, want %v", err, expectedErr)
	}
}

func TestWorkerPool_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool, _ := NewWorkerPool[int](ctx, 1)

	if err := pool.Go(func() (int, error) { return 1, nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Go() error = %v, want %v", err, context.Canceled)
	}
	if _, err := pool.Wait(); err != nil {
		t.Fatalf("Wait() error = %v, want nil", err)
	}
}

func TestWorkerPool_WaitCalledTwice(t *testing.T) {
	pool, _ := NewWorkerPool[int](context.Background(), 2)

	if _, err := pool.Wait(); err != nil {
		t.Fatalf("first Wait() call failed: %v", err)
	}
	if _, err := pool.Wait(); err == nil {
		t.Fatal("expected error on second Wait() call, got nil")
	}
	if err := pool.Go(func() (int, error) { return 0, nil }); !errors.Is(err, errPoolCompleted) {
		t.Fatalf("Go() after Wait() error = %v, want %v", err, errPoolCompleted)
	}
}
