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
	"testing"
)

const testOutcomeStoreType = "test-outcome-store"

func TestMemoryOutcomeStore(t *testing.T) {
	var store any = &MemoryOutcomeStore{}
	if _, ok := store.(OutcomeStore); !ok {
		t.Error("*MemoryOutcomeStore does not implement OutcomeStore")
	}
}

func TestMemoryOutcomeStore_Put(t *testing.T) {
	s := NewMemoryOutcomeStore()
	ctx := context.Background()

	first := OutcomeRecord{Image: "app", Tag: "v1", ExecutionID: "exec-1", Status: OutcomeError, ErrorMessage: "boom"}
	second := OutcomeRecord{Image: "app", Tag: "v1", ExecutionID: "exec-2", Status: OutcomeDone}
	other := OutcomeRecord{Image: "app", Tag: "v2", ExecutionID: "exec-2", Status: OutcomeDone}
	for _, record := range []OutcomeRecord{first, second, other} {
		if err := s.Put(ctx, record); err != nil {
			t.Fatalf("Put() error = %v, want nil", err)
		}
	}

	got, ok := s.Get("app", "v1")
	if !ok || got != second {
		t.Errorf("Get(app, v1) = %+v, want last write %+v", got, second)
	}
	if s.Len() != 2 || s.Puts() != 3 {
		t.Errorf("Len(), Puts() = %d, %d, want 2, 3", s.Len(), s.Puts())
	}
	records := s.Records()
	if len(records) != 2 || records[0].Tag != "v1" || records[1].Tag != "v2" {
		t.Errorf("Records() = %+v, want v1 then v2", records)
	}

	if err := s.Put(ctx, OutcomeRecord{Tag: "v1"}); err == nil {
		t.Error("Put() without image error = nil, want error")
	}
}

func TestMemoryOutcomeStore_ConcurrentPut(t *testing.T) {
	s := NewMemoryOutcomeStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Put(context.Background(), OutcomeRecord{Image: fmt.Sprintf("app-%d", i%10), Tag: "v1", Status: OutcomeDone})
		}(i)
	}
	wg.Wait()
	if s.Len() != 10 || s.Puts() != 50 {
		t.Errorf("Len(), Puts() = %d, %d, want 10, 50", s.Len(), s.Puts())
	}
}

func TestRegisterOutcomeStore(t *testing.T) {
	t.Run("empty type", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("RegisterOutcomeStore() did not panic")
			}
		}()
		RegisterOutcomeStore("", func(CreateOutcomeStoreOptions) (OutcomeStore, error) { return nil, nil })
	})

	t.Run("nil factory", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("RegisterOutcomeStore() did not panic")
			}
		}()
		RegisterOutcomeStore(testOutcomeStoreType, nil)
	})

	t.Run("duplicate type", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("RegisterOutcomeStore() did not panic")
			}
		}()
		RegisterOutcomeStore(MemoryOutcomeStoreType, func(CreateOutcomeStoreOptions) (OutcomeStore, error) { return nil, nil })
	})
}

func TestCreateOutcomeStore(t *testing.T) {
	var gotParams any
	RegisterOutcomeStore(testOutcomeStoreType, func(opts CreateOutcomeStoreOptions) (OutcomeStore, error) {
		gotParams = opts.Parameters
		return NewMemoryOutcomeStore(), nil
	})
	defer func() {
		registeredOutcomeStoresMu.Lock()
		delete(registeredOutcomeStores, testOutcomeStoreType)
		registeredOutcomeStoresMu.Unlock()
	}()

	params := map[string]any{"table": "outcomes"}
	if _, err := CreateOutcomeStore(CreateOutcomeStoreOptions{Type: testOutcomeStoreType, Parameters: params}); err != nil {
		t.Fatalf("CreateOutcomeStore() error = %v, want nil", err)
	}
	if m, ok := gotParams.(map[string]any); !ok || m["table"] != "outcomes" {
		t.Errorf("factory parameters = %v, want %v", gotParams, params)
	}

	store, err := CreateOutcomeStore(CreateOutcomeStoreOptions{Type: MemoryOutcomeStoreType})
	if err != nil {
		t.Fatalf("CreateOutcomeStore(memory) error = %v, want nil", err)
	}
	if _, ok := store.(*MemoryOutcomeStore); !ok {
		t.Errorf("CreateOutcomeStore(memory) = %T, want *MemoryOutcomeStore", store)
	}

	if _, err := CreateOutcomeStore(CreateOutcomeStoreOptions{}); err == nil {
		t.Error("CreateOutcomeStore() without type error = nil, want error")
	}
	if _, err := CreateOutcomeStore(CreateOutcomeStoreOptions{Type: "unknown"}); err == nil {
		t.Error("CreateOutcomeStore(unknown) error = nil, want error")
	}
}
