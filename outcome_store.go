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
	"sort"
	"sync"
)

// MemoryOutcomeStoreType is the type name of [MemoryOutcomeStore].
const MemoryOutcomeStoreType = "memory"

// registeredOutcomeStores saves the registered outcome store factories.
var (
	registeredOutcomeStores   map[string]func(CreateOutcomeStoreOptions) (OutcomeStore, error)
	registeredOutcomeStoresMu sync.RWMutex
)

func init() {
	RegisterOutcomeStore(MemoryOutcomeStoreType, func(CreateOutcomeStoreOptions) (OutcomeStore, error) {
		return NewMemoryOutcomeStore(), nil
	})
}

// OutcomeStore durably records the terminal outcome of work items.
type OutcomeStore interface {
	// Put writes record under the key (record.Image, record.Tag), replacing
	// any previous record of the same key.
	// Note: Put is called concurrently from the item pipelines of a run.
	Put(ctx context.Context, record OutcomeRecord) error
}

// CreateOutcomeStoreOptions represents the options to create an outcome
// store.
type CreateOutcomeStoreOptions struct {
	// Type represents a specific implementation of outcome stores. Required.
	Type string

	// Parameters of the store. Optional.
	Parameters any
}

// RegisterOutcomeStore registers an outcome store factory to the system.
func RegisterOutcomeStore(storeType string, create func(CreateOutcomeStoreOptions) (OutcomeStore, error)) {
	if storeType == "" {
		panic("outcome store type cannot be empty")
	}
	if create == nil {
		panic("outcome store factory cannot be nil")
	}
	registeredOutcomeStoresMu.Lock()
	defer registeredOutcomeStoresMu.Unlock()
	if registeredOutcomeStores == nil {
		registeredOutcomeStores = make(map[string]func(CreateOutcomeStoreOptions) (OutcomeStore, error))
	}
	if _, registered := registeredOutcomeStores[storeType]; registered {
		panic(fmt.Sprintf("outcome store factory type %s already registered", storeType))
	}
	registeredOutcomeStores[storeType] = create
}

// CreateOutcomeStore creates an outcome store instance if it belongs to a
// registered type.
func CreateOutcomeStore(opts CreateOutcomeStoreOptions) (OutcomeStore, error) {
	if opts.Type == "" {
		return nil, fmt.Errorf("type is not provided in the outcome store options")
	}
	registeredOutcomeStoresMu.RLock()
	create, ok := registeredOutcomeStores[opts.Type]
	registeredOutcomeStoresMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("outcome store factory of type %s is not registered", opts.Type)
	}
	return create(opts)
}

type outcomeKey struct {
	image string
	tag   string
}

// MemoryOutcomeStore keeps outcome records in memory. It is safe for
// concurrent use.
type MemoryOutcomeStore struct {
	mu      sync.Mutex
	records map[outcomeKey]OutcomeRecord
	puts    int
}

// NewMemoryOutcomeStore creates an empty [MemoryOutcomeStore].
func NewMemoryOutcomeStore() *MemoryOutcomeStore {
	return &MemoryOutcomeStore{
		records: make(map[outcomeKey]OutcomeRecord),
	}
}

// Put implements [OutcomeStore].
func (s *MemoryOutcomeStore) Put(_ context.Context, record OutcomeRecord) error {
	if record.Image == "" {
		return fmt.Errorf("outcome record image is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[outcomeKey{record.Image, record.Tag}] = record
	s.puts++
	return nil
}

// Get returns the record of image:tag.
func (s *MemoryOutcomeStore) Get(image, tag string) (OutcomeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[outcomeKey{image, tag}]
	return record, ok
}

// Records returns all records ordered by image and tag.
func (s *MemoryOutcomeStore) Records() []OutcomeRecord {
	s.mu.Lock()
	records := make([]OutcomeRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	s.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].Image != records[j].Image {
			return records[i].Image < records[j].Image
		}
		return records[i].Tag < records[j].Tag
	})
	return records
}

// Len returns the number of distinct keys.
func (s *MemoryOutcomeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Puts returns the number of successful Put calls, overwrites included.
func (s *MemoryOutcomeStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
