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
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var errPoolCompleted = errors.New("pool has already been completed")

type slot struct{}

// WorkerPool runs tasks concurrently with at most size tasks in flight.
// Go blocks the caller until a slot frees up, so tasks are admitted in the
// order they are submitted.
type WorkerPool[Result any] struct {
	eg    *errgroup.Group
	egctx context.Context

	// slots is a channel-based semaphore bounding the tasks in flight.
	slots chan slot

	results   []Result
	resultsMu sync.Mutex

	hasWaited atomic.Bool
}

// NewWorkerPool creates a worker pool with provided size.
//
// If size is less than or equal to 0, it defaults to 1. The returned context
// is cancelled when a task returns an error or when Wait returns.
func NewWorkerPool[Result any](ctx context.Context, size int) (*WorkerPool[Result], context.Context) {
	if size <= 0 {
		size = 1
	}
	eg, egCtx := errgroup.WithContext(ctx)
	return &WorkerPool[Result]{
		eg:    eg,
		egctx: egCtx,
		slots: make(chan slot, size),
	}, egCtx
}

// Go starts task once a slot in the pool is available.
//
// It returns an error if the pool has already been completed or if the
// context is done before a slot was acquired.
func (p *WorkerPool[Result]) Go(task func() (Result, error)) error {
	if p.hasWaited.Load() {
		return errPoolCompleted
	}

	// a done context takes precedence over a free slot.
	if err := p.cause(); err != nil {
		return err
	}

	select {
	case <-p.egctx.Done():
		return p.cause()
	case p.slots <- slot{}:
	}

	p.eg.Go(func() error {
		defer func() {
			<-p.slots
		}()

		result, err := task()

		p.resultsMu.Lock()
		p.results = append(p.results, result)
		p.resultsMu.Unlock()

		return err
	})
	return nil
}

// Wait blocks until all started tasks have completed and returns their
// results in completion order along with the first task error.
func (p *WorkerPool[Result]) Wait() ([]Result, error) {
	if !p.hasWaited.CompareAndSwap(false, true) {
		return nil, errors.New("WorkerPool.Wait() can only be called once")
	}
	err := p.eg.Wait()
	close(p.slots)
	return p.results, err
}

func (p *WorkerPool[Result]) cause() error {
	select {
	case <-p.egctx.Done():
		if err := context.Cause(p.egctx); err != nil {
			return err
		}
		return p.egctx.Err()
	default:
		return nil
	}
}
