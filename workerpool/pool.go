// Package workerpool runs batches of independent work items on a fixed number
// of workers shared by every caller of the same Pool.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// MaxDefaultSize caps the worker count derived from the CPU count.
const MaxDefaultSize = 8

// ErrClosed is reported for items submitted after Close.
var ErrClosed = errors.New("workerpool: pool is closed")

// Result is the outcome for one submitted item. Err is set when fn failed or
// panicked for that item; sibling items are unaffected.
type Result[T, R any] struct {
	Item  T
	Value R
	Err   error
}

// Pool bounds the number of concurrently running work items.
type Pool struct {
	size int
	sem  *semaphore.Weighted

	stop   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// DefaultSize returns GOMAXPROCS capped at MaxDefaultSize.
func DefaultSize() int {
	return min(runtime.GOMAXPROCS(0), MaxDefaultSize)
}

// New creates a pool with size workers. A non-positive size uses DefaultSize.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}

	stop, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		stop:   stop,
		cancel: cancel,
	}
}

// Size returns the configured worker count.
func (p *Pool) Size() int {
	return p.size
}

// InFlight returns the number of items currently executing.
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

// SubmitAll runs fn for every item and returns one Result per item, in the
// order the items completed. At most p.Size() items run at once across all
// concurrent SubmitAll calls on p.
//
// fn must not call SubmitAll on the same pool; a nested batch can wait
// forever for a worker its parent is holding.
func SubmitAll[T, R any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) (R, error)) []Result[T, R] {
	if len(items) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(p.stop, cancel)
	defer stopWatch()

	done := make(chan Result[T, R], len(items))

	for _, item := range items {
		if err := p.begin(ctx); err != nil {
			done <- Result[T, R]{Item: item, Err: err}
			continue
		}

		go func(item T) {
			defer p.end()
			done <- run(ctx, item, fn)
		}(item)
	}

	results := make([]Result[T, R], 0, len(items))
	for range items {
		results = append(results, <-done)
	}
	return results
}

func run[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error)) (res Result[T, R]) {
	res.Item = item
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("workerpool: item panicked: %v", r)
		}
	}()

	res.Value, res.Err = fn(ctx, item)
	return res
}

func (p *Pool) begin(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.wg.Done()
		return err
	}
	p.inFlight.Add(1)
	return nil
}

func (p *Pool) end() {
	p.inFlight.Add(-1)
	p.sem.Release(1)
	p.wg.Done()
}

// Close stops accepting new items and waits for running ones. If ctx expires
// first, the contexts handed to running items are cancelled and ctx.Err() is
// returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
