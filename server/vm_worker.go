package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// ErrWorkerStopped is returned for work submitted after Stop.
var ErrWorkerStopped = errors.New("worker pool stopped")

// workRequest represents a unit of work to be executed by a worker.
type workRequest struct {
	ctx  context.Context
	fn   func(context.Context) (any, error)
	done chan workResult
}

// workResult holds the return value from a unit of work.
type workResult struct {
	value any
	err   error
}

// VMWorker runs interpreter work on a fixed set of goroutines. Frames are
// independent, so the pool bounds concurrency rather than serializing it.
type VMWorker struct {
	requests chan workRequest
	quit     chan struct{}
	size     int

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewVMWorker starts a pool of n workers. n < 1 starts one.
func NewVMWorker(n int) *VMWorker {
	if n < 1 {
		n = 1
	}
	w := &VMWorker{
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
		size:     n,
	}
	w.wg.Add(n)
	for i := 0; i < n; i++ {
		go w.loop()
	}
	return w
}

// Size returns the number of workers.
func (w *VMWorker) Size() int {
	return w.size
}

// loop processes requests until the pool stops.
func (w *VMWorker) loop() {
	defer w.wg.Done()
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req)
		case <-w.quit:
			return
		}
	}
}

// execute runs one request, recovering from panics.
func (w *VMWorker) execute(req workRequest) (result workResult) {
	if err := req.ctx.Err(); err != nil {
		return workResult{err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker panic: %v\n%s", r, debug.Stack())
			result = workResult{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err := req.fn(req.ctx)
	return workResult{value: v, err: err}
}

// Do submits fn and blocks until it completes or ctx is done. Returns the
// result and any error (including panics).
func (w *VMWorker) Do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	req := workRequest{
		ctx:  ctx,
		fn:   fn,
		done: make(chan workResult, 1),
	}

	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-req.done:
		return result.value, result.err
	case <-ctx.Done():
		// fn observes the same ctx and will stop at its next check.
		return nil, ctx.Err()
	case <-w.quit:
		// The request may be stranded in the queue.
		select {
		case result := <-req.done:
			return result.value, result.err
		default:
			return nil, ErrWorkerStopped
		}
	}
}

// Stop shuts down the workers and waits for running work to finish.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
	w.wg.Wait()
}

// submit is Do with a typed result.
func submit[T any](ctx context.Context, w *VMWorker, fn func(context.Context) (T, error)) (T, error) {
	v, err := w.Do(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		if t, ok := v.(T); ok {
			return t, err
		}
		return zero, err
	}
	return v.(T), nil
}
