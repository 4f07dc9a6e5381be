// workpool.go - worker pool abstraction
//
// (c) 2024 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package cp

// Workers are go-routines that accept work submitted via a channel
// and invoke a caller defined "work" function. Each unit of work is
// an independent file copy.
//
// The API is modeled after sync.WaitGroup:
//
//	pool := NewWorkPool[*Request](n, func(i int, r *Request) error {
//		_, err := c.Copy(r)
//		return err
//	})
//
//	pool.Submit(r)
//	...
//	pool.Close()
//	err := pool.Wait()
//
// Wait() harvests the errors and ends all the worker goroutines.
// The pool cannot be used after Wait().

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkPool runs a fixed number of workers over submitted work
type WorkPool[Work any] struct {
	stopped atomic.Bool
	wg      sync.WaitGroup
	ch      chan Work

	mu   sync.Mutex
	errs []error
}

// NewWorkPool creates a worker pool that invokes caller provided worker 'fp'.
// Each worker will process one unit of "work" submitted via Submit().
// nworkers <= 0 means one worker per CPU.
func NewWorkPool[Work any](nworkers int, fp func(i int, w Work) error) *WorkPool[Work] {
	if nworkers <= 0 {
		nworkers = runtime.NumCPU()
	}

	wp := &WorkPool[Work]{
		ch: make(chan Work, nworkers),
	}

	wp.wg.Add(nworkers)
	for i := 0; i < nworkers; i++ {
		go func(i int) {
			defer wp.wg.Done()
			for w := range wp.ch {
				wp.run(i, w, fp)
			}
		}(i)
	}
	return wp
}

// run one unit of work; a panic is turned into an error and the
// worker lives on.
func (wp *WorkPool[Work]) run(i int, w Work, fp func(i int, w Work) error) {
	defer func() {
		if e := recover(); e != nil {
			wp.Err(fmt.Errorf("workpool: panic: %v", e))
		}
	}()

	if err := fp(i, w); err != nil {
		wp.Err(err)
	}
}

// Wait waits for all workers to end and returns any errors from
// them. Close() must be called first.
func (wp *WorkPool[Work]) Wait() error {
	wp.wg.Wait()

	wp.mu.Lock()
	defer wp.mu.Unlock()
	return errors.Join(wp.errs...)
}

// Close the work submission to workers and signal
// to them that there's no more work forthcoming.
func (wp *WorkPool[Work]) Close() {
	if wp.stopped.Swap(true) {
		panic("workpool: already closed")
	}
	close(wp.ch)
}

// Submit submits one unit of work to the workers.
// WorkPool must be active.
func (wp *WorkPool[Work]) Submit(w Work) {
	if wp.stopped.Load() {
		panic("workpool: submit after close")
	}
	wp.ch <- w
}

// Err records an error on behalf of a worker
func (wp *WorkPool[Work]) Err(err error) {
	wp.mu.Lock()
	wp.errs = append(wp.errs, err)
	wp.mu.Unlock()
}
