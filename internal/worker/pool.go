// Package worker provides a bounded worker pool. The scheduler uses it to cap
// how many paths execute at once without spinning on a counter.
package worker

import (
	"context"
	"sync"
)

// Pool runs submitted functions on goroutines, never more than its size at a
// time. The zero value is not usable; use New.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a Pool that runs at most size functions concurrently.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit runs fn on a pool goroutine, blocking until a slot is free or the
// context is cancelled.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.run(fn)
	return nil
}

// TrySubmit runs fn on a pool goroutine if a slot is free right now, and
// reports whether it did.
func (p *Pool) TrySubmit(fn func()) bool {
	select {
	case p.sem <- struct{}{}:
	default:
		return false
	}
	p.run(fn)
	return true
}

func (p *Pool) run(fn func()) {
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()
}

// InFlight returns the number of currently running functions.
func (p *Pool) InFlight() int {
	return len(p.sem)
}

// Wait blocks until every submitted function has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
