package engine

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("pool closed")

// Pool runs submitted kernels on a fixed number of worker goroutines.
// Kernels on different workers contend only through their locks.
type Pool struct {
	u       *Universe
	queue   *jobQueue
	workers int
}

// NewPool creates a pool of workers running kernels against u. Workers
// start with Run.
func (u *Universe) NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{u: u, queue: newJobQueue(), workers: workers}
}

// Submit queues k. done, if non-nil, is called on the worker goroutine
// with the result of the run.
func (p *Pool) Submit(k Kernel, done func(error)) error {
	if !p.queue.Enqueue(job{kernel: k, done: done}) {
		return ErrPoolClosed
	}
	return nil
}

// Pending returns the number of queued kernels not yet picked up.
func (p *Pool) Pending() int {
	return p.queue.Len()
}

// Close stops accepting kernels. Run returns once the queue drains.
func (p *Pool) Close() {
	p.queue.Close()
}

// Run starts the workers and blocks until the pool is closed and every
// queued kernel has run, or ctx is done. Kernel failures are reported
// through the done callbacks, not through Run.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for range p.workers {
		g.Go(func() error { return p.work(ctx) })
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if j, ok := p.queue.TryDequeue(); ok {
			err := p.u.Run(ctx, j.kernel)
			if j.done != nil {
				j.done(err)
			}
			continue
		}
		if p.queue.Closed() && p.queue.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.queue.Wait():
		}
	}
}
