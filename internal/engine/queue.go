package engine

import "sync"

// job is one kernel waiting for a pool worker.
type job struct {
	kernel Kernel
	done   func(error)
}

// jobQueue is a thread-safe FIFO queue of kernels.
//
// The queue is unbounded so submitters never block behind running
// kernels. It uses a channel for signaling to enable context-aware
// waiting in the workers (prevents goroutine hangs on context
// cancellation).
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{} // Signals job availability (buffered, size 1)
}

// newJobQueue creates an empty job queue.
func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]job, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the back of the queue.
// Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)
	q.notify()
	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (job{}, false) if the queue is empty.
func (q *jobQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return job{}, false
	}

	j := q.jobs[0]

	// Nil out the slot so the kernel closure can be collected.
	q.jobs[0] = job{}

	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
		// The buffered signal coalesces; pass it on so another idle
		// worker wakes for the remaining jobs.
		q.notify()
	}
	return j, true
}

// notify signals availability without blocking. Caller holds q.mu.
func (q *jobQueue) notify() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that signals when jobs may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Closed reports whether Close was called.
func (q *jobQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more jobs will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
