package server

import (
	"net"
	"sync"
)

// WorkerPool runs a fixed number of workers fed from a bounded queue of
// accepted connections. Each connection is handled by exactly one worker.
type WorkerPool struct {
	numWorkers int
	jobs       chan net.Conn
	handle     func(net.Conn)
	wg         sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewWorkerPool(numWorkers, queueSize int, handle func(net.Conn)) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		numWorkers: numWorkers,
		jobs:       make(chan net.Conn, queueSize),
		handle:     handle,
	}
}

// Start launches the workers. Calling it more than once is a no-op.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started || wp.closed {
		return
	}
	wp.started = true
	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Submit queues conn without blocking. It reports false when the queue is
// full or the pool is stopped; the caller keeps ownership of conn then.
func (wp *WorkerPool) Submit(conn net.Conn) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	select {
	case wp.jobs <- conn:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for workers to drain it.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	started := wp.started
	wp.mu.Unlock()

	if !started {
		for conn := range wp.jobs {
			_ = conn.Close()
		}
	}
	wp.wg.Wait()
}

func (wp *WorkerPool) Size() int { return wp.numWorkers }

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for conn := range wp.jobs {
		wp.handle(conn)
	}
}
