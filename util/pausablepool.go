package bpsimutil

import (
	"sync"
)

// Returned when a task is submitted to a paused pool.
type PausablePoolPausedError struct{}

func (e *PausablePoolPausedError) Error() string {
	return "pausable pool is paused"
}

// Returned when the pool has been stopped.
type PausablePoolStoppedError struct{}

func (e *PausablePoolStoppedError) Error() string {
	return "pausable pool is stopped"
}

// Fixed set of workers running the submitted tasks, e.g. the handling of
// the inbound frames. Pause waits for the running tasks to finish and holds
// the queued ones back until Resume, so the caller may reset the state the
// tasks operate on.
type PausablePool struct {
	size  int
	tasks chan func()
	// Workers hold the read side while running a task; Pause takes the
	// write side.
	gate    sync.RWMutex
	workers sync.WaitGroup

	mutex   sync.Mutex
	paused  bool
	stopped bool
}

// Starts the pool with the number of workers, at least one. The queue
// holds as many tasks as there are workers.
func NewPausablePool(size int) *PausablePool {
	size = max(size, 1)
	pool := &PausablePool{
		size:  size,
		tasks: make(chan func(), size),
	}
	pool.workers.Add(size)
	for range size {
		go pool.work()
	}
	return pool
}

func (p *PausablePool) work() {
	defer p.workers.Done()
	for task := range p.tasks {
		p.gate.RLock()
		task()
		p.gate.RUnlock()
	}
}

// Returns the number of workers.
func (p *PausablePool) Size() int {
	return p.size
}

// Blocks until the running tasks finish. New tasks are rejected until the
// pool is resumed.
func (p *PausablePool) Pause() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.stopped {
		return &PausablePoolStoppedError{}
	}
	if !p.paused {
		p.gate.Lock()
		p.paused = true
	}
	return nil
}

func (p *PausablePool) Resume() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.stopped {
		return &PausablePoolStoppedError{}
	}
	if p.paused {
		p.paused = false
		p.gate.Unlock()
	}
	return nil
}

// Runs the queued tasks and waits for the workers to exit. Subsequent
// calls do nothing.
func (p *PausablePool) Stop() {
	p.mutex.Lock()
	if p.stopped {
		p.mutex.Unlock()
		return
	}
	p.stopped = true
	if p.paused {
		p.paused = false
		p.gate.Unlock()
	}
	close(p.tasks)
	p.mutex.Unlock()

	p.workers.Wait()
}

// Queues the task. Blocks while the queue is full.
func (p *PausablePool) Submit(task func()) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	switch {
	case p.stopped:
		return &PausablePoolStoppedError{}
	case p.paused:
		return &PausablePoolPausedError{}
	default:
		p.tasks <- task
		return nil
	}
}
