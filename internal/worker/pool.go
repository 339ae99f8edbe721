package worker

import (
	"errors"
	"sync"
)

// ErrQueueFull is returned by Submit when every worker is occupied and the
// backlog is at capacity. Callers surface this as a busy rejection.
var ErrQueueFull = errors.New("worker queue full")

// Task is a blocking unit of work producing text (a transcript).
type Task func() (string, error)

type Result struct {
	Text string
	Err  error
}

// Pool runs blocking tasks on a fixed set of goroutines so a slow
// transcription never stalls the loop handling chat updates. The queue is
// bounded: with the admission gate serializing jobs it should rarely fill,
// and overflow is rejected rather than queued without limit.
type Pool struct {
	tasks chan pending
	wg    sync.WaitGroup

	closeOnce sync.Once
}

type pending struct {
	run  Task
	done chan Result
}

func NewPool(size, queueDepth int) *Pool {
	if size < 1 {
		size = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}

	p := &Pool{tasks: make(chan pending, queueDepth)}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for t := range p.tasks {
		text, err := t.run()
		t.done <- Result{Text: text, Err: err}
	}
}

// Submit hands the task to a worker, failing fast with ErrQueueFull when no
// slot is available. The returned channel receives exactly one Result.
func (p *Pool) Submit(task Task) (<-chan Result, error) {
	done := make(chan Result, 1)
	select {
	case p.tasks <- pending{run: task, done: done}:
		return done, nil
	default:
		return nil, ErrQueueFull
	}
}

// Close stops accepting work and waits for in-flight tasks to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
}
