package analysis

import (
	"context"
	"sync"

	domain "github.com/bryanwahyu/medimage-analyzer/internal/domain/analysis"
)

// task is one in-flight workload.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// tracker holds a handle to every running workload so duplicate starts are
// rejected and cancellation can interrupt the workload at its next sleep.
type tracker struct {
	mu    sync.Mutex
	tasks map[domain.ID]*task
	wg    sync.WaitGroup
}

func newTracker() *tracker {
	return &tracker{tasks: make(map[domain.ID]*task)}
}

// start runs fn in its own goroutine under a context derived from parent.
func (t *tracker) start(parent context.Context, id domain.ID, fn func(ctx context.Context)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, running := t.tasks[id]; running {
		return domain.ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(parent)
	tk := &task{cancel: cancel, done: make(chan struct{})}
	t.tasks[id] = tk
	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		defer close(tk.done)
		defer cancel()
		defer t.forget(id, tk)
		fn(ctx)
	}()
	return nil
}

func (t *tracker) forget(id domain.ID, tk *task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tasks[id] == tk {
		delete(t.tasks, id)
	}
}

// stop cancels the workload for id. It reports whether one was running.
func (t *tracker) stop(id domain.ID) bool {
	t.mu.Lock()
	tk, ok := t.tasks[id]
	t.mu.Unlock()
	if ok {
		tk.cancel()
	}
	return ok
}

// wait blocks until the workload for id has returned or ctx is done.
func (t *tracker) wait(ctx context.Context, id domain.ID) error {
	t.mu.Lock()
	tk, ok := t.tasks[id]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-tk.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tracker) running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// shutdown cancels every workload and waits for all of them to return.
func (t *tracker) shutdown(ctx context.Context) error {
	t.mu.Lock()
	for _, tk := range t.tasks {
		tk.cancel()
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// keyedMutex serializes writes per analysis id without a global lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[domain.ID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id domain.ID) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[domain.ID]*refMutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
