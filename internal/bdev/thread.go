package bdev

import "sync"

// Thread is an execution context. Messages sent to it run one at a time, in
// order, on a dedicated goroutine.
type Thread struct {
	name string

	mu       sync.Mutex
	queue    []func()
	stopping bool
	stopped  bool

	wake chan struct{}
	done chan struct{}
}

// NewThread starts a Thread.
func NewThread(name string) *Thread {
	t := &Thread{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Thread) Name() string {
	return t.name
}

// Send queues fn to run on the thread. The queue is unbounded, so Send never
// blocks and may be called from the thread itself. It reports false once the
// thread has exited.
func (t *Thread) Send(fn func()) bool {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return false
	}
	t.queue = append(t.queue, fn)
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return true
}

// Exec runs fn on the thread and waits for it to return. It must not be called
// from the thread itself.
func (t *Thread) Exec(fn func()) error {
	ran := make(chan struct{})
	if !t.Send(func() {
		defer close(ran)
		fn()
	}) {
		return ErrThreadStopped
	}
	<-ran
	return nil
}

// Stop lets the thread drain every queued message, including messages queued
// while draining, and waits for it to exit. It must not be called from the
// thread itself.
func (t *Thread) Stop() {
	t.mu.Lock()
	t.stopping = true
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	<-t.done
}

func (t *Thread) run() {
	defer close(t.done)

	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			if t.stopping {
				t.stopped = true
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()
			<-t.wake
			continue
		}
		batch := t.queue
		t.queue = nil
		t.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}
