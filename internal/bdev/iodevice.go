package bdev

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// IODevice hands out one context of type C per Thread. Contexts are created
// on first use and destroyed when the last reference on that Thread is
// released.
type IODevice[C any] struct {
	name    string
	create  func(t *Thread) (C, error)
	destroy func(ctx C)

	mu           sync.Mutex
	channels     map[*Thread]*IOChannel[C]
	unregistered bool
	onDone       func()
	doneThread   *Thread
}

// IOChannel is a reference-counted handle to a Thread's context.
type IOChannel[C any] struct {
	dev    *IODevice[C]
	thread *Thread
	ctx    C
	refs   int
}

// RegisterIODevice registers a per-Thread context type. destroy may be nil.
func RegisterIODevice[C any](name string, create func(t *Thread) (C, error), destroy func(ctx C)) *IODevice[C] {
	return &IODevice[C]{
		name:     name,
		create:   create,
		destroy:  destroy,
		channels: make(map[*Thread]*IOChannel[C]),
	}
}

func (d *IODevice[C]) Name() string {
	return d.name
}

// GetChannel returns t's channel, creating it if needed. It must be called on
// t. Every successful call must be paired with a Release.
func (d *IODevice[C]) GetChannel(t *Thread) (*IOChannel[C], error) {
	d.mu.Lock()
	if d.unregistered {
		d.mu.Unlock()
		return nil, errors.Wrap(ErrNoDevice, d.name)
	}
	if ch, ok := d.channels[t]; ok {
		ch.refs++
		d.mu.Unlock()
		return ch, nil
	}
	d.mu.Unlock()

	// Only t creates t's entry, so nothing can race us between the unlock and
	// the insert below.
	ctx, err := d.create(t)
	if err != nil {
		return nil, err
	}
	ch := &IOChannel[C]{dev: d, thread: t, ctx: ctx, refs: 1}

	d.mu.Lock()
	d.channels[t] = ch
	d.mu.Unlock()
	return ch, nil
}

// Channels reports how many Threads currently hold a channel.
func (d *IODevice[C]) Channels() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

// ForEachChannel runs fn on every live channel, each on its own Thread, then
// sends done to t.
func (d *IODevice[C]) ForEachChannel(t *Thread, fn func(ctx C), done func()) {
	d.mu.Lock()
	snapshot := make([]*IOChannel[C], 0, len(d.channels))
	for _, ch := range d.channels {
		snapshot = append(snapshot, ch)
	}
	d.mu.Unlock()

	if len(snapshot) == 0 {
		t.Send(done)
		return
	}

	var pending atomic.Int32
	pending.Store(int32(len(snapshot)))
	for _, ch := range snapshot {
		ch := ch
		finish := func() {
			if pending.Add(-1) == 0 {
				t.Send(done)
			}
		}
		if !ch.thread.Send(func() {
			d.mu.Lock()
			live := d.channels[ch.thread] == ch
			d.mu.Unlock()
			if live {
				fn(ch.ctx)
			}
			finish()
		}) {
			finish()
		}
	}
}

// Unregister stops new channels from being created and sends done to t once
// every existing channel has been released. It never calls done inline.
func (d *IODevice[C]) Unregister(t *Thread, done func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.unregistered {
		panic(fmt.Sprintf("bdev: io device %s unregistered twice", d.name))
	}
	d.unregistered = true
	d.onDone = done
	d.doneThread = t
	d.finishUnregisterLocked()
}

func (d *IODevice[C]) finishUnregisterLocked() {
	if !d.unregistered || len(d.channels) > 0 || d.onDone == nil {
		return
	}
	done := d.onDone
	d.onDone = nil
	d.doneThread.Send(done)
}

// Ctx returns the Thread-local context.
func (ch *IOChannel[C]) Ctx() C {
	return ch.ctx
}

func (ch *IOChannel[C]) Thread() *Thread {
	return ch.thread
}

// Release drops one reference. The context is destroyed, on the channel's
// Thread, when the last reference goes away.
func (ch *IOChannel[C]) Release() {
	d := ch.dev

	d.mu.Lock()
	ch.refs--
	if ch.refs < 0 {
		d.mu.Unlock()
		panic(fmt.Sprintf("bdev: io channel of %s released too many times", d.name))
	}
	if ch.refs > 0 {
		d.mu.Unlock()
		return
	}
	delete(d.channels, ch.thread)
	d.mu.Unlock()

	if d.destroy != nil {
		d.destroy(ch.ctx)
	}

	d.mu.Lock()
	d.finishUnregisterLocked()
	d.mu.Unlock()
}
