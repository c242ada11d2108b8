package raid1

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/raid"
)

const blockLen = 512

type submission struct {
	write  bool
	offset uint64
	blocks uint64
	iovs   [][]byte
	cb     bdev.CompletionFunc
	thread *bdev.Thread
}

// fakeDevice records submissions and leaves their completion to the test.
type fakeDevice struct {
	name   string
	blocks uint64

	mu        sync.Mutex
	submitted []submission
	pending   []submission
	errs      []error
	waiters   []waiter
}

type waiter struct {
	fn     func()
	thread *bdev.Thread
}

type fakeChannel struct {
	dev    *fakeDevice
	thread *bdev.Thread
	closed bool
}

func newFakeDevice(name string, blocks uint64) *fakeDevice {
	return &fakeDevice{name: name, blocks: blocks}
}

func (d *fakeDevice) Name() string      { return d.name }
func (d *fakeDevice) BlockLen() uint32  { return blockLen }
func (d *fakeDevice) NumBlocks() uint64 { return d.blocks }

func (d *fakeDevice) OpenChannel(t *bdev.Thread) (bdev.Channel, error) {
	return &fakeChannel{dev: d, thread: t}, nil
}

// failNext makes the next submissions return errs, in order.
func (d *fakeDevice) failNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

func (d *fakeDevice) submissions() []submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]submission(nil), d.submitted...)
}

func (d *fakeDevice) numPending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *fakeDevice) numWaiters() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

// complete finishes the oldest pending submission and returns once its
// callback has run.
func (d *fakeDevice) complete(t *testing.T, ok bool) {
	t.Helper()
	d.mu.Lock()
	require.NotEmpty(t, d.pending, "%s has nothing pending", d.name)
	sub := d.pending[0]
	d.pending = d.pending[1:]
	d.mu.Unlock()

	require.NoError(t, sub.thread.Exec(func() { sub.cb(ok) }))
}

// wake runs every parked waiter and returns once they have run.
func (d *fakeDevice) wake(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()

	for _, w := range waiters {
		require.NoError(t, w.thread.Exec(w.fn))
	}
}

func (c *fakeChannel) Readv(iovs [][]byte, offsetBlocks, numBlocks uint64, cb bdev.CompletionFunc) error {
	return c.submit(false, iovs, offsetBlocks, numBlocks, cb)
}

func (c *fakeChannel) Writev(iovs [][]byte, offsetBlocks, numBlocks uint64, cb bdev.CompletionFunc) error {
	return c.submit(true, iovs, offsetBlocks, numBlocks, cb)
}

func (c *fakeChannel) submit(write bool, iovs [][]byte, offsetBlocks, numBlocks uint64, cb bdev.CompletionFunc) error {
	if c.closed {
		return bdev.ErrChannelClosed
	}
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return err
		}
	}
	sub := submission{write: write, offset: offsetBlocks, blocks: numBlocks, iovs: iovs, cb: cb, thread: c.thread}
	d.submitted = append(d.submitted, sub)
	d.pending = append(d.pending, sub)
	return nil
}

func (c *fakeChannel) QueueIOWait(fn func()) error {
	if c.closed {
		return bdev.ErrChannelClosed
	}
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.waiters = append(c.dev.waiters, waiter{fn: fn, thread: c.thread})
	return nil
}

// Close hands parked waiters back to the thread, as a real device does.
func (c *fakeChannel) Close() {
	if c.closed {
		return
	}
	c.closed = true

	c.dev.mu.Lock()
	waiters := c.dev.waiters
	c.dev.waiters = nil
	c.dev.mu.Unlock()
	for _, w := range waiters {
		w.thread.Send(w.fn)
	}
}

// harness is a raid1 array over fake devices with one I/O thread.
type harness struct {
	t    *testing.T
	mgmt *bdev.Thread
	io   *bdev.Thread
	devs []*fakeDevice
	arr  *raid.Array
	ch   *raid.IOChannel
}

// newHarness builds an array with one slot per size; a zero size configures
// the slot absent.
func newHarness(t *testing.T, sizes ...uint64) *harness {
	t.Helper()
	h := &harness{
		t:    t,
		mgmt: bdev.NewThread("mgmt"),
		io:   bdev.NewThread("io"),
	}
	t.Cleanup(func() {
		h.io.Stop()
		h.mgmt.Stop()
	})

	cfg := raid.Config{Name: t.Name(), Level: raid.LevelRAID1, Thread: h.mgmt}
	for i, size := range sizes {
		if size == 0 {
			h.devs = append(h.devs, nil)
			cfg.BaseBdevs = append(cfg.BaseBdevs, raid.BaseConfig{Name: "absent"})
			continue
		}
		dev := newFakeDevice(string(rune('a'+i)), size)
		h.devs = append(h.devs, dev)
		cfg.BaseBdevs = append(cfg.BaseBdevs, raid.BaseConfig{Device: dev})
	}

	arr, err := raid.Create(cfg)
	require.NoError(t, err)
	h.arr = arr

	require.NoError(t, h.io.Exec(func() {
		h.ch, err = arr.GetIOChannel(h.io)
	}))
	require.NoError(t, err)
	return h
}

func (h *harness) submit(typ raid.IOType, offset, blocks uint64) <-chan bool {
	h.t.Helper()
	done := make(chan bool, 1)
	var iovs [][]byte
	if typ == raid.IOTypeRead || typ == raid.IOTypeWrite {
		iovs = [][]byte{make([]byte, blocks*blockLen)}
	}
	require.NoError(h.t, h.io.Exec(func() {
		err := h.arr.Submit(h.ch, typ, iovs, offset, blocks, func(ok bool) { done <- ok })
		assert.NoError(h.t, err)
	}))
	return done
}

func (h *harness) read(offset, blocks uint64) <-chan bool {
	return h.submit(raid.IOTypeRead, offset, blocks)
}

func (h *harness) write(offset, blocks uint64) <-chan bool {
	return h.submit(raid.IOTypeWrite, offset, blocks)
}

func (h *harness) outstanding() []uint64 {
	h.t.Helper()
	counts := make([]uint64, len(h.devs))
	require.NoError(h.t, h.io.Exec(func() {
		for i := range counts {
			counts[i] = OutstandingReads(h.ch, i)
		}
	}))
	return counts
}

// remove takes slot out of the array and waits for every channel to drop it.
func (h *harness) remove(slot int) {
	h.t.Helper()
	errc := make(chan error, 1)
	h.arr.RemoveBaseBdev(slot, func(err error) { errc <- err })
	select {
	case err := <-errc:
		require.NoError(h.t, err)
	case <-time.After(2 * time.Second):
		h.t.Fatal("remove did not finish")
	}
	// flush anything the removal queued on the I/O thread
	require.NoError(h.t, h.io.Exec(func() {}))
}

func (h *harness) release() {
	require.NoError(h.t, h.io.Exec(h.ch.Release))
}

func completed(t *testing.T, done <-chan bool) bool {
	t.Helper()
	select {
	case ok := <-done:
		return ok
	default:
		t.Fatal("request has not completed")
		return false
	}
}

func pending(t *testing.T, done <-chan bool) {
	t.Helper()
	select {
	case ok := <-done:
		t.Fatalf("request completed early with %v", ok)
	default:
	}
}
