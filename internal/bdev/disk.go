package bdev

import (
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dreamware/raidbd/internal/logging"
)

// DefaultQueueDepth bounds in-flight I/O per channel when DiskOptions leaves it
// unset.
const DefaultQueueDepth = 128

// Backend is the byte-addressable store behind a Disk.
type Backend interface {
	io.ReaderAt
	io.WriterAt
}

type DiskOptions struct {
	// QueueDepth is the number of I/Os a single channel may have in flight
	// before submissions return ErrNoMemory.
	QueueDepth int
}

// Disk is a BlockDevice over a Backend. I/O runs on its own goroutine and
// completes as a message on the submitting Thread.
type Disk struct {
	name       string
	backend    Backend
	blockLen   uint32
	numBlocks  uint64
	queueDepth int

	dev *IODevice[*diskChannel]

	failReads  atomic.Bool
	failWrites atomic.Bool
	dropped    atomic.Uint64

	log zerolog.Logger
}

type diskOp int

const (
	opRead diskOp = iota
	opWrite
)

type diskChannel struct {
	disk     *Disk
	thread   *Thread
	inflight int
	waiters  []func()
}

type diskHandle struct {
	ref    *IOChannel[*diskChannel]
	closed bool
}

// NewDisk creates a Disk of numBlocks blocks of blockLen bytes.
func NewDisk(name string, backend Backend, blockLen uint32, numBlocks uint64, opts DiskOptions) *Disk {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	d := &Disk{
		name:       name,
		backend:    backend,
		blockLen:   blockLen,
		numBlocks:  numBlocks,
		queueDepth: opts.QueueDepth,
		log:        logging.Component("disk").With().Str("disk", name).Logger(),
	}
	d.dev = RegisterIODevice(name, func(t *Thread) (*diskChannel, error) {
		return &diskChannel{disk: d, thread: t}, nil
	}, func(dc *diskChannel) {
		dc.flushWaiters()
	})
	return d
}

func (d *Disk) Name() string      { return d.name }
func (d *Disk) BlockLen() uint32  { return d.blockLen }
func (d *Disk) NumBlocks() uint64 { return d.numBlocks }
func (d *Disk) QueueDepth() int   { return d.queueDepth }

// DroppedCompletions counts completions that could not be delivered because
// the submitting Thread had stopped. Their callbacks never run.
func (d *Disk) DroppedCompletions() uint64 {
	return d.dropped.Load()
}

// InjectFaults makes subsequent reads and/or writes complete unsuccessfully.
func (d *Disk) InjectFaults(reads, writes bool) {
	d.failReads.Store(reads)
	d.failWrites.Store(writes)
	d.log.Warn().Bool("reads", reads).Bool("writes", writes).Msg("fault injection updated")
}

func (d *Disk) OpenChannel(t *Thread) (Channel, error) {
	ref, err := d.dev.GetChannel(t)
	if err != nil {
		return nil, err
	}
	return &diskHandle{ref: ref}, nil
}

func (h *diskHandle) Readv(iovs [][]byte, offsetBlocks, numBlocks uint64, cb CompletionFunc) error {
	return h.submit(opRead, iovs, offsetBlocks, numBlocks, cb)
}

func (h *diskHandle) Writev(iovs [][]byte, offsetBlocks, numBlocks uint64, cb CompletionFunc) error {
	return h.submit(opWrite, iovs, offsetBlocks, numBlocks, cb)
}

func (h *diskHandle) submit(op diskOp, iovs [][]byte, offsetBlocks, numBlocks uint64, cb CompletionFunc) error {
	if h.closed {
		return ErrChannelClosed
	}
	dc := h.ref.Ctx()
	d := dc.disk

	end := offsetBlocks + numBlocks
	if numBlocks == 0 || end < offsetBlocks || end > d.numBlocks {
		return errors.Wrapf(ErrInvalid, "%s: blocks [%d, %d) outside device", d.name, offsetBlocks, end)
	}
	if IovLen(iovs) != numBlocks*uint64(d.blockLen) {
		return errors.Wrapf(ErrInvalid, "%s: iov length %d does not cover %d blocks", d.name, IovLen(iovs), numBlocks)
	}
	if dc.inflight >= d.queueDepth {
		return ErrNoMemory
	}

	dc.inflight++
	off := int64(offsetBlocks) * int64(d.blockLen)
	go func() {
		err := d.transfer(op, iovs, off)
		if err != nil {
			d.log.Debug().Err(err).Int64("offset", off).Msg("i/o failed")
		}
		sent := dc.thread.Send(func() {
			dc.complete(err == nil, cb)
		})
		if !sent {
			d.dropped.Add(1)
			d.log.Warn().Str("thread", dc.thread.Name()).Int64("offset", off).Msg("completion dropped, thread stopped")
		}
	}()
	return nil
}

func (h *diskHandle) QueueIOWait(fn func()) error {
	if h.closed {
		return ErrChannelClosed
	}
	dc := h.ref.Ctx()
	if dc.inflight == 0 {
		// Nothing in flight will ever wake us; retry on the next turn.
		dc.thread.Send(fn)
		return nil
	}
	dc.waiters = append(dc.waiters, fn)
	return nil
}

func (h *diskHandle) Close() {
	if h.closed {
		return
	}
	h.closed = true
	h.ref.Release()
}

func (d *Disk) transfer(op diskOp, iovs [][]byte, off int64) error {
	switch op {
	case opRead:
		if d.failReads.Load() {
			return ErrIO
		}
		for _, iov := range iovs {
			if _, err := d.backend.ReadAt(iov, off); err != nil {
				return err
			}
			off += int64(len(iov))
		}
	case opWrite:
		if d.failWrites.Load() {
			return ErrIO
		}
		for _, iov := range iovs {
			if _, err := d.backend.WriteAt(iov, off); err != nil {
				return err
			}
			off += int64(len(iov))
		}
	}
	return nil
}

func (dc *diskChannel) complete(success bool, cb CompletionFunc) {
	dc.inflight--
	cb(success)
	if len(dc.waiters) > 0 {
		fn := dc.waiters[0]
		dc.waiters = dc.waiters[1:]
		fn()
	}
}

// flushWaiters hands queued continuations back to the thread so that nothing
// waits forever on a channel that is going away.
func (dc *diskChannel) flushWaiters() {
	for _, fn := range dc.waiters {
		dc.thread.Send(fn)
	}
	dc.waiters = nil
}
