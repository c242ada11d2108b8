package raid

import (
	"fmt"

	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/observability"
)

type IOType int

const (
	IOTypeRead IOType = iota
	IOTypeWrite
	IOTypeFlush
	IOTypeUnmap
)

func (t IOType) String() string {
	switch t {
	case IOTypeRead:
		return "read"
	case IOTypeWrite:
		return "write"
	case IOTypeFlush:
		return "flush"
	case IOTypeUnmap:
		return "unmap"
	}
	return fmt.Sprintf("iotype(%d)", int(t))
}

// Status is the outcome of an I/O. Failure is sticky: once an IO has been
// credited with StatusFailed it completes failed.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failed"
}

// CompletionFunc receives the final outcome of an array I/O on the
// submitting Thread.
type CompletionFunc func(success bool)

// IO is the context of one top-level array request. It lives on the Thread
// of the channel it was submitted on, and only that Thread touches it.
type IO struct {
	Type         IOType
	Iovs         [][]byte
	OffsetBlocks uint64
	NumBlocks    uint64

	// BaseIORemaining counts sub-I/O credits still owed before the IO
	// completes.
	BaseIORemaining uint64

	// BaseIOSubmitted is module progress: the slot serving a read, or the
	// next slot a write has not handled yet.
	BaseIOSubmitted int

	arr       *Array
	ch        *IOChannel
	status    Status
	completed bool
	cb        CompletionFunc
}

func (rio *IO) Array() *Array       { return rio.arr }
func (rio *IO) Channel() *IOChannel { return rio.ch }
func (rio *IO) Status() Status      { return rio.status }
func (rio *IO) Completed() bool     { return rio.completed }

// CompletePart credits n sub-I/Os with status. When the last credit arrives
// the IO completes with the latched status and CompletePart returns true;
// the caller must not touch the IO afterwards.
func (rio *IO) CompletePart(n uint64, status Status) bool {
	if rio.completed {
		panic(fmt.Sprintf("raid: %s credit on completed io [%d+%d]", rio.Type, rio.OffsetBlocks, rio.NumBlocks))
	}
	if n > rio.BaseIORemaining {
		panic(fmt.Sprintf("raid: %s credit of %d exceeds %d remaining", rio.Type, n, rio.BaseIORemaining))
	}

	rio.BaseIORemaining -= n
	if status != StatusSuccess {
		rio.status = status
	}
	if rio.BaseIORemaining == 0 {
		rio.Complete(rio.status)
		return true
	}
	return false
}

// Complete finishes the IO immediately with status.
func (rio *IO) Complete(status Status) {
	if rio.completed {
		panic(fmt.Sprintf("raid: %s io [%d+%d] completed twice", rio.Type, rio.OffsetBlocks, rio.NumBlocks))
	}
	rio.completed = true
	rio.status = status

	success := status == StatusSuccess
	observability.RecordIOCompleted(rio.arr.Name, rio.Type.String(), success)
	rio.cb(success)
}

// QueueWait parks fn on ch until the channel can take more work. An error
// means fn was not parked and the caller still owns the IO.
func (rio *IO) QueueWait(ch bdev.Channel, fn func()) error {
	if err := ch.QueueIOWait(fn); err != nil {
		rio.arr.log.Error().Err(err).Str("op", rio.Type.String()).Msg("cannot queue io wait")
		return err
	}
	return nil
}
