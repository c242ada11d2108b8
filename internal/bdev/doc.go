// Package bdev provides the block-device framework that array modules plug
// into: execution contexts, per-context channels, block devices and the
// resource-exhaustion wait queue.
//
// # Execution model
//
// A Thread is a single goroutine draining a FIFO of messages. Every channel
// belongs to exactly one Thread and its state is only touched from that
// Thread, so channel state never needs a lock:
//
//	┌──────────────┐   Send(fn)   ┌──────────────┐
//	│  submitter   │ ───────────▶ │    Thread    │
//	└──────────────┘              │  msg queue   │
//	                              │  channels    │
//	┌──────────────┐   Send(cb)   │  (owned)     │
//	│ backend I/O  │ ───────────▶ │              │
//	└──────────────┘              └──────────────┘
//
// Submissions return immediately. A submission returns nil when the I/O was
// accepted, ErrNoMemory when the channel is momentarily saturated, or any
// other error for a hard failure. Accepted I/O always completes later as a
// message on the submitting Thread, never from inside the submission call.
//
// # Channels
//
// IODevice registers a per-Thread context type. GetChannel creates the context
// lazily the first time a Thread asks for it and reference counts further
// requests from the same Thread. Unregister is asynchronous: its callback runs
// on the requesting Thread once every channel has been released.
//
// # Backpressure
//
// After ErrNoMemory the caller hands a continuation to Channel.QueueIOWait.
// The continuation runs exactly once, on the channel's Thread, after an
// in-flight I/O on that channel completes.
package bdev
