package bdev

import "github.com/pkg/errors"

var (
	ErrNoMemory      = errors.New("bdev: resource exhausted")
	ErrNoDevice      = errors.New("bdev: no such device")
	ErrInvalid       = errors.New("bdev: invalid argument")
	ErrIO            = errors.New("bdev: i/o error")
	ErrChannelClosed = errors.New("bdev: channel closed")
	ErrThreadStopped = errors.New("bdev: thread stopped")
)

// CompletionFunc is invoked on the submitting Thread when an I/O finishes.
type CompletionFunc func(success bool)

// BlockDevice is a fixed-size array of equally sized blocks.
type BlockDevice interface {
	Name() string
	BlockLen() uint32
	NumBlocks() uint64

	// OpenChannel returns a channel bound to t. It must be called on t.
	OpenChannel(t *Thread) (Channel, error)
}

// Channel is a Thread-local connection to a BlockDevice. All methods must be
// called on the Thread the channel was opened on.
type Channel interface {
	// Readv reads numBlocks blocks starting at offsetBlocks into iovs.
	// The combined length of iovs must equal numBlocks times the block length.
	Readv(iovs [][]byte, offsetBlocks, numBlocks uint64, cb CompletionFunc) error

	// Writev writes iovs to numBlocks blocks starting at offsetBlocks.
	Writev(iovs [][]byte, offsetBlocks, numBlocks uint64, cb CompletionFunc) error

	// QueueIOWait registers fn to run once when the channel is likely to
	// accept I/O again.
	QueueIOWait(fn func()) error

	Close()
}

// IovLen returns the combined length of iovs.
func IovLen(iovs [][]byte) uint64 {
	var n uint64
	for _, iov := range iovs {
		n += uint64(len(iov))
	}
	return n
}
