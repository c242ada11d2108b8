package storage

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrOutOfRange is returned when an access falls outside the backend
var ErrOutOfRange = errors.New("storage: access out of range")

// Backend defines the byte-addressable store behind a block device
// All implementations must be safe for concurrent ReadAt/WriteAt calls
type Backend interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the backend capacity in bytes
	Size() int64

	// Stats returns access statistics
	Stats() BackendStats

	// Close releases the backend
	Close() error
}

// BackendStats contains statistics about a backend
type BackendStats struct {
	Reads        uint64 // Number of ReadAt calls
	Writes       uint64 // Number of WriteAt calls
	BytesRead    uint64 // Total bytes returned by ReadAt
	BytesWritten uint64 // Total bytes accepted by WriteAt
}

// accessStats is the lock-free form of BackendStats.
type accessStats struct {
	reads        atomic.Uint64
	writes       atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

func (s *accessStats) read(n int) {
	s.reads.Add(1)
	s.bytesRead.Add(uint64(n))
}

func (s *accessStats) wrote(n int) {
	s.writes.Add(1)
	s.bytesWritten.Add(uint64(n))
}

func (s *accessStats) snapshot() BackendStats {
	return BackendStats{
		Reads:        s.reads.Load(),
		Writes:       s.writes.Load(),
		BytesRead:    s.bytesRead.Load(),
		BytesWritten: s.bytesWritten.Load(),
	}
}

// MemoryBackend implements Backend with a fixed-size in-memory buffer
// Uses sync.RWMutex so reads proceed concurrently
type MemoryBackend struct {
	mu    sync.RWMutex // Protects data
	data  []byte       // Backing buffer, sized once at creation
	stats accessStats  // Access counters
}

// NewMemoryBackend creates a zero-filled in-memory backend of size bytes
func NewMemoryBackend(size int64) *MemoryBackend {
	return &MemoryBackend{
		data: make([]byte, size),
	}
}

// ReadAt copies len(p) bytes at off into p
// The whole range must lie inside the backend
func (m *MemoryBackend) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := checkRange(off, len(p), int64(len(m.data))); err != nil {
		return 0, err
	}
	n := copy(p, m.data[off:])
	m.stats.read(n)
	return n, nil
}

// WriteAt copies p into the backend at off
// Makes a copy so later changes to p are not visible
func (m *MemoryBackend) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkRange(off, len(p), int64(len(m.data))); err != nil {
		return 0, err
	}
	n := copy(m.data[off:], p)
	m.stats.wrote(n)
	return n, nil
}

// Size returns the backend capacity in bytes
func (m *MemoryBackend) Size() int64 {
	return int64(len(m.data))
}

// Stats returns access statistics
func (m *MemoryBackend) Stats() BackendStats {
	return m.stats.snapshot()
}

// Close is a no-op for memory backends
func (m *MemoryBackend) Close() error {
	return nil
}

// FileBackend implements Backend on top of a regular file or block special file
type FileBackend struct {
	file  *os.File
	size  int64
	stats accessStats
}

// OpenFileBackend opens (creating if needed) path and sizes it to size bytes
// Existing files larger than size are left untouched
func OpenFileBackend(path string, size int64) (*FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open backend %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat backend %s", path)
	}
	if info.Mode().IsRegular() && info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "size backend %s", path)
		}
	}
	return &FileBackend{file: f, size: size}, nil
}

// ReadAt reads len(p) bytes at off
func (b *FileBackend) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), b.size); err != nil {
		return 0, err
	}
	n, err := b.file.ReadAt(p, off)
	b.stats.read(n)
	return n, err
}

// WriteAt writes p at off
func (b *FileBackend) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), b.size); err != nil {
		return 0, err
	}
	n, err := b.file.WriteAt(p, off)
	b.stats.wrote(n)
	return n, err
}

// Size returns the usable size in bytes
func (b *FileBackend) Size() int64 {
	return b.size
}

// Stats returns access statistics
func (b *FileBackend) Stats() BackendStats {
	return b.stats.snapshot()
}

// Sync flushes the file to stable storage
func (b *FileBackend) Sync() error {
	return b.file.Sync()
}

// Close syncs and closes the file
func (b *FileBackend) Close() error {
	if err := b.file.Sync(); err != nil {
		b.file.Close()
		return err
	}
	return b.file.Close()
}

func checkRange(off int64, n int, size int64) error {
	if off < 0 || off+int64(n) > size {
		return errors.Wrapf(ErrOutOfRange, "[%d, %d) of %d", off, off+int64(n), size)
	}
	return nil
}
