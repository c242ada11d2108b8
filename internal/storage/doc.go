// Package storage provides the byte-addressable backends that sit underneath
// raidbd's block devices, so a mirror can live in memory or in a file without
// the block layer knowing the difference.
//
// # Overview
//
// A backend is deliberately dumb: it stores bytes at offsets. Block geometry,
// queue depth and completion delivery belong to internal/bdev, which wraps a
// backend in a Disk. Mirroring belongs to internal/raid/raid1.
//
//	┌─────────────────────────────────────┐
//	│        raid1 array (N mirrors)      │
//	└─────────────────────────────────────┘
//	                 │
//	    ┌────────────┼────────────┐
//	    ▼            ▼            ▼
//	┌────────┐  ┌────────┐  ┌────────┐
//	│  Disk  │  │  Disk  │  │  Disk  │   internal/bdev
//	└────────┘  └────────┘  └────────┘
//	    │            │            │
//	    ▼            ▼            ▼
//	┌────────┐  ┌────────┐  ┌────────┐
//	│ Memory │  │  File  │  │ Memory │   internal/storage
//	└────────┘  └────────┘  └────────┘
//
// # Implementations
//
// MemoryBackend: fixed-size buffer guarded by sync.RWMutex
//   - Zero-filled at creation
//   - No persistence (data lost on restart)
//   - Used by tests and by memory mirrors in configuration
//
// FileBackend: regular file or block special file
//   - Regular files are grown to the requested size on open
//   - Close syncs before closing
//   - Concurrent ReadAt/WriteAt go straight to pread/pwrite
//
// # Error Handling
//
// ErrOutOfRange: access falls outside [0, Size())
//   - Returned by ReadAt and WriteAt before touching data
//   - Disks validate ranges first, so seeing this from a Disk means a bug
//
// File errors are returned wrapped with the path.
//
// # Usage Examples
//
//	backend := storage.NewMemoryBackend(1000 * 512)
//	disk := bdev.NewDisk("m0", backend, 512, 1000, bdev.DiskOptions{})
//
//	fb, err := storage.OpenFileBackend("/var/lib/raidbd/m1.img", 1200*512)
//	if err != nil {
//	    return err
//	}
//	defer fb.Close()
package storage
