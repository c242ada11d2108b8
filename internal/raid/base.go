package raid

import (
	"sync/atomic"

	"github.com/dreamware/raidbd/internal/bdev"
)

// BaseBdevInfo is one mirror slot of an array. A slot is either present,
// bound to a live device, or absent.
type BaseBdevInfo struct {
	Name string // Configured name, kept after the device goes away
	Slot int    // Index in the array

	// DataSize is the number of usable blocks. It starts as the device's
	// block count and is overwritten by the module at start.
	DataSize uint64

	Stats *SlotStats // Operation statistics

	dev     bdev.BlockDevice
	present atomic.Bool
}

// SlotStats tracks operation counts for one slot. All fields are updated
// atomically and may be read from any goroutine.
type SlotStats struct {
	Reads       uint64 `json:"reads"`        // Reads submitted
	Writes      uint64 `json:"writes"`       // Writes submitted
	ReadBlocks  uint64 `json:"read_blocks"`  // Blocks read
	WriteBlocks uint64 `json:"write_blocks"` // Blocks written
	Failures    uint64 `json:"failures"`     // Sub-I/Os completed unsuccessfully
}

// SlotInfo contains metadata about a slot
type SlotInfo struct {
	Slot      int       `json:"slot"`
	Name      string    `json:"name"`
	Present   bool      `json:"present"`
	RawBlocks uint64    `json:"raw_blocks"`
	DataSize  uint64    `json:"data_size"`
	Stats     SlotStats `json:"stats"`
}

func newBaseBdevInfo(slot int, name string, dev bdev.BlockDevice) *BaseBdevInfo {
	b := &BaseBdevInfo{
		Name:  name,
		Slot:  slot,
		Stats: &SlotStats{},
		dev:   dev,
	}
	if dev != nil {
		b.DataSize = dev.NumBlocks()
		b.present.Store(true)
	}
	return b
}

// Present reports whether the slot is bound to a live device.
func (b *BaseBdevInfo) Present() bool {
	return b.present.Load()
}

// Device returns the slot's device, or nil if the slot was configured absent.
// A removed slot keeps its device for reporting.
func (b *BaseBdevInfo) Device() bdev.BlockDevice {
	return b.dev
}

// Info returns metadata about the slot
func (b *BaseBdevInfo) Info() SlotInfo {
	info := SlotInfo{
		Slot:     b.Slot,
		Name:     b.Name,
		Present:  b.Present(),
		DataSize: b.DataSize,
		Stats:    b.Stats.Snapshot(),
	}
	if b.dev != nil {
		info.RawBlocks = b.dev.NumBlocks()
	}
	return info
}

// AddRead records a submitted read of n blocks
func (s *SlotStats) AddRead(n uint64) {
	atomic.AddUint64(&s.Reads, 1)
	atomic.AddUint64(&s.ReadBlocks, n)
}

// AddWrite records a submitted write of n blocks
func (s *SlotStats) AddWrite(n uint64) {
	atomic.AddUint64(&s.Writes, 1)
	atomic.AddUint64(&s.WriteBlocks, n)
}

// AddFailure records a failed sub-I/O
func (s *SlotStats) AddFailure() {
	atomic.AddUint64(&s.Failures, 1)
}

// Snapshot returns a consistent-per-field copy
func (s *SlotStats) Snapshot() SlotStats {
	return SlotStats{
		Reads:       atomic.LoadUint64(&s.Reads),
		Writes:      atomic.LoadUint64(&s.Writes),
		ReadBlocks:  atomic.LoadUint64(&s.ReadBlocks),
		WriteBlocks: atomic.LoadUint64(&s.WriteBlocks),
		Failures:    atomic.LoadUint64(&s.Failures),
	}
}
