package raid1

import (
	"fmt"
	"math"

	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/raid"
)

// channel is the raid1 state of one Thread: outstanding read blocks per
// slot. It is sized once, at creation, to the array's slot count and only
// its Thread touches it.
type channel struct {
	readBlocksOutstanding []uint64
}

func newChannel(numSlots int) *channel {
	return &channel{readBlocksOutstanding: make([]uint64, numSlots)}
}

func (c *channel) incReadCounters(idx int, numBlocks uint64) {
	if c.readBlocksOutstanding[idx] > math.MaxUint64-numBlocks {
		panic(fmt.Sprintf("raid1: read counter overflow on slot %d", idx))
	}
	c.readBlocksOutstanding[idx] += numBlocks
}

func (c *channel) decReadCounters(idx int, numBlocks uint64) {
	if c.readBlocksOutstanding[idx] < numBlocks {
		panic(fmt.Sprintf("raid1: read counter underflow on slot %d: %d < %d",
			idx, c.readBlocksOutstanding[idx], numBlocks))
	}
	c.readBlocksOutstanding[idx] -= numBlocks
}

// nextReadBaseBdev picks the present slot with the fewest outstanding read
// blocks, the lowest index on ties. It returns -1 when no slot is present.
func (c *channel) nextReadBaseBdev(rch *raid.IOChannel) int {
	return c.leastLoaded(func(i int) bool { return rch.Base(i) != nil })
}

func (c *channel) leastLoaded(present func(int) bool) int {
	readBlocksMin := uint64(math.MaxUint64)
	idx := -1

	for i := range c.readBlocksOutstanding {
		if present(i) && c.readBlocksOutstanding[i] < readBlocksMin {
			readBlocksMin = c.readBlocksOutstanding[i]
			idx = i
		}
	}
	return idx
}

// OutstandingReads returns the read blocks in flight to slot on rch. It must
// be called on rch's Thread.
func OutstandingReads(rch *raid.IOChannel, slot int) uint64 {
	return moduleChannel(rch).readBlocksOutstanding[slot]
}

func moduleChannel(rch *raid.IOChannel) *channel {
	return rch.Module().(*bdev.IOChannel[*channel]).Ctx()
}
