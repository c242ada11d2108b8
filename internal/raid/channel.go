package raid

import "github.com/dreamware/raidbd/internal/bdev"

// IOChannel is an array's per-Thread channel: one base channel per slot
// (nil for absent slots) plus the module's channel. It is owned by its
// Thread.
type IOChannel struct {
	thread *bdev.Thread
	base   []bdev.Channel
	module ModuleChannel
	ref    *bdev.IOChannel[*IOChannel]
	closed bool
}

func (c *IOChannel) Thread() *bdev.Thread {
	return c.thread
}

// NumChannels is the number of slots, present or not.
func (c *IOChannel) NumChannels() int {
	return len(c.base)
}

// Base returns slot i's channel, or nil when the slot is absent.
func (c *IOChannel) Base(i int) bdev.Channel {
	return c.base[i]
}

func (c *IOChannel) Module() ModuleChannel {
	return c.module
}

// Closed reports whether the channel has been torn down. Retries parked on a
// closed channel's base channels still run and must fail.
func (c *IOChannel) Closed() bool {
	return c.closed
}

// Release returns the channel obtained from Array.GetIOChannel.
func (c *IOChannel) Release() {
	c.ref.Release()
}

func (c *IOChannel) close() {
	c.closed = true
	for i, ch := range c.base {
		if ch != nil {
			ch.Close()
			c.base[i] = nil
		}
	}
	if c.module != nil {
		c.module.Release()
		c.module = nil
	}
}

// dropSlot detaches slot i from this channel.
func (c *IOChannel) dropSlot(i int) {
	if ch := c.base[i]; ch != nil {
		c.base[i] = nil
		ch.Close()
	}
}
