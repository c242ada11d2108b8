package raid

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/storage"
)

const (
	levelFirst Level = "test-first"
	blockLen         = 512
)

// firstModule serves every request from the first present slot.
type firstModule struct {
	started  atomic.Int32
	stopped  atomic.Int32
	channels atomic.Int32
}

type firstChannel struct {
	m *firstModule
}

func (c *firstChannel) Release() { c.m.channels.Add(-1) }

var first = &firstModule{}

func init() {
	RegisterModule(first)
}

func (m *firstModule) Level() Level        { return levelFirst }
func (m *firstModule) MinBaseBdevs() int   { return 2 }
func (m *firstModule) MinOperational() int { return 1 }

func (m *firstModule) Start(arr *Array) error {
	m.started.Add(1)
	var blocks uint64
	for _, base := range arr.BaseBdevs {
		if base.Present() && (blocks == 0 || base.DataSize < blocks) {
			blocks = base.DataSize
		}
	}
	arr.BlockCnt = blocks
	return nil
}

func (m *firstModule) Stop(arr *Array) bool {
	m.stopped.Add(1)
	return true
}

func (m *firstModule) GetIOChannel(arr *Array, t *bdev.Thread) (ModuleChannel, error) {
	m.channels.Add(1)
	return &firstChannel{m: m}, nil
}

func (m *firstModule) SubmitRWRequest(rio *IO) {
	rch := rio.Channel()
	for i := 0; i < rch.NumChannels(); i++ {
		ch := rch.Base(i)
		if ch == nil {
			continue
		}
		rio.BaseIORemaining = 1
		cb := func(ok bool) {
			status := StatusSuccess
			if !ok {
				status = StatusFailed
			}
			rio.CompletePart(1, status)
		}
		var err error
		if rio.Type == IOTypeWrite {
			err = ch.Writev(rio.Iovs, rio.OffsetBlocks, rio.NumBlocks, cb)
		} else {
			err = ch.Readv(rio.Iovs, rio.OffsetBlocks, rio.NumBlocks, cb)
		}
		if err != nil {
			rio.Complete(StatusFailed)
		}
		return
	}
	rio.Complete(StatusFailed)
}

func memDisk(name string, blocks uint64) *bdev.Disk {
	return bdev.NewDisk(name, storage.NewMemoryBackend(int64(blocks)*blockLen), blockLen, blocks, bdev.DiskOptions{})
}

func await(t *testing.T, done <-chan bool) bool {
	t.Helper()
	select {
	case ok := <-done:
		return ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
		return false
	}
}

func newThread(t *testing.T, name string) *bdev.Thread {
	t.Helper()
	th := bdev.NewThread(name)
	t.Cleanup(th.Stop)
	return th
}

func createArray(t *testing.T, th *bdev.Thread, devs ...bdev.BlockDevice) *Array {
	t.Helper()
	cfg := Config{Name: t.Name(), Level: levelFirst, Thread: th}
	for _, d := range devs {
		cfg.BaseBdevs = append(cfg.BaseBdevs, BaseConfig{Device: d})
	}
	arr, err := Create(cfg)
	require.NoError(t, err)
	return arr
}
