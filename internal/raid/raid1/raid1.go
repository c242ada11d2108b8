package raid1

import (
	"math"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/observability"
	"github.com/dreamware/raidbd/internal/raid"
)

const (
	minBaseBdevs   = 2
	minOperational = 1
)

// info is the module state of one started array.
type info struct {
	arr *raid.Array
	dev *bdev.IODevice[*channel]
	log zerolog.Logger
}

type module struct{}

func init() {
	raid.RegisterModule(&module{})
}

func (m *module) Level() raid.Level   { return raid.LevelRAID1 }
func (m *module) MinBaseBdevs() int   { return minBaseBdevs }
func (m *module) MinOperational() int { return minOperational }

// Start truncates every present slot to the smallest present slot so that
// all mirrors expose the same address space, then registers the per-Thread
// read counters.
func (m *module) Start(arr *raid.Array) error {
	if len(arr.BaseBdevs) < minBaseBdevs {
		return errors.Wrapf(raid.ErrTooFewBaseBdevs, "raid1 needs %d slots, got %d", minBaseBdevs, len(arr.BaseBdevs))
	}

	minBlockCnt := uint64(math.MaxUint64)
	for _, base := range arr.BaseBdevs {
		if base.Present() {
			minBlockCnt = min(minBlockCnt, base.DataSize)
		}
	}
	if minBlockCnt == math.MaxUint64 {
		return errors.Wrap(bdev.ErrNoDevice, "raid1: no present base bdev")
	}

	r1 := &info{
		arr: arr,
		log: arr.Logger().With().Str("module", "raid1").Logger(),
	}
	for _, base := range arr.BaseBdevs {
		if !base.Present() {
			continue
		}
		if base.DataSize != minBlockCnt {
			r1.log.Info().
				Int("slot", base.Slot).
				Str("base", base.Name).
				Uint64("blocks", base.DataSize).
				Uint64("usable", minBlockCnt).
				Msg("truncating base bdev to array capacity")
		}
		base.DataSize = minBlockCnt
	}
	arr.BlockCnt = minBlockCnt

	numSlots := len(arr.BaseBdevs)
	r1.dev = bdev.RegisterIODevice("raid1_"+arr.Name, func(*bdev.Thread) (*channel, error) {
		return newChannel(numSlots), nil
	}, nil)
	arr.ModulePrivate = r1
	return nil
}

// Stop unregisters the read counters. It always completes asynchronously.
func (m *module) Stop(arr *raid.Array) bool {
	r1 := arr.ModulePrivate.(*info)

	r1.dev.Unregister(arr.Thread(), func() {
		r1.log.Debug().Msg("channels released")
		arr.ModuleStopDone()
		arr.ModulePrivate = nil
	})
	return false
}

func (m *module) GetIOChannel(arr *raid.Array, t *bdev.Thread) (raid.ModuleChannel, error) {
	r1 := arr.ModulePrivate.(*info)
	return r1.dev.GetChannel(t)
}

func (m *module) SubmitRWRequest(rio *raid.IO) {
	submitRWRequest(rio)
}

func submitRWRequest(rio *raid.IO) {
	var err error

	if rio.Channel().Closed() {
		// a retry that outlived its channel
		failUnsubmitted(rio, errors.Wrap(bdev.ErrChannelClosed, "raid1: retry after channel release"))
		return
	}

	switch rio.Type {
	case raid.IOTypeRead:
		err = submitReadRequest(rio)
	case raid.IOTypeWrite:
		err = submitWriteRequest(rio)
	default:
		err = errors.Wrapf(bdev.ErrInvalid, "raid1 does not support %s", rio.Type)
	}

	if err != nil {
		failUnsubmitted(rio, err)
	}
}

// failUnsubmitted fails the part of rio that was never handed to a mirror.
// Sub-writes already submitted still complete through their own callbacks.
func failUnsubmitted(rio *raid.IO, err error) {
	log := rio.Array().Logger()
	log.Debug().Err(err).Str("op", rio.Type.String()).Msg("request failed at submission")

	numSlots := len(rio.Array().BaseBdevs)
	if rio.Type != raid.IOTypeWrite || rio.BaseIORemaining == 0 || rio.BaseIOSubmitted >= numSlots {
		rio.Complete(raid.StatusFailed)
		return
	}
	rio.CompletePart(uint64(numSlots-rio.BaseIOSubmitted), raid.StatusFailed)
}

// submitReadRequest sends the whole read to a single mirror.
func submitReadRequest(rio *raid.IO) error {
	arr := rio.Array()
	rch := rio.Channel()
	r1ch := moduleChannel(rch)

	idx := r1ch.nextReadBaseBdev(rch)
	if idx < 0 {
		rio.Complete(raid.StatusFailed)
		return nil
	}

	base := arr.BaseBdevs[idx]
	baseCh := rch.Base(idx)
	numBlocks := rio.NumBlocks

	rio.BaseIORemaining = 1

	err := baseCh.Readv(rio.Iovs, rio.OffsetBlocks, numBlocks, func(success bool) {
		r1ch.decReadCounters(idx, numBlocks)
		completion(rio, base, success)
	})
	switch {
	case err == nil:
		r1ch.incReadCounters(idx, numBlocks)
		rio.BaseIOSubmitted = idx
		base.Stats.AddRead(numBlocks)
		observability.RecordMirrorRead(arr.Name, idx)
	case errors.Is(err, bdev.ErrNoMemory):
		observability.RecordRetry(arr.Name, "read")
		return rio.QueueWait(baseCh, func() { submitRWRequest(rio) })
	}
	return err
}

// submitWriteRequest sends the write to every present mirror, starting at
// the first slot not yet handled. Absent slots are credited as successful
// without any I/O.
func submitWriteRequest(rio *raid.IO) error {
	arr := rio.Array()
	rch := rio.Channel()
	numSlots := len(arr.BaseBdevs)

	if rio.BaseIOSubmitted == 0 {
		rio.BaseIORemaining = uint64(numSlots)
	}

	for idx := rio.BaseIOSubmitted; idx < numSlots; idx++ {
		base := arr.BaseBdevs[idx]
		baseCh := rch.Base(idx)

		if baseCh == nil {
			// skip a missing base bdev's slot
			rio.BaseIOSubmitted++
			rio.CompletePart(1, raid.StatusSuccess)
			continue
		}

		err := baseCh.Writev(rio.Iovs, rio.OffsetBlocks, rio.NumBlocks, func(success bool) {
			completion(rio, base, success)
		})
		if err != nil {
			if errors.Is(err, bdev.ErrNoMemory) {
				observability.RecordRetry(arr.Name, "write")
				return rio.QueueWait(baseCh, func() { submitRWRequest(rio) })
			}

			base.Stats.AddFailure()
			notSubmitted := uint64(numSlots - rio.BaseIOSubmitted)
			rio.CompletePart(notSubmitted, raid.StatusFailed)
			return nil
		}

		rio.BaseIOSubmitted++
		base.Stats.AddWrite(rio.NumBlocks)
		observability.RecordMirrorWrite(arr.Name, idx)
	}

	if rio.BaseIOSubmitted == 0 {
		return errors.Wrap(bdev.ErrNoDevice, "raid1: write reached no slot")
	}
	return nil
}

func completion(rio *raid.IO, base *raid.BaseBdevInfo, success bool) {
	status := raid.StatusSuccess
	if !success {
		status = raid.StatusFailed
		base.Stats.AddFailure()
	}
	rio.CompletePart(1, status)
}
