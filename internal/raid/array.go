package raid

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/logging"
	"github.com/dreamware/raidbd/internal/observability"
)

var (
	ErrTooFewBaseBdevs = errors.New("raid: too few base bdevs")
	ErrUnknownLevel    = errors.New("raid: unknown level")
	ErrBlockLen        = errors.New("raid: base bdev block length mismatch")
	ErrOffline         = errors.New("raid: array not online")
	ErrOutOfRange      = errors.New("raid: request out of range")
	ErrNotFound        = errors.New("raid: not found")
	ErrExists          = errors.New("raid: already exists")
)

// State is an array's lifecycle state.
type State string

const (
	StateOnline   State = "online"
	StateOffline  State = "offline"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// BaseConfig configures one slot. A nil Device configures the slot absent.
type BaseConfig struct {
	Name   string
	Device bdev.BlockDevice
}

// Config describes an array to Create.
type Config struct {
	Name  string
	UUID  uuid.UUID // generated when zero
	Level Level

	// MinOperational overrides the module's default minimum number of
	// present slots.
	MinOperational int

	// Thread is the management thread. Lifecycle callbacks run on it.
	Thread *bdev.Thread

	BaseBdevs []BaseConfig
}

// Array is a virtual block device assembled from base devices by a Module.
type Array struct {
	Name      string
	UUID      uuid.UUID
	Level     Level
	BlockCnt  uint64 // Capacity in blocks, set by the module at start
	BlockLen  uint32
	BaseBdevs []*BaseBdevInfo

	// ModulePrivate belongs to the module between Start and Stop.
	ModulePrivate any

	module         Module
	thread         *bdev.Thread
	minOperational int
	channels       *bdev.IODevice[*IOChannel]

	mu        sync.Mutex
	state     State
	onStopped func()

	log zerolog.Logger
}

// Info is a point-in-time description of an array.
type Info struct {
	Name           string     `json:"name"`
	UUID           string     `json:"uuid"`
	Level          Level      `json:"level"`
	State          State      `json:"state"`
	BlockLen       uint32     `json:"block_len"`
	BlockCnt       uint64     `json:"block_cnt"`
	MinOperational int        `json:"min_operational"`
	Present        int        `json:"present"`
	Slots          []SlotInfo `json:"slots"`
}

// Create validates cfg, starts the level's module and brings the array
// online.
func Create(cfg Config) (*Array, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.Wrap(bdev.ErrInvalid, "array name is required")
	}
	if cfg.Thread == nil {
		return nil, errors.Wrapf(bdev.ErrInvalid, "array %s: management thread is required", cfg.Name)
	}
	m, ok := lookupModule(cfg.Level)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownLevel, "array %s: %q", cfg.Name, cfg.Level)
	}
	if len(cfg.BaseBdevs) < m.MinBaseBdevs() {
		return nil, errors.Wrapf(ErrTooFewBaseBdevs, "array %s: %s needs %d slots, got %d",
			cfg.Name, cfg.Level, m.MinBaseBdevs(), len(cfg.BaseBdevs))
	}

	arr := &Array{
		Name:           cfg.Name,
		UUID:           cfg.UUID,
		Level:          cfg.Level,
		module:         m,
		thread:         cfg.Thread,
		minOperational: cfg.MinOperational,
		log:            logging.Component("raid").With().Str("array", cfg.Name).Logger(),
	}
	if arr.UUID == uuid.Nil {
		arr.UUID = uuid.New()
	}
	if arr.minOperational <= 0 {
		arr.minOperational = m.MinOperational()
	}

	for i, bc := range cfg.BaseBdevs {
		name := bc.Name
		if bc.Device != nil {
			if name == "" {
				name = bc.Device.Name()
			}
			switch {
			case arr.BlockLen == 0:
				arr.BlockLen = bc.Device.BlockLen()
			case bc.Device.BlockLen() != arr.BlockLen:
				return nil, errors.Wrapf(ErrBlockLen, "array %s: slot %d (%s) has %d-byte blocks, array uses %d",
					cfg.Name, i, name, bc.Device.BlockLen(), arr.BlockLen)
			}
		}
		arr.BaseBdevs = append(arr.BaseBdevs, newBaseBdevInfo(i, name, bc.Device))
	}

	present := arr.NumPresent()
	if present < arr.minOperational {
		return nil, errors.Wrapf(ErrTooFewBaseBdevs, "array %s: %d of %d slots present, %d required",
			cfg.Name, present, len(arr.BaseBdevs), arr.minOperational)
	}

	if err := m.Start(arr); err != nil {
		return nil, errors.Wrapf(err, "array %s: start %s", cfg.Name, cfg.Level)
	}

	arr.channels = bdev.RegisterIODevice("raid_"+arr.Name, arr.createChannel, (*IOChannel).close)
	arr.state = StateOnline
	observability.SetMirrorsPresent(arr.Name, present)

	arr.log.Info().
		Str("uuid", arr.UUID.String()).
		Str("raid_level", string(arr.Level)).
		Uint64("blocks", arr.BlockCnt).
		Uint32("block_len", arr.BlockLen).
		Int("slots", len(arr.BaseBdevs)).
		Int("present", present).
		Msg("array online")
	return arr, nil
}

// Thread returns the management thread.
func (arr *Array) Thread() *bdev.Thread {
	return arr.thread
}

// Logger returns the array's logger for use by its module.
func (arr *Array) Logger() zerolog.Logger {
	return arr.log
}

func (arr *Array) State() State {
	arr.mu.Lock()
	defer arr.mu.Unlock()
	return arr.state
}

// NumPresent counts slots bound to a live device.
func (arr *Array) NumPresent() int {
	n := 0
	for _, base := range arr.BaseBdevs {
		if base.Present() {
			n++
		}
	}
	return n
}

// GetIOChannel returns t's channel to the array. It must be called on t and
// paired with IOChannel.Release.
func (arr *Array) GetIOChannel(t *bdev.Thread) (*IOChannel, error) {
	ref, err := arr.channels.GetChannel(t)
	if err != nil {
		return nil, errors.Wrapf(err, "array %s", arr.Name)
	}
	ch := ref.Ctx()
	ch.ref = ref
	return ch, nil
}

func (arr *Array) createChannel(t *bdev.Thread) (*IOChannel, error) {
	ch := &IOChannel{
		thread: t,
		base:   make([]bdev.Channel, len(arr.BaseBdevs)),
	}
	for i, base := range arr.BaseBdevs {
		if !base.Present() {
			continue
		}
		bc, err := base.Device().OpenChannel(t)
		if err != nil {
			ch.close()
			return nil, errors.Wrapf(err, "open slot %d (%s)", i, base.Name)
		}
		ch.base[i] = bc
	}

	mc, err := arr.module.GetIOChannel(arr, t)
	if err != nil {
		ch.close()
		return nil, errors.Wrapf(err, "%s channel", arr.Level)
	}
	ch.module = mc
	return ch, nil
}

// Submit hands a request to the module. It must be called on ch's Thread.
// A nil return means cb will be called exactly once, on that Thread; an
// error means the request was rejected and cb will not be called.
func (arr *Array) Submit(ch *IOChannel, typ IOType, iovs [][]byte, offsetBlocks, numBlocks uint64, cb CompletionFunc) error {
	if state := arr.State(); state != StateOnline {
		return errors.Wrapf(ErrOffline, "array %s is %s", arr.Name, state)
	}
	if ch.Closed() {
		return errors.Wrapf(bdev.ErrChannelClosed, "array %s", arr.Name)
	}
	end := offsetBlocks + numBlocks
	if numBlocks == 0 || end < offsetBlocks || end > arr.BlockCnt {
		return errors.Wrapf(ErrOutOfRange, "array %s: blocks [%d, %d) of %d", arr.Name, offsetBlocks, end, arr.BlockCnt)
	}
	if typ == IOTypeRead || typ == IOTypeWrite {
		if got, want := bdev.IovLen(iovs), numBlocks*uint64(arr.BlockLen); got != want {
			return errors.Wrapf(bdev.ErrInvalid, "array %s: iovs carry %d bytes, %d blocks need %d", arr.Name, got, numBlocks, want)
		}
	}

	rio := &IO{
		Type:         typ,
		Iovs:         iovs,
		OffsetBlocks: offsetBlocks,
		NumBlocks:    numBlocks,
		arr:          arr,
		ch:           ch,
		cb:           cb,
	}
	arr.module.SubmitRWRequest(rio)
	return nil
}

// RemoveBaseBdev marks slot absent and detaches it from every channel. The
// array goes offline when fewer than the minimum number of slots remain.
// done runs on the management thread.
func (arr *Array) RemoveBaseBdev(slot int, done func(error)) {
	finish := func(err error) {
		if done != nil {
			arr.thread.Send(func() { done(err) })
		}
	}
	if slot < 0 || slot >= len(arr.BaseBdevs) {
		finish(errors.Wrapf(ErrNotFound, "array %s: slot %d", arr.Name, slot))
		return
	}
	base := arr.BaseBdevs[slot]
	if !base.present.CompareAndSwap(true, false) {
		finish(errors.Wrapf(ErrNotFound, "array %s: slot %d is not present", arr.Name, slot))
		return
	}

	present := arr.NumPresent()
	observability.SetMirrorsPresent(arr.Name, present)
	arr.log.Warn().Int("slot", slot).Str("base", base.Name).Int("present", present).Msg("base bdev removed")

	arr.mu.Lock()
	if present < arr.minOperational && arr.state == StateOnline {
		arr.state = StateOffline
		arr.log.Error().Int("present", present).Int("required", arr.minOperational).Msg("array offline")
	}
	arr.mu.Unlock()

	arr.channels.ForEachChannel(arr.thread, func(ch *IOChannel) {
		ch.dropSlot(slot)
	}, func() {
		if done != nil {
			done(nil)
		}
	})
}

// Destroy stops the array. Every channel must be released before it can
// finish; done then runs on the management thread.
func (arr *Array) Destroy(done func()) error {
	arr.mu.Lock()
	if arr.state == StateStopping || arr.state == StateStopped {
		state := arr.state
		arr.mu.Unlock()
		return errors.Errorf("array %s is already %s", arr.Name, state)
	}
	arr.state = StateStopping
	arr.onStopped = done
	arr.mu.Unlock()

	arr.log.Info().Int("channels", arr.channels.Channels()).Msg("stopping array")
	arr.channels.Unregister(arr.thread, func() {
		if arr.module.Stop(arr) {
			arr.ModuleStopDone()
		}
	})
	return nil
}

// ModuleStopDone is called by a module whose Stop returned false once it has
// finished stopping.
func (arr *Array) ModuleStopDone() {
	arr.mu.Lock()
	if arr.state != StateStopping {
		state := arr.state
		arr.mu.Unlock()
		panic(fmt.Sprintf("raid: module stop done on %s array %s", state, arr.Name))
	}
	arr.state = StateStopped
	done := arr.onStopped
	arr.onStopped = nil
	arr.mu.Unlock()

	observability.ForgetArray(arr.Name)
	arr.log.Info().Msg("array stopped")
	if done != nil {
		done()
	}
}

// Info returns a snapshot of the array and its slots.
func (arr *Array) Info() Info {
	info := Info{
		Name:           arr.Name,
		UUID:           arr.UUID.String(),
		Level:          arr.Level,
		State:          arr.State(),
		BlockLen:       arr.BlockLen,
		BlockCnt:       arr.BlockCnt,
		MinOperational: arr.minOperational,
		Present:        arr.NumPresent(),
		Slots:          make([]SlotInfo, 0, len(arr.BaseBdevs)),
	}
	for _, base := range arr.BaseBdevs {
		info.Slots = append(info.Slots, base.Info())
	}
	return info
}
