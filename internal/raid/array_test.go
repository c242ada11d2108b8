package raid

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/storage"
)

func TestCreateValidation(t *testing.T) {
	th := newThread(t, "mgmt")
	odd := bdev.NewDisk("odd", storage.NewMemoryBackend(64*4096), 4096, 64, bdev.DiskOptions{})

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{
			name: "missing name",
			cfg:  Config{Level: levelFirst, Thread: th, BaseBdevs: []BaseConfig{{Device: memDisk("a", 8)}, {Device: memDisk("b", 8)}}},
			want: bdev.ErrInvalid,
		},
		{
			name: "missing thread",
			cfg:  Config{Name: "x", Level: levelFirst, BaseBdevs: []BaseConfig{{Device: memDisk("a", 8)}, {Device: memDisk("b", 8)}}},
			want: bdev.ErrInvalid,
		},
		{
			name: "unknown level",
			cfg:  Config{Name: "x", Level: "raid7", Thread: th, BaseBdevs: []BaseConfig{{Device: memDisk("a", 8)}, {Device: memDisk("b", 8)}}},
			want: ErrUnknownLevel,
		},
		{
			name: "too few slots",
			cfg:  Config{Name: "x", Level: levelFirst, Thread: th, BaseBdevs: []BaseConfig{{Device: memDisk("a", 8)}}},
			want: ErrTooFewBaseBdevs,
		},
		{
			name: "block length mismatch",
			cfg:  Config{Name: "x", Level: levelFirst, Thread: th, BaseBdevs: []BaseConfig{{Device: memDisk("a", 8)}, {Device: odd}}},
			want: ErrBlockLen,
		},
		{
			name: "too few present",
			cfg:  Config{Name: "x", Level: levelFirst, Thread: th, BaseBdevs: []BaseConfig{{Name: "gone"}, {Name: "gone2"}}},
			want: ErrTooFewBaseBdevs,
		},
		{
			name: "min operational above present",
			cfg: Config{Name: "x", Level: levelFirst, Thread: th, MinOperational: 2,
				BaseBdevs: []BaseConfig{{Device: memDisk("a", 8)}, {Name: "gone"}}},
			want: ErrTooFewBaseBdevs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr, err := Create(tt.cfg)
			assert.Nil(t, arr)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCreate(t *testing.T) {
	th := newThread(t, "mgmt")
	started := first.started.Load()

	arr, err := Create(Config{
		Name:   "m0",
		Level:  levelFirst,
		Thread: th,
		BaseBdevs: []BaseConfig{
			{Device: memDisk("a", 16)},
			{Name: "missing"},
			{Name: "renamed", Device: memDisk("c", 12)},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, started+1, first.started.Load())
	assert.Equal(t, StateOnline, arr.State())
	assert.NotEqual(t, uuid.Nil, arr.UUID)
	assert.Equal(t, uint32(blockLen), arr.BlockLen)
	assert.Equal(t, uint64(12), arr.BlockCnt)
	assert.Equal(t, 2, arr.NumPresent())

	info := arr.Info()
	assert.Equal(t, "m0", info.Name)
	assert.Equal(t, 1, info.MinOperational)
	require.Len(t, info.Slots, 3)
	assert.Equal(t, "a", info.Slots[0].Name)
	assert.True(t, info.Slots[0].Present)
	assert.Equal(t, "missing", info.Slots[1].Name)
	assert.False(t, info.Slots[1].Present)
	assert.Equal(t, "renamed", info.Slots[2].Name)
	assert.Equal(t, uint64(12), info.Slots[2].RawBlocks)
}

func TestCreateKeepsUUID(t *testing.T) {
	th := newThread(t, "mgmt")
	id := uuid.New()

	arr, err := Create(Config{
		Name: "keep", UUID: id, Level: levelFirst, Thread: th,
		BaseBdevs: []BaseConfig{{Device: memDisk("a", 4)}, {Device: memDisk("b", 4)}},
	})
	require.NoError(t, err)
	assert.Equal(t, id.String(), arr.Info().UUID)
}

func TestSubmitRoundTrip(t *testing.T) {
	th := newThread(t, "mgmt")
	io := newThread(t, "io")
	arr := createArray(t, th, memDisk("a", 8), memDisk("b", 8))

	var ch *IOChannel
	require.NoError(t, io.Exec(func() {
		var err error
		ch, err = arr.GetIOChannel(io)
		assert.NoError(t, err)
	}))

	data := bytes.Repeat([]byte{0xab}, 2*blockLen)
	done := make(chan bool, 1)
	require.NoError(t, io.Exec(func() {
		assert.NoError(t, arr.Submit(ch, IOTypeWrite, [][]byte{data}, 3, 2, func(ok bool) { done <- ok }))
	}))
	assert.True(t, await(t, done))

	buf := make([]byte, 2*blockLen)
	require.NoError(t, io.Exec(func() {
		assert.NoError(t, arr.Submit(ch, IOTypeRead, [][]byte{buf[:blockLen], buf[blockLen:]}, 3, 2, func(ok bool) { done <- ok }))
	}))
	assert.True(t, await(t, done))
	assert.Equal(t, data, buf)

	require.NoError(t, io.Exec(ch.Release))
}

func TestSubmitValidation(t *testing.T) {
	th := newThread(t, "mgmt")
	io := newThread(t, "io")
	arr := createArray(t, th, memDisk("a", 8), memDisk("b", 8))

	cb := func(bool) { t.Error("rejected request must not complete") }
	require.NoError(t, io.Exec(func() {
		ch, err := arr.GetIOChannel(io)
		if !assert.NoError(t, err) {
			return
		}
		defer ch.Release()

		block := make([]byte, blockLen)
		err = arr.Submit(ch, IOTypeRead, [][]byte{block}, 8, 1, cb)
		assert.True(t, errors.Is(err, ErrOutOfRange), "past the end: %v", err)

		err = arr.Submit(ch, IOTypeRead, nil, 0, 0, cb)
		assert.True(t, errors.Is(err, ErrOutOfRange), "zero length: %v", err)

		err = arr.Submit(ch, IOTypeRead, [][]byte{block}, ^uint64(0), 2, cb)
		assert.True(t, errors.Is(err, ErrOutOfRange), "wrapping range: %v", err)

		err = arr.Submit(ch, IOTypeWrite, [][]byte{block}, 0, 2, cb)
		assert.True(t, errors.Is(err, bdev.ErrInvalid), "short iovs: %v", err)
	}))
}

func TestRemoveBaseBdev(t *testing.T) {
	th := newThread(t, "mgmt")
	io := newThread(t, "io")
	arr := createArray(t, th, memDisk("a", 8), memDisk("b", 8))

	var ch *IOChannel
	require.NoError(t, io.Exec(func() {
		var err error
		ch, err = arr.GetIOChannel(io)
		assert.NoError(t, err)
	}))

	removed := make(chan error, 1)
	arr.RemoveBaseBdev(0, func(err error) { removed <- err })
	select {
	case err := <-removed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("remove did not finish")
	}

	assert.Equal(t, StateOnline, arr.State())
	assert.False(t, arr.BaseBdevs[0].Present())
	require.NoError(t, io.Exec(func() {
		assert.Nil(t, ch.Base(0))
		assert.NotNil(t, ch.Base(1))
	}))

	arr.RemoveBaseBdev(0, func(err error) { removed <- err })
	assert.True(t, errors.Is(<-removed, ErrNotFound))

	arr.RemoveBaseBdev(5, func(err error) { removed <- err })
	assert.True(t, errors.Is(<-removed, ErrNotFound))

	arr.RemoveBaseBdev(1, func(err error) { removed <- err })
	require.NoError(t, <-removed)
	assert.Equal(t, StateOffline, arr.State())

	require.NoError(t, io.Exec(func() {
		err := arr.Submit(ch, IOTypeRead, [][]byte{make([]byte, blockLen)}, 0, 1, func(bool) {})
		assert.True(t, errors.Is(err, ErrOffline), "got %v", err)
		ch.Release()
	}))
}

func TestDestroyWaitsForChannels(t *testing.T) {
	th := newThread(t, "mgmt")
	io := newThread(t, "io")
	arr := createArray(t, th, memDisk("a", 8), memDisk("b", 8))
	stopped := first.stopped.Load()

	var ch *IOChannel
	require.NoError(t, io.Exec(func() {
		var err error
		ch, err = arr.GetIOChannel(io)
		assert.NoError(t, err)
	}))

	done := make(chan struct{})
	require.NoError(t, arr.Destroy(func() { close(done) }))
	assert.Equal(t, StateStopping, arr.State())
	assert.Error(t, arr.Destroy(nil))

	select {
	case <-done:
		t.Fatal("destroy finished while a channel was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, io.Exec(ch.Release))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("destroy did not finish")
	}
	assert.Equal(t, StateStopped, arr.State())
	assert.Equal(t, stopped+1, first.stopped.Load())
	assert.Zero(t, first.channels.Load())

	require.NoError(t, io.Exec(func() {
		_, err := arr.GetIOChannel(io)
		assert.True(t, errors.Is(err, bdev.ErrNoDevice), "got %v", err)
	}))
}

func TestModuleStopDoneOutsideStopPanics(t *testing.T) {
	th := newThread(t, "mgmt")
	arr := createArray(t, th, memDisk("a", 8), memDisk("b", 8))
	assert.Panics(t, arr.ModuleStopDone)
}

func TestCreateLogsLevelWithoutShadowingLogLevel(t *testing.T) {
	var buf bytes.Buffer
	saved := log.Logger
	log.Logger = zerolog.New(zerolog.SyncWriter(&buf))
	defer func() { log.Logger = saved }()

	th := newThread(t, "mgmt")
	_, err := Create(Config{
		Name:      "logged",
		Level:     levelFirst,
		Thread:    th,
		BaseBdevs: []BaseConfig{{Device: memDisk("a", 8)}, {Device: memDisk("b", 8)}},
	})
	require.NoError(t, err)

	var online map[string]any
	for _, line := range bytes.Split(buf.Bytes(), []byte("\n")) {
		if bytes.Contains(line, []byte("array online")) {
			require.NoError(t, json.Unmarshal(line, &online))
		}
	}
	require.NotNil(t, online, "no array online line in %q", buf.String())
	assert.Equal(t, "info", online["level"])
	assert.Equal(t, string(levelFirst), online["raid_level"])
}
