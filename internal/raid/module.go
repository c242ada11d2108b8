package raid

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/dreamware/raidbd/internal/bdev"
)

// Level names a redundancy scheme implemented by a Module.
type Level string

const (
	LevelRAID1 Level = "raid1"
)

// ParseLevel accepts the usual spellings of a level name.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	switch l {
	case "1", "mirror":
		return LevelRAID1, nil
	case "":
		return "", errors.Wrap(ErrUnknownLevel, "empty level")
	}
	return l, nil
}

// ModuleChannel is the module's Thread-local state held by every IOChannel.
type ModuleChannel interface {
	Release()
}

// Module implements one Level. The array layer owns configuration, slots
// and channels; the module owns request routing.
type Module interface {
	Level() Level

	// MinBaseBdevs is the number of configured slots the level needs.
	MinBaseBdevs() int

	// MinOperational is the default number of present slots below which the
	// array goes offline.
	MinOperational() int

	// Start sizes the array and allocates module state.
	Start(arr *Array) error

	// Stop releases module state. It returns true when done, or false when
	// it will call arr.ModuleStopDone later.
	Stop(arr *Array) bool

	// SubmitRWRequest routes rio. It must eventually complete rio exactly
	// once.
	SubmitRWRequest(rio *IO)

	// GetIOChannel returns t's module channel.
	GetIOChannel(arr *Array, t *bdev.Thread) (ModuleChannel, error)
}

var (
	modulesMu sync.RWMutex
	modules   = make(map[Level]Module)
)

// RegisterModule makes a Module available to Create. Modules register from
// init; registering a level twice panics.
func RegisterModule(m Module) {
	modulesMu.Lock()
	defer modulesMu.Unlock()

	if _, dup := modules[m.Level()]; dup {
		panic(fmt.Sprintf("raid: module for level %s registered twice", m.Level()))
	}
	modules[m.Level()] = m
}

func lookupModule(level Level) (Module, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	m, ok := modules[level]
	return m, ok
}

// Levels lists the registered levels in sorted order.
func Levels() []Level {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	levels := make([]Level, 0, len(modules))
	for l := range modules {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	return levels
}
