package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/config"
	"github.com/dreamware/raidbd/internal/logging"
	"github.com/dreamware/raidbd/internal/raid"
	_ "github.com/dreamware/raidbd/internal/raid/raid1"
	"github.com/dreamware/raidbd/internal/storage"
)

const destroyTimeout = 10 * time.Second

// mirror is one configured slot after assembly. Device and Backend are nil
// for absent slots.
type mirror struct {
	Array   string
	Slot    int
	Config  config.MirrorConfig
	Disk    *bdev.Disk
	Backend storage.Backend
}

// assembly owns everything built from a configuration: the management
// thread, the arrays and their backends.
type assembly struct {
	mgmt     *bdev.Thread
	registry *raid.Registry
	mirrors  []*mirror
	log      zerolog.Logger
}

// assemble builds the arrays of cfg. When names is non-empty only those
// arrays are built.
func assemble(cfg config.Config, names ...string) (*assembly, error) {
	a := &assembly{
		mgmt:     bdev.NewThread("mgmt"),
		registry: raid.NewRegistry(),
		log:      logging.Component("assemble"),
	}

	for _, ac := range selectArrays(cfg, names) {
		if err := a.build(ac); err != nil {
			if cerr := a.close(); cerr != nil {
				err = multierror.Append(err, cerr)
			}
			return nil, err
		}
	}
	return a, nil
}

func selectArrays(cfg config.Config, names []string) []config.ArrayConfig {
	if len(names) == 0 {
		return cfg.Arrays
	}
	var out []config.ArrayConfig
	for _, name := range names {
		if ac, ok := cfg.Array(name); ok {
			out = append(out, ac)
		}
	}
	return out
}

func (a *assembly) build(ac config.ArrayConfig) error {
	level, err := raid.ParseLevel(ac.Level)
	if err != nil {
		return errors.Wrapf(err, "array %s", ac.Name)
	}
	rc := raid.Config{
		Name:           ac.Name,
		Level:          level,
		MinOperational: ac.MinOperational,
		Thread:         a.mgmt,
	}
	if ac.UUID != "" {
		if rc.UUID, err = uuid.Parse(ac.UUID); err != nil {
			return errors.Wrapf(err, "array %s: uuid", ac.Name)
		}
	}

	for slot, mc := range ac.Mirrors {
		m := &mirror{Array: ac.Name, Slot: slot, Config: mc}
		a.mirrors = append(a.mirrors, m)

		size := int64(mc.Blocks) * int64(ac.BlockSize)
		switch mc.Backend {
		case config.BackendMemory:
			m.Backend = storage.NewMemoryBackend(size)
		case config.BackendFile:
			fb, err := storage.OpenFileBackend(mc.Path, size)
			if err != nil {
				return errors.Wrapf(err, "array %s: mirror %s", ac.Name, mc.Name)
			}
			m.Backend = fb
		case config.BackendAbsent:
			rc.BaseBdevs = append(rc.BaseBdevs, raid.BaseConfig{Name: mc.Name})
			continue
		default:
			return errors.Errorf("array %s: mirror %s: unknown backend %q", ac.Name, mc.Name, mc.Backend)
		}

		m.Disk = bdev.NewDisk(mc.Name, m.Backend, ac.BlockSize, mc.Blocks, bdev.DiskOptions{QueueDepth: ac.QueueDepth})
		rc.BaseBdevs = append(rc.BaseBdevs, raid.BaseConfig{Name: mc.Name, Device: m.Disk})
	}

	arr, err := raid.Create(rc)
	if err != nil {
		return err
	}
	if err := a.registry.Add(arr); err != nil {
		return err
	}
	a.log.Debug().Str("array", arr.Name).Int("mirrors", len(ac.Mirrors)).Msg("array assembled")
	return nil
}

// array returns the named array.
func (a *assembly) array(name string) (*raid.Array, error) {
	arr, ok := a.registry.Get(name)
	if !ok {
		return nil, errors.Wrapf(raid.ErrNotFound, "array %s", name)
	}
	return arr, nil
}

// mirrorsOf returns the slots of the named array in slot order.
func (a *assembly) mirrorsOf(name string) []*mirror {
	var out []*mirror
	for _, m := range a.mirrors {
		if m.Array == name {
			out = append(out, m)
		}
	}
	return out
}

// close destroys every array, stops the management thread and closes the
// backends. Every channel must have been released.
func (a *assembly) close() error {
	var result *multierror.Error

	for _, arr := range a.registry.List() {
		done := make(chan struct{})
		if err := arr.Destroy(func() { close(done) }); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		select {
		case <-done:
		case <-time.After(destroyTimeout):
			result = multierror.Append(result, errors.Errorf("array %s: destroy timed out", arr.Name))
		}
		_, _ = a.registry.Remove(arr.Name)
	}
	a.mgmt.Stop()

	for _, m := range a.mirrors {
		if m.Backend == nil {
			continue
		}
		if err := m.Backend.Close(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "close mirror %s", m.Config.Name))
		}
	}
	return result.ErrorOrNil()
}
