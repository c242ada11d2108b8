package health

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dreamware/raidbd/internal/bdev"
)

// NewProbe returns a CheckFunc that reads the first block of a mirror on t.
// A device that refuses the read for lack of resources is busy, not dead,
// and counts as healthy.
func NewProbe(t *bdev.Thread) CheckFunc {
	return func(ctx context.Context, target Target) error {
		dev := target.Device
		if dev == nil {
			return errors.Wrapf(bdev.ErrNoDevice, "mirror %s", target.Key)
		}
		if dev.NumBlocks() == 0 {
			return nil
		}

		result := make(chan error, 1)
		buf := make([]byte, dev.BlockLen())
		sent := t.Send(func() {
			ch, err := dev.OpenChannel(t)
			if err != nil {
				result <- err
				return
			}
			err = ch.Readv([][]byte{buf}, 0, 1, func(ok bool) {
				ch.Close()
				if !ok {
					result <- errors.Wrap(bdev.ErrIO, "probe read failed")
					return
				}
				result <- nil
			})
			if err != nil {
				ch.Close()
				if errors.Is(err, bdev.ErrNoMemory) {
					result <- nil
					return
				}
				result <- err
			}
		})
		if !sent {
			return bdev.ErrThreadStopped
		}

		select {
		case err := <-result:
			return errors.Wrapf(err, "mirror %s", target.Key)
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "mirror %s: probe", target.Key)
		}
	}
}
