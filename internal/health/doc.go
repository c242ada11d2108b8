// Package health watches the mirrors of running arrays.
//
// # Overview
//
// A Monitor probes every present slot on a fixed interval. Each slot moves
// through three states:
//
//	unknown ──probe ok──▶ healthy ◀──probe ok── unhealthy
//	                         │                      ▲
//	                         └── maxFailures fails ─┘
//
// The transition to unhealthy fires the callback set with SetOnUnhealthy
// once; raid1ctl serve uses it to remove the slot from its array. A slot
// that is no longer reported by the provider, for instance because it was
// removed, is forgotten on the next round.
//
// # Probes
//
// NewProbe reads block 0 of the mirror on a dedicated Thread, so probing
// never competes with the I/O threads for their channels. A probe that is
// refused with bdev.ErrNoMemory counts as healthy: the device is busy
// serving real traffic.
//
// # Concurrency
//
// All Monitor methods are safe for concurrent use. Probes run serially on
// the monitor's goroutine, each bounded by the monitor's probe timeout.
package health
