package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/logging"
	"github.com/dreamware/raidbd/internal/raid"
)

const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"

	DefaultMaxFailures = 3
)

// Target is one present mirror slot to probe.
type Target struct {
	Key    string // "<array>/<slot>", unique per process
	Array  string
	Slot   int
	Device bdev.BlockDevice
}

// CheckFunc probes a target and returns nil when it is healthy.
type CheckFunc func(ctx context.Context, target Target) error

// MirrorHealth tracks the health status of a single mirror slot.
// Thread-safe: Protected by Monitor's mutex when accessed.
type MirrorHealth struct {
	LastCheck        time.Time `json:"last_check"`   // Timestamp of the last probe
	LastHealthy      time.Time `json:"last_healthy"` // Timestamp of the last successful probe
	Key              string    `json:"key"`
	Array            string    `json:"array"`
	Slot             int       `json:"slot"`
	Status           string    `json:"status"`            // "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       `json:"consecutive_fails"` // Failed probes since the last success
}

// Monitor periodically probes every present mirror of every array.
// A mirror that fails maxFailures probes in a row is reported through the
// unhealthy callback, which usually removes it from its array.
// Thread-safe: All methods are safe for concurrent access.
type Monitor struct {
	mirrors     map[string]*MirrorHealth // Current health status per slot key
	checkFunc   CheckFunc                // Function to probe a mirror
	onUnhealthy func(target Target)      // Callback when a mirror becomes unhealthy
	ctx         context.Context          // Context for cancellation
	cancel      context.CancelFunc       // Cancel function for shutdown
	interval    time.Duration            // How often to probe mirrors
	timeout     time.Duration            // Deadline for a single probe
	mu          sync.RWMutex             // Protects mirrors map
	wg          sync.WaitGroup           // Wait group for graceful shutdown
	maxFailures int                      // Failures before marking unhealthy
	log         zerolog.Logger
}

// NewMonitor creates a health monitor that probes every interval and marks a
// mirror unhealthy after maxFailures consecutive failures. A non-positive
// maxFailures selects DefaultMaxFailures.
//
// Example:
//
//	monitor := health.NewMonitor(5*time.Second, 3)
//	monitor.SetCheckFunction(health.NewProbe(probeThread, time.Second))
//	go monitor.Start(ctx, health.TargetsFromRegistry(registry))
func NewMonitor(interval time.Duration, maxFailures int) *Monitor {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: maxFailures,
		mirrors:     make(map[string]*MirrorHealth),
		ctx:         ctx,
		cancel:      cancel,
		log:         logging.Component("health"),
	}
}

// SetOnUnhealthy sets the callback invoked, on its own goroutine, when a
// mirror becomes unhealthy.
func (h *Monitor) SetOnUnhealthy(callback func(target Target)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the probe. It must be called before Start.
func (h *Monitor) SetCheckFunction(checkFunc CheckFunc) {
	h.checkFunc = checkFunc
}

// Start runs the monitoring loop in the current goroutine until ctx or the
// monitor is canceled. The first round of probes runs immediately.
func (h *Monitor) Start(ctx context.Context, provider func() []Target) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = func(context.Context, Target) error { return nil }
		h.log.Warn().Msg("no probe configured, every mirror reports healthy")
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info().Dur("interval", h.interval).Int("max_failures", h.maxFailures).Msg("health monitor started")

	h.checkAll(ctx, provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(ctx, provider())
		case <-ctx.Done():
			h.log.Debug().Msg("health monitor stopping due to context cancellation")
			return
		case <-h.ctx.Done():
			h.log.Debug().Msg("health monitor stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels the monitoring loop and waits for it to return.
func (h *Monitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.log.Info().Msg("health monitor stopped")
}

// checkAll probes every target and forgets slots that are no longer
// reported.
func (h *Monitor) checkAll(ctx context.Context, targets []Target) {
	current := make(map[string]bool, len(targets))

	for _, target := range targets {
		current[target.Key] = true
		h.check(ctx, target)
	}

	h.mu.Lock()
	for key := range h.mirrors {
		if !current[key] {
			delete(h.mirrors, key)
			h.log.Debug().Str("mirror", key).Msg("mirror no longer monitored")
		}
	}
	h.mu.Unlock()
}

func (h *Monitor) check(ctx context.Context, target Target) {
	h.mu.Lock()
	health, exists := h.mirrors[target.Key]
	if !exists {
		health = &MirrorHealth{
			Key:         target.Key,
			Array:       target.Array,
			Slot:        target.Slot,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.mirrors[target.Key] = health
	}
	h.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.checkFunc(probeCtx, target)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.log.Warn().Err(err).
			Str("mirror", target.Key).
			Int("attempt", health.ConsecutiveFails).
			Int("max", h.maxFailures).
			Msg("mirror probe failed")

		if health.ConsecutiveFails >= h.maxFailures {
			previous := health.Status
			health.Status = StatusUnhealthy

			if previous != StatusUnhealthy && h.onUnhealthy != nil {
				h.log.Error().Str("mirror", target.Key).Int("failures", health.ConsecutiveFails).Msg("mirror marked unhealthy")
				go h.onUnhealthy(target)
			}
		}
		return
	}

	if health.Status == StatusUnhealthy {
		h.log.Info().Str("mirror", target.Key).Msg("mirror recovered")
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// Get returns a copy of one mirror's health, or nil if it is not monitored.
func (h *Monitor) Get(key string) *MirrorHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.mirrors[key]
	if !exists {
		return nil
	}
	c := *health
	return &c
}

// All returns a copy of every monitored mirror's health keyed by slot key.
func (h *Monitor) All() map[string]*MirrorHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*MirrorHealth, len(h.mirrors))
	for key, health := range h.mirrors {
		c := *health
		result[key] = &c
	}
	return result
}

// IsHealthy reports whether a monitored mirror's last probes succeeded.
func (h *Monitor) IsHealthy(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.mirrors[key]
	return exists && health.Status == StatusHealthy
}

// Key names a slot for the monitor.
func Key(array string, slot int) string {
	return fmt.Sprintf("%s/%d", array, slot)
}

// TargetsFromRegistry returns a provider listing every present slot of every
// array in reg.
func TargetsFromRegistry(reg *raid.Registry) func() []Target {
	return func() []Target {
		var targets []Target
		for _, arr := range reg.List() {
			for _, base := range arr.BaseBdevs {
				if !base.Present() {
					continue
				}
				targets = append(targets, Target{
					Key:    Key(arr.Name, base.Slot),
					Array:  arr.Name,
					Slot:   base.Slot,
					Device: base.Device(),
				})
			}
		}
		return targets
	}
}
