// Package observability holds the Prometheus metrics exported by raidbd.
package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	mirrorReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raidbd",
			Subsystem: "raid1",
			Name:      "reads_total",
			Help:      "Reads routed to each mirror slot.",
		},
		[]string{"array", "slot"},
	)
	mirrorWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raidbd",
			Subsystem: "raid1",
			Name:      "writes_total",
			Help:      "Sub-writes submitted to each mirror slot.",
		},
		[]string{"array", "slot"},
	)
	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raidbd",
			Subsystem: "raid1",
			Name:      "retries_total",
			Help:      "Submissions deferred because a mirror channel was saturated.",
		},
		[]string{"array", "op"},
	)
	ioCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raidbd",
			Subsystem: "io",
			Name:      "completed_total",
			Help:      "Array I/O completed, by type and final status.",
		},
		[]string{"array", "op", "status"},
	)
	mirrorsPresent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "raidbd",
			Subsystem: "array",
			Name:      "mirrors_present",
			Help:      "Mirror slots currently bound to a live device.",
		},
		[]string{"array"},
	)
)

// RegisterMetrics registers every collector with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(mirrorReads, mirrorWrites, retries, ioCompleted, mirrorsPresent)
	})
}

func RecordMirrorRead(array string, slot int) {
	mirrorReads.WithLabelValues(array, strconv.Itoa(slot)).Inc()
}

func RecordMirrorWrite(array string, slot int) {
	mirrorWrites.WithLabelValues(array, strconv.Itoa(slot)).Inc()
}

func RecordRetry(array, op string) {
	retries.WithLabelValues(array, op).Inc()
}

func RecordIOCompleted(array, op string, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	ioCompleted.WithLabelValues(array, op, status).Inc()
}

func SetMirrorsPresent(array string, n int) {
	mirrorsPresent.WithLabelValues(array).Set(float64(n))
}

// ForgetArray drops every series labelled with array.
func ForgetArray(array string) {
	labels := prometheus.Labels{"array": array}
	mirrorReads.DeletePartialMatch(labels)
	mirrorWrites.DeletePartialMatch(labels)
	retries.DeletePartialMatch(labels)
	ioCompleted.DeletePartialMatch(labels)
	mirrorsPresent.DeletePartialMatch(labels)
}
