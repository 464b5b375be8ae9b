package tokutei

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter (or the latency histogram) of [Metrics].
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricSignupSuccess
	MetricSignupConfirmationRequired
	MetricSignupFailure
	MetricLogout
	MetricLogoutFailure
	MetricSessionCheckValid
	MetricSessionCheckInvalid
	MetricSessionCheckError
	MetricProfileUpdateSuccess
	MetricProfileUpdateFailure
	MetricPasswordResetRequest
	MetricPasswordUpdate
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	// MetricStaleResponseDropped counts action completions discarded because
	// a newer action was issued first.
	MetricStaleResponseDropped
	MetricSnapshotPersistFailure
	MetricSnapshotRestored
	MetricGuardLoginRedirect
	MetricGuardUnauthorizedRedirect
	MetricStoreCreated
	MetricStoreEvicted
	// MetricBackendLatency is the only histogram: time spent in auth client
	// calls made by store actions.
	MetricBackendLatency
	metricIDCount
)

// MetricIDCount is the number of defined metric ids.
const MetricIDCount = int(metricIDCount)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil or disabled Metrics
// ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters. Histograms holds
// per-bucket (non-cumulative) counts.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the backend latency histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricBackendLatency {
		return
	}
	atomic.AddUint64(&m.latency.buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricBackendLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.latency.buckets[i])
		}
		s.Histograms[MetricBackendLatency] = buckets
	}
	return s
}

// Bucket upper bounds in milliseconds; the last bucket is unbounded.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	switch {
	case ms <= 25:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 2500:
		return 6
	default:
		return 7
	}
}
