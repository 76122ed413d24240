// Package metrics holds in-process atomic counters plus a validate-latency
// histogram. Counters are lock-free and padded to avoid false sharing on
// the hot validate path.
package metrics

import (
	"sync/atomic"
	"time"
)

// ID identifies a single counter or histogram.
type ID uint16

const (
	TokenIssued ID = iota
	TokenValidateSuccess
	TokenValidateFailure
	TokenRevokedHit
	RefreshSuccess
	RefreshFailure
	RefreshReuseDetected
	FamilyRevoked
	RevokeToken
	RevokeUser
	RevokeSession
	RevokeTenant
	SessionCreated
	SessionEvicted
	SessionTerminated
	SessionExpiredSwept
	SessionRenewed
	SessionRenewThrottled
	BindingRejected
	AnomalyDetected
	HijackChallenge
	HijackTerminate
	ChallengeCreated
	ChallengeVerified
	ChallengeFailed
	ChallengeExhausted
	BackupCodeUsed
	DeviceTrusted
	TrustedDeviceEvicted
	ValidateLatency
	idCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type histogram struct {
	buckets [histBucketCount]uint64
}

// Config enables collection. A disabled Metrics is a no-op on every path.
type Config struct {
	Enabled       bool
	EnableLatency bool
}

// Metrics is safe for concurrent use and never allocates after
// construction.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [idCount]paddedCounter
	histograms    [idCount]histogram
}

// Snapshot is a point-in-time deep copy of all counters and histograms.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatency,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id ID) {
	if m == nil || !m.enabled || id >= idCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records validate latency. Other IDs are ignored; only the
// validation path is latency-sensitive enough to histogram.
func (m *Metrics) Observe(id ID, d time.Duration) {
	if m == nil || !m.enableLatency || id != ValidateLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) TakeSnapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{Counters: map[ID]uint64{}, Histograms: map[ID][]uint64{}}
	}

	s := Snapshot{
		Counters:   make(map[ID]uint64, int(idCount)),
		Histograms: make(map[ID][]uint64, 1),
	}
	for id := ID(0); id < idCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[ValidateLatency].buckets[i])
		}
		s.Histograms[ValidateLatency] = buckets
	}
	return s
}

// bucketIndex maps a duration to exponential buckets:
// <100us, <250us, <500us, <1ms, <2.5ms, <5ms, <10ms, rest.
func bucketIndex(d time.Duration) int {
	switch {
	case d < 100*time.Microsecond:
		return 0
	case d < 250*time.Microsecond:
		return 1
	case d < 500*time.Microsecond:
		return 2
	case d < time.Millisecond:
		return 3
	case d < 2500*time.Microsecond:
		return 4
	case d < 5*time.Millisecond:
		return 5
	case d < 10*time.Millisecond:
		return 6
	default:
		return 7
	}
}
