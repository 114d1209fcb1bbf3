package adlb

import (
	"sync/atomic"
	"time"

	"github.com/adlb-go/adlb/internal/interfaces"
)

// LatencyBuckets defines the shared latency histogram buckets in
// nanoseconds, from 1us to 10s, log-spaced — modeled directly on go-ublk's
// metrics.go.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks per-server operational statistics (spec section 6's
// external interface list, re-themed from go-ublk's I/O-op metrics to ADLB
// ops).
type Metrics struct {
	PutOps      atomic.Uint64
	GetOps      atomic.Uint64
	StoreOps    atomic.Uint64
	RetrieveOps atomic.Uint64
	NotifyOps   atomic.Uint64
	XptRecords  atomic.Uint64
	StealOps    atomic.Uint64
	StealTasks  atomic.Uint64

	PutBytes      atomic.Uint64
	StoreBytes    atomic.Uint64
	RetrieveBytes atomic.Uint64
	XptBytes      atomic.Uint64

	PutErrors      atomic.Uint64
	GetErrors      atomic.Uint64
	StoreErrors    atomic.Uint64
	RetrieveErrors atomic.Uint64
	NotifyErrors   atomic.Uint64
	XptErrors      atomic.Uint64
	StealErrors    atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

func (m *Metrics) RecordPut(bytes uint64, latencyNs uint64, success bool) {
	m.PutOps.Add(1)
	if success {
		m.PutBytes.Add(bytes)
	} else {
		m.PutErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordGet(latencyNs uint64, success bool) {
	m.GetOps.Add(1)
	if !success {
		m.GetErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordSteal(count int, success bool) {
	m.StealOps.Add(1)
	m.StealTasks.Add(uint64(count))
	if !success {
		m.StealErrors.Add(1)
	}
}

func (m *Metrics) RecordStore(bytes uint64, latencyNs uint64, success bool) {
	m.StoreOps.Add(1)
	if success {
		m.StoreBytes.Add(bytes)
	} else {
		m.StoreErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordRetrieve(bytes uint64, latencyNs uint64, success bool) {
	m.RetrieveOps.Add(1)
	if success {
		m.RetrieveBytes.Add(bytes)
	} else {
		m.RetrieveErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordNotify(latencyNs uint64, success bool) {
	m.NotifyOps.Add(1)
	if !success {
		m.NotifyErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) RecordXptRecord(bytes uint64, latencyNs uint64, success bool) {
	m.XptRecords.Add(1)
	if success {
		m.XptBytes.Add(bytes)
	} else {
		m.XptErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// Stop marks the server as stopped, fixing Snapshot's uptime computation.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time copy of Metrics' counters plus derived
// statistics, safe to serialize or print (ADLB_PRINT_TIME, spec section
// 6.4).
type MetricsSnapshot struct {
	PutOps, GetOps, StoreOps, RetrieveOps, NotifyOps, XptRecords, StealOps uint64
	StealTasks                                                            uint64

	PutBytes, StoreBytes, RetrieveBytes, XptBytes uint64

	PutErrors, GetErrors, StoreErrors, RetrieveErrors, NotifyErrors, XptErrors, StealErrors uint64

	AvgLatencyNs uint64
	UptimeNs     uint64
	TotalOps     uint64
	ErrorRate    float64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot computes a MetricsSnapshot from the live counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PutOps:        m.PutOps.Load(),
		GetOps:        m.GetOps.Load(),
		StoreOps:      m.StoreOps.Load(),
		RetrieveOps:   m.RetrieveOps.Load(),
		NotifyOps:     m.NotifyOps.Load(),
		XptRecords:    m.XptRecords.Load(),
		StealOps:      m.StealOps.Load(),
		StealTasks:    m.StealTasks.Load(),
		PutBytes:      m.PutBytes.Load(),
		StoreBytes:    m.StoreBytes.Load(),
		RetrieveBytes: m.RetrieveBytes.Load(),
		XptBytes:      m.XptBytes.Load(),
		PutErrors:     m.PutErrors.Load(),
		GetErrors:     m.GetErrors.Load(),
		StoreErrors:   m.StoreErrors.Load(),
		RetrieveErrors: m.RetrieveErrors.Load(),
		NotifyErrors:  m.NotifyErrors.Load(),
		XptErrors:     m.XptErrors.Load(),
		StealErrors:   m.StealErrors.Load(),
	}

	snap.TotalOps = snap.PutOps + snap.GetOps + snap.StoreOps + snap.RetrieveOps + snap.NotifyOps + snap.XptRecords

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	totalErrors := snap.PutErrors + snap.GetErrors + snap.StoreErrors + snap.RetrieveErrors + snap.NotifyErrors + snap.XptErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	return snap
}

// MetricsObserver adapts Metrics to interfaces.Observer.
type MetricsObserver struct{ metrics *Metrics }

// NewMetricsObserver builds an observer recording into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{metrics: m} }

func (o *MetricsObserver) ObservePut(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordPut(bytes, latencyNs, success)
}
func (o *MetricsObserver) ObserveGet(latencyNs uint64, success bool) {
	o.metrics.RecordGet(latencyNs, success)
}
func (o *MetricsObserver) ObserveSteal(count int, success bool) {
	o.metrics.RecordSteal(count, success)
}
func (o *MetricsObserver) ObserveStore(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordStore(bytes, latencyNs, success)
}
func (o *MetricsObserver) ObserveRetrieve(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordRetrieve(bytes, latencyNs, success)
}
func (o *MetricsObserver) ObserveNotify(latencyNs uint64, success bool) {
	o.metrics.RecordNotify(latencyNs, success)
}
func (o *MetricsObserver) ObserveXptRecord(bytes, latencyNs uint64, success bool) {
	o.metrics.RecordXptRecord(bytes, latencyNs, success)
}

// NoOpObserver discards every observation; the zero value is ready to use.
type NoOpObserver struct{}

func (NoOpObserver) ObservePut(uint64, uint64, bool)      {}
func (NoOpObserver) ObserveGet(uint64, bool)              {}
func (NoOpObserver) ObserveSteal(int, bool)                {}
func (NoOpObserver) ObserveStore(uint64, uint64, bool)    {}
func (NoOpObserver) ObserveRetrieve(uint64, uint64, bool) {}
func (NoOpObserver) ObserveNotify(uint64, bool)           {}
func (NoOpObserver) ObserveXptRecord(uint64, uint64, bool) {}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = NoOpObserver{}
)
