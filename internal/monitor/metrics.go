package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks runtime counters and latencies for the engine:
// tick throughput, firing/execution outcomes and feed connectivity.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	OrderLatency *LatencyHistogram
	DBLatency    *LatencyHistogram

	// Counters
	ticksProcessed   uint64
	triggersFired    uint64
	ordersPlaced     uint64
	executionsFailed uint64
	feedConnects     uint64

	feedState  string
	lastTickAt time.Time
	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with a sliding window and
// lazy stats computation.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency: NewLatencyHistogram(1000),
		DBLatency:    NewLatencyHistogram(1000),
		feedState:    "disconnected",
		lastUpdate:   time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Only recomputes when
// samples have changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementTicks increments the processed ticks counter.
func (m *SystemMetrics) IncrementTicks() {
	atomic.AddUint64(&m.ticksProcessed, 1)
	m.mu.Lock()
	m.lastTickAt = time.Now()
	m.mu.Unlock()
}

// IncrementFired increments the satisfied-trigger counter.
func (m *SystemMetrics) IncrementFired() {
	atomic.AddUint64(&m.triggersFired, 1)
}

// IncrementOrders increments the placed-orders counter.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersPlaced, 1)
}

// IncrementFailures increments the failed-execution counter.
func (m *SystemMetrics) IncrementFailures() {
	atomic.AddUint64(&m.executionsFailed, 1)
}

// SetFeedState records the current feed connection state, counting
// every transition into the connected state.
func (m *SystemMetrics) SetFeedState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == "connected" && m.feedState != "connected" {
		atomic.AddUint64(&m.feedConnects, 1)
	}
	m.feedState = state
}

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	OrderLatency     LatencyStats `json:"order_latency"`
	DBLatency        LatencyStats `json:"db_latency"`
	TicksProcessed   uint64       `json:"ticks_processed"`
	TriggersFired    uint64       `json:"triggers_fired"`
	OrdersPlaced     uint64       `json:"orders_placed"`
	ExecutionsFailed uint64       `json:"executions_failed"`
	FeedConnects     uint64       `json:"feed_connects"`
	FeedState        string       `json:"feed_state"`
	LastTickAt       time.Time    `json:"last_tick_at"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	HeapSys          uint64       `json:"heap_sys_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	feedState := m.feedState
	lastTick := m.lastTickAt
	m.mu.RUnlock()

	return MetricsSnapshot{
		OrderLatency:     m.OrderLatency.Stats(),
		DBLatency:        m.DBLatency.Stats(),
		TicksProcessed:   atomic.LoadUint64(&m.ticksProcessed),
		TriggersFired:    atomic.LoadUint64(&m.triggersFired),
		OrdersPlaced:     atomic.LoadUint64(&m.ordersPlaced),
		ExecutionsFailed: atomic.LoadUint64(&m.executionsFailed),
		FeedConnects:     atomic.LoadUint64(&m.feedConnects),
		FeedState:        feedState,
		LastTickAt:       lastTick,
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		HeapSys:          memStats.HeapSys,
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
