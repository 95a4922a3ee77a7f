package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks process-wide performance relevant to the cycle
// loop: how long LLM calls, full cycles, and DB writes take, plus
// decision/error counters.
type SystemMetrics struct {
	mu sync.RWMutex

	LLMLatency   *LatencyHistogram
	CycleLatency *LatencyHistogram
	DBLatency    *LatencyHistogram
	APILatency   *LatencyHistogram

	decisionsProcessed uint64
	entriesExecuted    uint64
	exitsExecuted      uint64
	errorsCount        uint64
	apiRequests        uint64
	apiErrors          uint64

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples over a sliding window with
// lazy stats recomputation.
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
		LLMLatency:   NewLatencyHistogram(1000),
		CycleLatency: NewLatencyHistogram(1000),
		DBLatency:    NewLatencyHistogram(1000),
		APILatency:   NewLatencyHistogram(1000),
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
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99, recomputing only if samples
// changed since the last call.
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

// IncrementDecisions increments the processed-decisions counter.
func (m *SystemMetrics) IncrementDecisions() {
	atomic.AddUint64(&m.decisionsProcessed, 1)
}

// IncrementEntries increments the executed-entries counter.
func (m *SystemMetrics) IncrementEntries() {
	atomic.AddUint64(&m.entriesExecuted, 1)
}

// IncrementExits increments the executed-exits counter.
func (m *SystemMetrics) IncrementExits() {
	atomic.AddUint64(&m.exitsExecuted, 1)
}

// IncrementErrors increments the error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// IncrementAPI increments the HTTP request counter.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors increments the HTTP 4xx/5xx counter.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// MetricsSnapshot is a point-in-time view returned by /api/stats.
type MetricsSnapshot struct {
	LLMLatency         LatencyStats `json:"llm_latency"`
	CycleLatency       LatencyStats `json:"cycle_latency"`
	DBLatency          LatencyStats `json:"db_latency"`
	APILatency         LatencyStats `json:"api_latency"`
	DecisionsProcessed uint64       `json:"decisions_processed"`
	EntriesExecuted    uint64       `json:"entries_executed"`
	ExitsExecuted      uint64       `json:"exits_executed"`
	ErrorsCount        uint64       `json:"errors_count"`
	APIRequests        uint64       `json:"api_requests"`
	APIErrors          uint64       `json:"api_errors"`
	GoroutineCount     int          `json:"goroutine_count"`
	HeapAlloc          uint64       `json:"heap_alloc_bytes"`
	HeapSys            uint64       `json:"heap_sys_bytes"`
	Timestamp          time.Time    `json:"timestamp"`
}

// GetSnapshot returns the current metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		LLMLatency:         m.LLMLatency.Stats(),
		CycleLatency:       m.CycleLatency.Stats(),
		DBLatency:          m.DBLatency.Stats(),
		APILatency:         m.APILatency.Stats(),
		DecisionsProcessed: atomic.LoadUint64(&m.decisionsProcessed),
		EntriesExecuted:    atomic.LoadUint64(&m.entriesExecuted),
		ExitsExecuted:      atomic.LoadUint64(&m.exitsExecuted),
		ErrorsCount:        atomic.LoadUint64(&m.errorsCount),
		APIRequests:        atomic.LoadUint64(&m.apiRequests),
		APIErrors:          atomic.LoadUint64(&m.apiErrors),
		GoroutineCount:     runtime.NumGoroutine(),
		HeapAlloc:          memStats.HeapAlloc,
		HeapSys:            memStats.HeapSys,
		Timestamp:          time.Now(),
	}
}

// Timer measures an operation's elapsed time and records it on Stop.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to the histogram and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
