package metrics

import (
	"time"
)

// --- Data Structures for Metrics ---

// TransactionMetrics holds aggregated data for one transaction name.
type TransactionMetrics struct {
	Count     uint64
	TotalTime uint64 // nanoseconds
	Results   map[string]uint64
}

// ClientMetrics holds aggregated metrics for outgoing HTTP and database calls.
type ClientMetrics struct {
	TotalRequests    uint64
	TotalRequestTime uint64 // nanoseconds
	Status2xx        uint64
	Status4xx        uint64
	Status5xx        uint64
}

// RuntimeMetrics holds metrics about the Go runtime.
type RuntimeMetrics struct {
	NumGoroutine          int    `json:"num_goroutine"`
	MemoryAllocBytes      uint64 `json:"memory_alloc_bytes"`
	MemoryTotalAllocBytes uint64 `json:"memory_total_alloc_bytes"`
	MemoryHeapAllocBytes  uint64 `json:"memory_heap_alloc_bytes"`
	MemoryHeapSysBytes    uint64 `json:"memory_heap_sys_bytes"`
}

// NPlusOneEvent represents a statement repeated too often within one transaction.
type NPlusOneEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Transaction string    `json:"transaction"`
	Query       string    `json:"query"`
	Count       int       `json:"count"`
	Description string    `json:"description"`
}

// ErrorEvent represents a transaction that ended with a server error or was cancelled.
type ErrorEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	TraceID     string    `json:"trace_id,omitempty"`
	Transaction string    `json:"transaction"`
	Result      string    `json:"result"`
	Error       string    `json:"error,omitempty"`
}

// --- Snapshot Structures (for reporting) ---

// TransactionMetricsSnapshot is a read-only copy of a transaction's metrics.
type TransactionMetricsSnapshot struct {
	Count     uint64            `json:"count"`
	AvgTimeNs uint64            `json:"avg_time_ns"`
	AvgTime   string            `json:"avg_time"`
	Results   map[string]uint64 `json:"results"`
}

// ClientMetricsSnapshot is a read-only copy of client metrics.
type ClientMetricsSnapshot struct {
	TotalRequests    uint64 `json:"total_requests"`
	AvgRequestTimeNs uint64 `json:"avg_request_time_ns"`
	AvgRequestTime   string `json:"avg_request_time"`
	Status2xx        uint64 `json:"status_2xx"`
	Status4xx        uint64 `json:"status_4xx"`
	Status5xx        uint64 `json:"status_5xx"`
}
