package inmemory

import (
	"runtime"
	"sync"
	"time"

	"github.com/fllarpy/apm-chi/domain"
	"github.com/fllarpy/apm-chi/domain/metrics"
)

const (
	// Default buffer size for events like errors and N+1 queries.
	defaultEventBufferSize = 100
)

// --- Store Implementation ---

// Store is a thread-safe in-memory data store for ended transactions.
// It implements the domain.Store interface.
var _ domain.Store = (*Store)(nil)

type Store struct {
	mu             sync.RWMutex
	transactions   map[string]*metrics.TransactionMetrics
	client         metrics.ClientMetrics
	errors         *ringBuffer[metrics.ErrorEvent]
	nPlusOneEvents *ringBuffer[metrics.NPlusOneEvent]
}

// NewStore creates and initializes a new Store.
func NewStore() *Store {
	return &Store{
		transactions:   make(map[string]*metrics.TransactionMetrics),
		errors:         newRingBuffer[metrics.ErrorEvent](defaultEventBufferSize),
		nPlusOneEvents: newRingBuffer[metrics.NPlusOneEvent](defaultEventBufferSize),
	}
}

// AddTransaction records an ended transaction under its name.
func (s *Store) AddTransaction(name string, duration time.Duration, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[name]
	if !ok {
		tx = &metrics.TransactionMetrics{Results: make(map[string]uint64)}
		s.transactions[name] = tx
	}

	tx.Count++
	tx.TotalTime += uint64(duration.Nanoseconds())
	tx.Results[result]++
}

// AddClientRequest records an outgoing HTTP call or database query.
// Database queries carry no status code and count as successful.
func (s *Store) AddClientRequest(duration time.Duration, statusCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.client.TotalRequests++
	s.client.TotalRequestTime += uint64(duration.Nanoseconds())

	switch {
	case statusCode >= 500:
		s.client.Status5xx++
	case statusCode >= 400:
		s.client.Status4xx++
	default:
		s.client.Status2xx++
	}
}

// AddError adds a new error event to the ring buffer.
func (s *Store) AddError(event metrics.ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors.add(event)
}

// RecordNPlusOne adds a new N+1 event to the ring buffer.
func (s *Store) RecordNPlusOne(name, query string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event := metrics.NPlusOneEvent{
		Timestamp:   time.Now(),
		Transaction: name,
		Query:       query,
		Count:       count,
		Description: "N+1 query detected",
	}
	s.nPlusOneEvents.add(event)
}

// GetSnapshot returns a read-only copy of the current metrics. Runtime
// metrics are sampled at call time.
func (s *Store) GetSnapshot() *domain.Snapshot {
	runtimeMetrics := readRuntime()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &domain.Snapshot{
		Transactions:   make(map[string]metrics.TransactionMetricsSnapshot, len(s.transactions)),
		Runtime:        runtimeMetrics,
		Errors:         s.errors.getAll(),
		NPlusOneEvents: s.nPlusOneEvents.getAll(),
	}

	for name, m := range s.transactions {
		var avgTimeNs uint64
		if m.Count > 0 {
			avgTimeNs = m.TotalTime / m.Count
		}
		results := make(map[string]uint64, len(m.Results))
		for result, n := range m.Results {
			results[result] = n
		}
		snapshot.Transactions[name] = metrics.TransactionMetricsSnapshot{
			Count:     m.Count,
			AvgTimeNs: avgTimeNs,
			AvgTime:   time.Duration(avgTimeNs).String(),
			Results:   results,
		}
	}

	var avgClientTimeNs uint64
	if s.client.TotalRequests > 0 {
		avgClientTimeNs = s.client.TotalRequestTime / s.client.TotalRequests
	}
	snapshot.Client = metrics.ClientMetricsSnapshot{
		TotalRequests:    s.client.TotalRequests,
		AvgRequestTimeNs: avgClientTimeNs,
		AvgRequestTime:   time.Duration(avgClientTimeNs).String(),
		Status2xx:        s.client.Status2xx,
		Status4xx:        s.client.Status4xx,
		Status5xx:        s.client.Status5xx,
	}

	return snapshot
}

func readRuntime() metrics.RuntimeMetrics {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return metrics.RuntimeMetrics{
		NumGoroutine:          runtime.NumGoroutine(),
		MemoryAllocBytes:      memStats.Alloc,
		MemoryTotalAllocBytes: memStats.TotalAlloc,
		MemoryHeapAllocBytes:  memStats.HeapAlloc,
		MemoryHeapSysBytes:    memStats.HeapSys,
	}
}

// --- Ring Buffer for Events ---

// ringBuffer is a generic, thread-unsafe circular buffer.
// The locking must be handled by the parent (Store).
type ringBuffer[T any] struct {
	buffer []T
	size   int
	start  int
	count  int
}

// newRingBuffer creates a new ring buffer of a given size.
func newRingBuffer[T any](size int) *ringBuffer[T] {
	return &ringBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// add inserts an element into the buffer, overwriting the oldest if full.
func (rb *ringBuffer[T]) add(item T) {
	index := (rb.start + rb.count) % rb.size
	rb.buffer[index] = item
	if rb.count < rb.size {
		rb.count++
	} else {
		rb.start = (rb.start + 1) % rb.size
	}
}

// getAll returns all elements in the buffer in order.
func (rb *ringBuffer[T]) getAll() []T {
	if rb.count == 0 {
		return nil
	}
	items := make([]T, rb.count)
	for i := 0; i < rb.count; i++ {
		items[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	return items
}
