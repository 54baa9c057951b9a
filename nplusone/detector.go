// Package nplusone detects transactions that execute the same database
// statement over and over, the classic N+1 query problem.
package nplusone

import (
	"sort"
	"strings"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fllarpy/apm-chi/domain"
	"github.com/fllarpy/apm-chi/domain/transaction"
	"github.com/fllarpy/apm-chi/pkg/logging"
)

const (
	cleanupInterval = time.Minute
	staleAfter      = 2 * time.Minute
)

// statementKeys are the attributes database instrumentation records the
// query text under, old and new semantic conventions.
var statementKeys = []string{"db.query.text", "db.statement"}

type traceData struct {
	queries  map[string]int
	lastSeen time.Time
}

// Detector counts statements per trace and reports repeated ones once the
// transaction that owns the trace has ended.
type Detector struct {
	threshold int
	store     domain.StoreWriter
	logger    *zap.Logger

	mu     sync.Mutex
	traces map[trace.TraceID]*traceData

	done     chan struct{}
	stopOnce sync.Once
}

// NewDetector returns nil when threshold is not positive; a nil *Detector is
// safe to use. The returned detector sweeps stale traces until Stop is called.
func NewDetector(threshold int, store domain.StoreWriter, logger *zap.Logger) *Detector {
	if threshold <= 0 {
		return nil
	}
	logger = logging.OrNop(logger)
	logger.Info("Initializing N+1 query detector.", zap.Int("threshold", threshold))

	d := &Detector{
		threshold: threshold,
		store:     store,
		logger:    logger,
		traces:    make(map[trace.TraceID]*traceData),
		done:      make(chan struct{}),
	}
	go d.cleanupLoop()
	return d
}

// ProcessSpan counts database statements of client spans and evaluates the
// trace when its transaction span arrives. Child spans end, and are
// exported, before the transaction that contains them.
func (d *Detector) ProcessSpan(span sdktrace.ReadOnlySpan) {
	if d == nil {
		return
	}
	traceID := span.SpanContext().TraceID()

	switch span.SpanKind() {
	case trace.SpanKindServer:
		if name, ok := transactionName(span); ok {
			d.finishTrace(traceID, name)
		}
	case trace.SpanKindClient:
		if strings.HasSuffix(span.Name(), ".prepare") {
			return
		}
		if statement := statementOf(span); statement != "" {
			d.countStatement(traceID, statement)
		}
	}
}

// Stop ends the background sweeper.
func (d *Detector) Stop() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() { close(d.done) })
}

func (d *Detector) countStatement(traceID trace.TraceID, statement string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	td, ok := d.traces[traceID]
	if !ok {
		td = &traceData{queries: make(map[string]int)}
		d.traces[traceID] = td
	}
	td.lastSeen = time.Now()
	td.queries[statement]++
}

func (d *Detector) finishTrace(traceID trace.TraceID, name string) {
	d.mu.Lock()
	td, ok := d.traces[traceID]
	delete(d.traces, traceID)
	d.mu.Unlock()

	if !ok {
		return
	}

	statements := make([]string, 0, len(td.queries))
	for statement := range td.queries {
		statements = append(statements, statement)
	}
	sort.Strings(statements)

	for _, statement := range statements {
		count := td.queries[statement]
		if count < d.threshold {
			continue
		}
		d.logger.Warn("N+1 query detected.",
			zap.String("transaction", name),
			zap.String("trace_id", traceID.String()),
			zap.String("query", statement),
			zap.Int("count", count),
		)
		d.store.RecordNPlusOne(name, statement, count)
	}
}

func (d *Detector) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.cleanupOldTraces(time.Now())
		case <-d.done:
			return
		}
	}
}

// cleanupOldTraces drops traces whose transaction never reached the exporter.
func (d *Detector) cleanupOldTraces(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cleaned := 0
	for traceID, data := range d.traces {
		if now.Sub(data.lastSeen) > staleAfter {
			delete(d.traces, traceID)
			cleaned++
		}
	}
	if cleaned > 0 {
		d.logger.Debug("Cleaned up stale traces.", zap.Int("count", cleaned))
	}
}

func transactionName(span sdktrace.ReadOnlySpan) (string, bool) {
	var name string
	var isTransaction bool
	for _, attr := range span.Attributes() {
		switch string(attr.Key) {
		case transaction.AttrType:
			isTransaction = true
		case transaction.AttrName:
			name = attr.Value.AsString()
		}
	}
	return name, isTransaction
}

func statementOf(span sdktrace.ReadOnlySpan) string {
	for _, attr := range span.Attributes() {
		for _, key := range statementKeys {
			if string(attr.Key) == key {
				return attr.Value.AsString()
			}
		}
	}
	return ""
}
