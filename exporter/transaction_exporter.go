// Package exporter feeds ended spans into the in-process store, the N+1
// detector and the on-demand profiler.
package exporter

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fllarpy/apm-chi/domain"
	"github.com/fllarpy/apm-chi/domain/metrics"
	"github.com/fllarpy/apm-chi/domain/transaction"
	"github.com/fllarpy/apm-chi/pkg/logging"
)

// Profiler is the part of profiling.Profiler the exporter relies on.
type Profiler interface {
	ProfileIfSlow(name string, duration time.Duration)
}

// SpanProcessor is the part of nplusone.Detector the exporter relies on.
type SpanProcessor interface {
	ProcessSpan(span sdktrace.ReadOnlySpan)
}

// Option configures a TransactionExporter.
type Option func(*TransactionExporter)

// WithProfiler hands every ended transaction to p.
func WithProfiler(p Profiler) Option {
	return func(e *TransactionExporter) { e.profiler = p }
}

// WithSpanProcessor hands every exported span to p.
func WithSpanProcessor(p SpanProcessor) Option {
	return func(e *TransactionExporter) { e.processors = append(e.processors, p) }
}

var _ sdktrace.SpanExporter = (*TransactionExporter)(nil)

// TransactionExporter is a sdktrace.SpanExporter that records transactions
// and outgoing calls in a domain.StoreWriter.
type TransactionExporter struct {
	store      domain.StoreWriter
	profiler   Profiler
	processors []SpanProcessor
	logger     *zap.Logger
}

// New returns an exporter writing to store.
func New(store domain.StoreWriter, logger *zap.Logger, opts ...Option) *TransactionExporter {
	e := &TransactionExporter{
		store:  store,
		logger: logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *TransactionExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		for _, p := range e.processors {
			p.ProcessSpan(span)
		}

		switch span.SpanKind() {
		case trace.SpanKindServer:
			e.processTransaction(span)
		case trace.SpanKindClient:
			e.processClientSpan(span)
		}
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *TransactionExporter) Shutdown(ctx context.Context) error {
	e.logger.Debug("Transaction exporter shut down.")
	return nil
}

func (e *TransactionExporter) processTransaction(span sdktrace.ReadOnlySpan) {
	var (
		isTransaction bool
		name, result  string
	)
	for _, attr := range span.Attributes() {
		switch string(attr.Key) {
		case transaction.AttrType:
			isTransaction = true
		case transaction.AttrName:
			name = attr.Value.AsString()
		case transaction.AttrResult:
			result = attr.Value.AsString()
		}
	}
	// Server spans from other instrumentation (e.g. otelhttp handlers) are not transactions.
	if !isTransaction {
		return
	}

	duration := span.EndTime().Sub(span.StartTime())
	e.store.AddTransaction(name, duration, result)

	if transaction.IsError(result) || span.Status().Code == codes.Error {
		e.store.AddError(metrics.ErrorEvent{
			Timestamp:   span.EndTime(),
			TraceID:     span.SpanContext().TraceID().String(),
			Transaction: name,
			Result:      result,
			Error:       span.Status().Description,
		})
	}

	if e.profiler != nil {
		e.profiler.ProfileIfSlow(name, duration)
	}
}

func (e *TransactionExporter) processClientSpan(span sdktrace.ReadOnlySpan) {
	duration := span.EndTime().Sub(span.StartTime())

	var statusCode int
	var isOutgoing bool
	for _, attr := range span.Attributes() {
		switch string(attr.Key) {
		case "http.response.status_code", "http.status_code":
			statusCode = int(attr.Value.AsInt64())
			isOutgoing = true
		case "db.system":
			isOutgoing = true
		}
	}
	if !isOutgoing {
		return
	}
	if statusCode == 0 && span.Status().Code == codes.Error {
		// Failed call without a response.
		statusCode = 500
	}
	e.store.AddClientRequest(duration, statusCode)
}
