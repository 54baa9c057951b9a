package exporter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/apm-chi/domain/transaction"
	"github.com/fllarpy/apm-chi/infrastructure/storage/inmemory"
)

type mockProfiler struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockProfiler) ProfileIfSlow(name string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

type mockSpanProcessor struct {
	calls int
}

func (m *mockSpanProcessor) ProcessSpan(span sdktrace.ReadOnlySpan) { m.calls++ }

func spanContext() oteltrace.SpanContext {
	return oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID: oteltrace.TraceID{0x01},
		SpanID:  oteltrace.SpanID{0x01},
	})
}

func transactionSpan(name, result string, status codes.Code) sdktrace.ReadOnlySpan {
	start := time.Now()
	return tracetest.SpanStub{
		Name:        name,
		SpanContext: spanContext(),
		SpanKind:    oteltrace.SpanKindServer,
		StartTime:   start,
		EndTime:     start.Add(10 * time.Millisecond),
		Status:      sdktrace.Status{Code: status, Description: result},
		Attributes: []attribute.KeyValue{
			attribute.String(transaction.AttrType, transaction.Type),
			attribute.String(transaction.AttrName, name),
			attribute.String(transaction.AttrResult, result),
		},
	}.Snapshot()
}

func TestTransactionExporter_ExportSpans(t *testing.T) {
	t.Run("records transactions", func(t *testing.T) {
		store := inmemory.NewStore()
		profiler := &mockProfiler{}
		processor := &mockSpanProcessor{}
		exporter := New(store, nil, WithProfiler(profiler), WithSpanProcessor(processor))

		err := exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{
			transactionSpan("GET /users/{user_id}", "2xx", codes.Unset),
		})
		require.NoError(t, err)

		snapshot := store.GetSnapshot()
		require.Contains(t, snapshot.Transactions, "GET /users/{user_id}")
		tx := snapshot.Transactions["GET /users/{user_id}"]
		assert.Equal(t, uint64(1), tx.Count)
		assert.Equal(t, uint64(10*time.Millisecond), tx.AvgTimeNs)
		assert.Equal(t, map[string]uint64{"2xx": 1}, tx.Results)
		assert.Empty(t, snapshot.Errors)

		assert.Equal(t, []string{"GET /users/{user_id}"}, profiler.calls, "ended transactions go to the profiler")
		assert.Equal(t, 1, processor.calls, "every span goes to the span processors")
	})

	t.Run("records failed transactions as errors", func(t *testing.T) {
		store := inmemory.NewStore()
		exporter := New(store, nil)

		err := exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{
			transactionSpan("GET /panic", transaction.ResultServerError, codes.Error),
			transactionSpan("GET /stream", transaction.ResultCancelled, codes.Error),
			transactionSpan("", "4xx", codes.Unset),
		})
		require.NoError(t, err)

		snapshot := store.GetSnapshot()
		assert.Len(t, snapshot.Transactions, 3)
		require.Len(t, snapshot.Errors, 2)
		assert.Equal(t, "GET /panic", snapshot.Errors[0].Transaction)
		assert.Equal(t, transaction.ResultServerError, snapshot.Errors[0].Result)
		assert.Equal(t, spanContext().TraceID().String(), snapshot.Errors[0].TraceID)
		assert.Equal(t, transaction.ResultCancelled, snapshot.Errors[1].Result)
	})

	t.Run("ignores server spans that are not transactions", func(t *testing.T) {
		store := inmemory.NewStore()
		exporter := New(store, nil)

		span := tracetest.SpanStub{
			Name:        "otelhttp handler",
			SpanContext: spanContext(),
			SpanKind:    oteltrace.SpanKindServer,
		}.Snapshot()
		require.NoError(t, exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{span}))

		assert.Empty(t, store.GetSnapshot().Transactions)
	})

	t.Run("records client spans", func(t *testing.T) {
		store := inmemory.NewStore()
		exporter := New(store, nil)

		start := time.Now()
		dbSpan := tracetest.SpanStub{
			Name:        "sql.conn.query",
			SpanContext: spanContext(),
			SpanKind:    oteltrace.SpanKindClient,
			Attributes:  []attribute.KeyValue{semconv.DBSystemSqlite},
			StartTime:   start,
			EndTime:     start.Add(5 * time.Millisecond),
		}.Snapshot()
		httpSpan := tracetest.SpanStub{
			Name:        "HTTP GET",
			SpanContext: spanContext(),
			SpanKind:    oteltrace.SpanKindClient,
			Attributes:  []attribute.KeyValue{attribute.Int("http.response.status_code", 503)},
			StartTime:   start,
			EndTime:     start.Add(15 * time.Millisecond),
		}.Snapshot()
		internalSpan := tracetest.SpanStub{
			Name:        "cache lookup",
			SpanContext: spanContext(),
			SpanKind:    oteltrace.SpanKindClient,
		}.Snapshot()

		require.NoError(t, exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{dbSpan, httpSpan, internalSpan}))

		client := store.GetSnapshot().Client
		assert.Equal(t, uint64(2), client.TotalRequests)
		assert.Equal(t, uint64(1), client.Status2xx)
		assert.Equal(t, uint64(1), client.Status5xx)
		assert.Empty(t, store.GetSnapshot().Transactions, "client spans are not transactions")
	})
}

func TestTransactionExporter_WithTracerProvider(t *testing.T) {
	store := inmemory.NewStore()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(New(store, nil)))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), transaction.Type,
		oteltrace.WithSpanKind(oteltrace.SpanKindServer),
		oteltrace.WithAttributes(attribute.String(transaction.AttrType, transaction.Type)),
	)
	span.SetAttributes(
		attribute.String(transaction.AttrName, "GET /"),
		attribute.String(transaction.AttrResult, "2xx"),
	)
	span.End()

	assert.Contains(t, store.GetSnapshot().Transactions, "GET /")
}
