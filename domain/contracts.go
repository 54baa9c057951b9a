package domain

import (
	"context"
	"time"

	"github.com/fllarpy/apm-chi/domain/metrics"
)

// ContextSupplier produces the structured data attached to a transaction under
// a context key. Clients evaluate it lazily, at most once, when the transaction ends.
type ContextSupplier func() map[string]any

// Client is the contract the request tracing middleware relies on. Per-request
// transaction state travels in the returned context, so a single Client is
// shared by all in-flight requests.
type Client interface {
	// BeginTransaction starts a transaction of the given category and returns
	// a context carrying it.
	BeginTransaction(ctx context.Context, category string) context.Context
	// SetContext attaches the supplier's data under key to the transaction in ctx.
	SetContext(ctx context.Context, key string, supplier ContextSupplier)
	// EndTransaction names, classifies and closes the transaction in ctx.
	EndTransaction(ctx context.Context, name, result string)
}

// Snapshot is a point-in-time, read-only copy of everything the store holds.
type Snapshot struct {
	Transactions   map[string]metrics.TransactionMetricsSnapshot `json:"transactions"`
	Client         metrics.ClientMetricsSnapshot                 `json:"client_metrics"`
	Runtime        metrics.RuntimeMetrics                        `json:"runtime_metrics"`
	Errors         []metrics.ErrorEvent                          `json:"errors"`
	NPlusOneEvents []metrics.NPlusOneEvent                       `json:"n_plus_one_events"`
}

// StoreReader defines the contract for reading metrics from a store.
type StoreReader interface {
	GetSnapshot() *Snapshot
}

// StoreWriter defines the contract for writing ended transactions to a store.
type StoreWriter interface {
	AddTransaction(name string, duration time.Duration, result string)
	AddClientRequest(duration time.Duration, statusCode int)
	AddError(event metrics.ErrorEvent)
	RecordNPlusOne(name, query string, count int)
}

// Store is the combined interface for a metric store.
type Store interface {
	StoreReader
	StoreWriter
}
