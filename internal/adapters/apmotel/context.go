package apmotel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/fllarpy/apm-chi/domain"
)

// contextKey is an unexported type for keys defined in this package.
type contextKey struct{}

var transactionKey = contextKey{}

type namedSupplier struct {
	key string
	fn  domain.ContextSupplier
}

// activeTransaction is the per-request state carried in the context.
// Handlers may hand the context to other goroutines, hence the mutex.
type activeTransaction struct {
	span trace.Span

	mu        sync.Mutex
	suppliers []namedSupplier
	ended     bool
}

func withTransaction(ctx context.Context, tx *activeTransaction) context.Context {
	return context.WithValue(ctx, transactionKey, tx)
}

func transactionFromContext(ctx context.Context) *activeTransaction {
	tx, _ := ctx.Value(transactionKey).(*activeTransaction)
	return tx
}

func (tx *activeTransaction) addSupplier(key string, fn domain.ContextSupplier) bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.ended {
		return false
	}
	if fn != nil {
		tx.suppliers = append(tx.suppliers, namedSupplier{key: key, fn: fn})
	}
	return true
}

// end marks the transaction ended and hands over the queued suppliers.
// It returns false if the transaction had already ended.
func (tx *activeTransaction) end() ([]namedSupplier, bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.ended {
		return nil, false
	}
	tx.ended = true
	suppliers := tx.suppliers
	tx.suppliers = nil
	return suppliers, true
}
