package apmotel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fllarpy/apm-chi/domain"
	"github.com/fllarpy/apm-chi/domain/transaction"
	"github.com/fllarpy/apm-chi/pkg/config"
	"github.com/fllarpy/apm-chi/pkg/logging"
)

// InstrumentationName identifies the tracer used for transactions.
const InstrumentationName = "github.com/fllarpy/apm-chi"

var _ domain.Client = (*Client)(nil)

// Client begins and ends transactions as OpenTelemetry server spans.
// It holds no per-request state and is safe for concurrent use.
type Client struct {
	tracer     trace.Tracer
	attributes []attribute.KeyValue
	logger     *zap.Logger
}

// NewClient returns a Client that creates spans with tp.
func NewClient(tp trace.TracerProvider, cfg config.Config, logger *zap.Logger) *Client {
	return &Client{
		tracer: tp.Tracer(InstrumentationName),
		attributes: []attribute.KeyValue{
			attribute.String("service.framework.name", cfg.FrameworkName),
			attribute.String("service.framework.version", cfg.FrameworkVersion),
		},
		logger: logging.OrNop(logger),
	}
}

// BeginTransaction starts a server span named after category.
func (c *Client) BeginTransaction(ctx context.Context, category string) context.Context {
	attrs := make([]attribute.KeyValue, 0, len(c.attributes)+1)
	attrs = append(attrs, attribute.String(transaction.AttrType, category))
	attrs = append(attrs, c.attributes...)

	ctx, span := c.tracer.Start(ctx, category,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return withTransaction(ctx, &activeTransaction{span: span})
}

// SetContext queues supplier to be evaluated under key when the transaction ends.
func (c *Client) SetContext(ctx context.Context, key string, supplier domain.ContextSupplier) {
	tx := transactionFromContext(ctx)
	if tx == nil {
		c.logger.Debug("SetContext called without an active transaction", zap.String("key", key))
		return
	}
	if !tx.addSupplier(key, supplier) {
		c.logger.Debug("SetContext called on an ended transaction", zap.String("key", key))
	}
}

// EndTransaction evaluates the queued suppliers, records name and result and
// ends the span. Only the first call for a transaction has an effect.
func (c *Client) EndTransaction(ctx context.Context, name, result string) {
	tx := transactionFromContext(ctx)
	if tx == nil {
		c.logger.Debug("EndTransaction called without an active transaction", zap.String("transaction", name))
		return
	}
	suppliers, ok := tx.end()
	if !ok {
		c.logger.Debug("transaction already ended", zap.String("transaction", name))
		return
	}

	span := tx.span
	for _, s := range suppliers {
		span.SetAttributes(flatten(s.key, s.fn())...)
	}
	if name != "" {
		span.SetName(name)
	}
	span.SetAttributes(
		attribute.String(transaction.AttrName, name),
		attribute.String(transaction.AttrResult, result),
	)
	if transaction.IsError(result) {
		span.SetStatus(codes.Error, result)
	}
	span.End()
}
