package apmchi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/fllarpy/apm-chi/domain"
	"github.com/fllarpy/apm-chi/domain/transaction"
	"github.com/fllarpy/apm-chi/pkg/config"
	"github.com/fllarpy/apm-chi/pkg/logging"
)

// Option configures the middleware.
type Option func(*options)

type options struct {
	propagator propagation.TextMapPropagator
}

// WithPropagator extracts incoming trace context with p instead of the
// OpenTelemetry global propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *options) { o.propagator = p }
}

// Middleware returns chi middleware that records one transaction per request
// on client. It is a no-op when the agent is disabled.
func Middleware(cfg *config.Config, client domain.Client, logger *zap.Logger, opts ...Option) func(http.Handler) http.Handler {
	if cfg == nil || !cfg.Enabled || client == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger = logging.OrNop(logger)
	snapshots := newSnapshotter(cfg.CaptureHeaders, newSanitizer(cfg.SanitizeFieldNames))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			propagator := o.propagator
			if propagator == nil {
				propagator = otel.GetTextMapPropagator()
			}
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx = client.BeginTransaction(ctx, transaction.Type)
			r = r.WithContext(ctx)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				rec := recover()

				name := transaction.Name(r.Method, routePattern(r))
				result := classify(r, ww, rec != nil)

				client.SetContext(ctx, transaction.ContextKeyRequest, func() map[string]any {
					return snapshots.request(r).Map()
				})
				client.SetContext(ctx, transaction.ContextKeyResponse, func() map[string]any {
					return snapshots.response(ww, result).Map()
				})
				client.EndTransaction(ctx, name, result)

				logger.Debug("transaction ended",
					zap.String("transaction", name),
					zap.String("result", result),
					zap.Duration("duration", time.Since(start)),
				)

				if rec != nil {
					panic(rec)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// routePattern reads the template chi dispatched to, e.g. /users/{user_id}.
// It is empty when no endpoint matched or the request never went through chi.
// A sub-router records its mount pattern (/users/*) before failing to match,
// so the pattern only counts when the router tree resolves the request to a
// handler for its method.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	if rctx.Routes != nil && !rctx.Routes.Match(chi.NewRouteContext(), r.Method, requestPath(r)) {
		return ""
	}
	return rctx.RoutePattern()
}

// requestPath is the path chi routes on.
func requestPath(r *http.Request) string {
	if r.URL.RawPath != "" {
		return r.URL.RawPath
	}
	return r.URL.Path
}

// classify maps the outcome of the downstream call to a transaction result.
func classify(r *http.Request, ww middleware.WrapResponseWriter, panicked bool) string {
	status := ww.Status()
	switch {
	case panicked:
		return transaction.ResultServerError
	case status == 0 && r.Context().Err() != nil:
		return transaction.ResultCancelled
	case status == 0:
		// net/http answers 200 for handlers that write nothing.
		return transaction.Result(http.StatusOK)
	default:
		return transaction.Result(status)
	}
}
