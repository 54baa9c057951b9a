// Package apmchi records one APM transaction per request served by a chi
// router. An Agent owns the tracer provider, the in-process store behind the
// debug endpoint and the background helpers that feed it.
package apmchi

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fllarpy/apm-chi/domain"
	"github.com/fllarpy/apm-chi/exporter"
	"github.com/fllarpy/apm-chi/infrastructure/storage/inmemory"
	"github.com/fllarpy/apm-chi/instrumentation"
	"github.com/fllarpy/apm-chi/instrumentation/apmhttp"
	"github.com/fllarpy/apm-chi/instrumentation/apmsql"
	chiadapter "github.com/fllarpy/apm-chi/internal/adapters/apmchi"
	"github.com/fllarpy/apm-chi/internal/adapters/apmotel"
	"github.com/fllarpy/apm-chi/internal/ports/http_reporter"
	"github.com/fllarpy/apm-chi/nplusone"
	"github.com/fllarpy/apm-chi/pkg/config"
	"github.com/fllarpy/apm-chi/pkg/logging"
	"github.com/fllarpy/apm-chi/profiling"
)

// FrameworkName is reported as service.framework.name unless configured otherwise.
const FrameworkName = "chi"

const chiModulePath = "github.com/go-chi/chi/v5"

// Agent wires the transaction client, the span pipeline and the store.
type Agent struct {
	cfg    config.Config
	logger *zap.Logger

	tp         *sdktrace.TracerProvider
	propagator propagation.TextMapPropagator
	client     *apmotel.Client
	store    *inmemory.Store
	profiler *profiling.Profiler
	detector *nplusone.Detector
}

// New builds an agent from cfg. A nil logger is replaced by one at
// cfg.LogLevel. opts are appended to the tracer provider options, e.g. an
// additional span processor or sampler.
//
// A disabled agent starts nothing: its middleware passes requests through and
// its HTTP and SQL helpers are not instrumented.
func New(cfg config.Config, logger *zap.Logger, opts ...sdktrace.TracerProviderOption) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithFrameworkDefaults(FrameworkName, chiVersion())

	if logger == nil {
		l, err := logging.New(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	a := &Agent{
		cfg:        cfg,
		logger:     logger,
		propagator: instrumentation.NewPropagator(),
		store:      inmemory.NewStore(),
	}
	if !cfg.Enabled {
		logger.Info("APM agent disabled")
		return a, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("apmchi: build resource: %w", err)
	}

	a.profiler = profiling.NewProfiler(cfg.Profiling, logger)
	a.detector = nplusone.NewDetector(cfg.NPlusOneThreshold, a.store, logger)

	var exporterOpts []exporter.Option
	if a.profiler != nil {
		exporterOpts = append(exporterOpts, exporter.WithProfiler(a.profiler))
	}
	if a.detector != nil {
		exporterOpts = append(exporterOpts, exporter.WithSpanProcessor(a.detector))
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter.New(a.store, logger, exporterOpts...)),
		sdktrace.WithResource(res),
	}
	a.tp = sdktrace.NewTracerProvider(append(tpOpts, opts...)...)
	a.client = apmotel.NewClient(a.tp, cfg, logger)

	if cfg.Instrument && !instrumentation.Instrument(a.tp) {
		logger.Warn("global tracer provider already installed by another agent")
	}

	logger.Info("APM agent initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("framework", cfg.FrameworkName),
		zap.String("framework_version", cfg.FrameworkVersion),
	)
	return a, nil
}

func newResource(cfg config.Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("service.framework.name", cfg.FrameworkName),
			attribute.String("service.framework.version", cfg.FrameworkVersion),
		),
	)
}

// chiVersion reports the chi version linked into the binary, or "" when
// build information is unavailable.
func chiVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, dep := range info.Deps {
		if dep.Path == chiModulePath {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return ""
}

// Config returns a copy of the effective configuration, framework defaults
// included.
func (a *Agent) Config() config.Config {
	cfg := a.cfg
	cfg.SanitizeFieldNames = append([]string(nil), a.cfg.SanitizeFieldNames...)
	return cfg
}

// Middleware returns chi middleware recording one transaction per request.
// Register it with Router.Use so the matched route is known when the
// transaction ends. Incoming W3C trace context is continued whether or not
// the agent installed the global propagator.
func (a *Agent) Middleware() func(http.Handler) http.Handler {
	cfg := a.cfg
	var client domain.Client
	if a.client != nil {
		client = a.client
	}
	return chiadapter.Middleware(&cfg, client, a.logger, chiadapter.WithPropagator(a.propagator))
}

// MetricsHandler serves the store snapshot as JSON. Mount it at
// Config().DebugEndpoint.
func (a *Agent) MetricsHandler() http.Handler {
	return http_reporter.NewHandler(a.store, a.logger)
}

// Client returns the transaction client, nil when the agent is disabled.
func (a *Agent) Client() domain.Client {
	if a.client == nil {
		return nil
	}
	return a.client
}

// TracerProvider returns the provider spans are recorded with. It is a no-op
// provider when the agent is disabled.
func (a *Agent) TracerProvider() trace.TracerProvider {
	if a.tp == nil {
		return noop.NewTracerProvider()
	}
	return a.tp
}

// HTTPClient returns a copy of base whose requests are recorded as client
// spans of the calling transaction.
func (a *Agent) HTTPClient(base *http.Client) *http.Client {
	if a.tp == nil {
		client := &http.Client{}
		if base != nil {
			*client = *base
		}
		return client
	}
	return apmhttp.NewClient(base, a.tp)
}

// OpenDB opens a database whose queries are recorded as client spans and
// checked for N+1 patterns.
func (a *Agent) OpenDB(driverName, dataSourceName string) (*sql.DB, error) {
	var attrs []attribute.KeyValue
	if system, ok := dbSystems[driverName]; ok {
		attrs = append(attrs, system)
	}
	return apmsql.Open(a.TracerProvider(), driverName, dataSourceName, attrs...)
}

var dbSystems = map[string]attribute.KeyValue{
	"sqlite3":  semconv.DBSystemSqlite,
	"postgres": semconv.DBSystemPostgreSQL,
	"pgx":      semconv.DBSystemPostgreSQL,
	"mysql":    semconv.DBSystemMySQL,
}

// Flush exports all ended spans so the store reflects them.
func (a *Agent) Flush(ctx context.Context) error {
	if a.tp == nil {
		return nil
	}
	return a.tp.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops the background helpers. When the
// agent installed the global tracer provider, the global is reset to a no-op
// provider first.
func (a *Agent) Shutdown(ctx context.Context) error {
	if a.tp == nil {
		return nil
	}
	defer a.profiler.Stop()
	defer a.detector.Stop()

	if instrumentation.Release(a.tp) {
		a.logger.Debug("global tracer provider released")
	}

	err := multierr.Combine(a.tp.ForceFlush(ctx), a.tp.Shutdown(ctx))
	if err != nil {
		return fmt.Errorf("apmchi: shutdown: %w", err)
	}
	return nil
}
