// Package instrumentation installs the agent's tracer provider as the
// OpenTelemetry global so that instrumented libraries report into it.
package instrumentation

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	mu        sync.Mutex
	installed trace.TracerProvider
)

// NewPropagator returns the W3C trace-context and baggage propagator.
func NewPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// Instrument sets tp and NewPropagator as process-wide defaults. Only one
// provider is installed at a time: it reports false, and changes nothing,
// while another provider is installed and not yet released.
func Instrument(tp trace.TracerProvider) bool {
	mu.Lock()
	defer mu.Unlock()

	if installed != nil {
		return false
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(NewPropagator())
	installed = tp
	return true
}

// Release replaces tp with a no-op provider when tp is the installed global
// and frees the slot for the next Instrument call. It reports whether tp was
// installed.
func Release(tp trace.TracerProvider) bool {
	mu.Lock()
	defer mu.Unlock()

	if installed == nil || installed != tp {
		return false
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
	installed = nil
	return true
}
