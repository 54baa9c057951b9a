// Package apmhttp instruments outgoing HTTP calls so they appear as client
// spans inside the transaction of the request that made them.
package apmhttp

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// NewTransport wraps base (http.DefaultTransport when nil) with otelhttp.
func NewTransport(base http.RoundTripper, tp trace.TracerProvider) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base, otelhttp.WithTracerProvider(tp))
}

// NewClient returns a copy of base whose transport is instrumented.
// The base client is not modified.
func NewClient(base *http.Client, tp trace.TracerProvider) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	client.Transport = NewTransport(client.Transport, tp)
	return client
}
