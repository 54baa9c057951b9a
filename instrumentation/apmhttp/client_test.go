package apmhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestNewClient(t *testing.T) {
	testCases := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Not Found", http.StatusNotFound},
		{"Internal Server Error", http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
			defer func() { _ = tp.Shutdown(context.Background()) }()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
			}))
			defer server.Close()

			client := NewClient(nil, tp)
			resp, err := client.Get(server.URL)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, tc.statusCode, resp.StatusCode)

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, trace.SpanKindClient, ended[0].SpanKind())
		})
	}
}

func TestNewClient_DoesNotModifyBase(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	base := &http.Client{Timeout: 3 * time.Second}
	client := NewClient(base, tp)

	assert.Nil(t, base.Transport, "the base client keeps its transport")
	assert.NotNil(t, client.Transport)
	assert.Equal(t, 3*time.Second, client.Timeout, "other settings are copied")
}
