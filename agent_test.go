package apmchi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/mattn/go-sqlite3" // Import for side effects
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/fllarpy/apm-chi/domain"
	"github.com/fllarpy/apm-chi/pkg/config"
)

func testAgentConfig() config.Config {
	cfg := config.Default()
	cfg.ServiceName = "agent-test"
	cfg.Instrument = false
	cfg.NPlusOneThreshold = 3
	cfg.Profiling.Enabled = false
	return cfg
}

func snapshotOf(t *testing.T, agent *Agent) domain.Snapshot {
	t.Helper()
	rec := httptest.NewRecorder()
	agent.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/apm", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot domain.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	return snapshot
}

func TestAgent_EndToEnd(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	agent, err := New(testAgentConfig(), zaptest.NewLogger(t), sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Shutdown(context.Background()) })

	db, err := agent.OpenDB("sqlite3", "file:agent_end_to_end?mode=memory&cache=shared")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT); INSERT INTO users (id, name) VALUES (1, 'Alice')`)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(agent.Middleware())
	r.Get("/users/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("user " + chi.URLParam(r, "user_id")))
	})
	r.Get("/n-plus-one", func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 4; i++ {
			var name string
			if err := db.QueryRowContext(r.Context(), "SELECT name FROM users WHERE id = ?", 1).Scan(&name); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	for _, path := range []string{"/users/1", "/users/2", "/n-plus-one", "/boom", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	require.NoError(t, agent.Flush(context.Background()))

	snapshot := snapshotOf(t, agent)

	users := snapshot.Transactions["GET /users/{user_id}"]
	assert.Equal(t, uint64(2), users.Count)
	assert.Equal(t, uint64(2), users.Results["2xx"])

	assert.Equal(t, uint64(1), snapshot.Transactions["GET /n-plus-one"].Results["2xx"])
	assert.Equal(t, uint64(1), snapshot.Transactions["GET /boom"].Results["5xx"])
	assert.Equal(t, uint64(1), snapshot.Transactions[""].Results["4xx"], "unmatched routes are unnamed")

	require.Len(t, snapshot.Errors, 1)
	assert.Equal(t, "GET /boom", snapshot.Errors[0].Transaction)
	assert.NotEmpty(t, snapshot.Errors[0].TraceID)

	require.Len(t, snapshot.NPlusOneEvents, 1)
	assert.Equal(t, "GET /n-plus-one", snapshot.NPlusOneEvents[0].Transaction)
	assert.Equal(t, "SELECT name FROM users WHERE id = ?", snapshot.NPlusOneEvents[0].Query)
	assert.Equal(t, 4, snapshot.NPlusOneEvents[0].Count)

	assert.GreaterOrEqual(t, snapshot.Client.TotalRequests, uint64(4), "queries count as outgoing calls")
	assert.NotEmpty(t, recorder.Ended(), "caller-supplied span processors see the same spans")
}

func TestAgent_ContinuesIncomingTraceWithoutGlobals(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	agent, err := New(testAgentConfig(), zaptest.NewLogger(t), sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Shutdown(context.Background()) })

	r := chi.NewRouter()
	r.Use(agent.Middleware())
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.ServeHTTP(httptest.NewRecorder(), req)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", ended[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", ended[0].Parent().SpanID().String())
}

func TestAgent_FrameworkDefaults(t *testing.T) {
	agent, err := New(testAgentConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Shutdown(context.Background()) })

	cfg := agent.Config()
	assert.Equal(t, FrameworkName, cfg.FrameworkName)

	custom := testAgentConfig()
	custom.FrameworkName = "my-router"
	custom.FrameworkVersion = "0.0.1"
	other, err := New(custom, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Shutdown(context.Background()) })

	assert.Equal(t, "my-router", other.Config().FrameworkName)
	assert.Equal(t, "0.0.1", other.Config().FrameworkVersion)
}

func TestAgent_Disabled(t *testing.T) {
	cfg := testAgentConfig()
	cfg.Enabled = false

	agent, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Nil(t, agent.Client())

	r := chi.NewRouter()
	r.Use(agent.Middleware())
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	assert.Empty(t, snapshotOf(t, agent).Transactions)
	assert.NotNil(t, agent.HTTPClient(nil))
	assert.NoError(t, agent.Flush(context.Background()))
	assert.NoError(t, agent.Shutdown(context.Background()))
}

func TestAgent_InvalidConfig(t *testing.T) {
	cfg := testAgentConfig()
	cfg.NPlusOneThreshold = -1

	_, err := New(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestAgent_HTTPClientDoesNotModifyBase(t *testing.T) {
	agent, err := New(testAgentConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Shutdown(context.Background()) })

	base := &http.Client{}
	client := agent.HTTPClient(base)
	assert.NotSame(t, base, client)
	assert.Nil(t, base.Transport)
	assert.NotNil(t, client.Transport)
}
