package http_reporter

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/fllarpy/apm-chi/domain"
	"github.com/fllarpy/apm-chi/pkg/logging"
)

// NewHandler creates an HTTP handler that serves a snapshot of store as JSON.
func NewHandler(store domain.StoreReader, logger *zap.Logger) http.Handler {
	logger = logging.OrNop(logger)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		body, err := json.Marshal(store.GetSnapshot())
		if err != nil {
			logger.Error("failed to encode metrics snapshot", zap.Error(err))
			http.Error(w, "Failed to encode metrics to JSON", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write(body)
	})
}
