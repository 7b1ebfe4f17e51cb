// Package server provides the petal process's small operational HTTP
// surface: a health check and a metrics scrape endpoint. The oracle
// protocol itself has no HTTP surface on the petal side — petals push
// proofs to the consumer, they don't serve them.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc reports whether the petal's scheduler is currently running.
type StatusFunc func() (running bool, lastEpoch int64)

// New builds the petal health/metrics router.
func New(petalID string, status StatusFunc) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler(petalID, status)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func healthHandler(petalID string, status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		running, lastEpoch := status()
		w.Header().Set("Content-Type", "application/json")
		if !running {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"petalId":   petalID,
			"running":   running,
			"lastEpoch": lastEpoch,
			"time":      time.Now().UTC().Format(time.RFC3339),
		})
	}
}
