// Package server implements the Consumer's HTTP surface: proof intake,
// latest/historical price reads, adapter introspection, and operational
// health/metrics endpoints.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"flora-consensus/core"
)

// Deps collects the collaborators the HTTP surface delegates to.
type Deps struct {
	Intake      *core.Intake
	Aggregator  *core.Aggregator
	Coordinator *core.Coordinator
	Ledger      core.LedgerClient
	Log         *logrus.Logger

	// Metadata surfaced verbatim on GET /adapters.
	Network         string
	FloraAccountID  string
	RegistryTopicID string
	FloraStateTopic string
}

type server struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
