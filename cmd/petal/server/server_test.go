package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"flora-consensus/cmd/petal/server"
)

func TestHealthReportsRunningStatus(t *testing.T) {
	handler := server.New("petal-1", func() (bool, int64) { return true, 42 })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		PetalID   string `json:"petalId"`
		Running   bool   `json:"running"`
		LastEpoch int64  `json:"lastEpoch"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshalling response: %v", err)
	}
	if body.PetalID != "petal-1" || !body.Running || body.LastEpoch != 42 {
		t.Fatalf("body = %+v, want petal-1/running/42", body)
	}
}

func TestHealthReportsServiceUnavailableWhenNotRunning(t *testing.T) {
	handler := server.New("petal-1", func() (bool, int64) { return false, 0 })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	handler := server.New("petal-1", func() (bool, int64) { return true, 1 })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct == "" {
		t.Fatalf("expected a Content-Type header from promhttp.Handler()")
	}
}
