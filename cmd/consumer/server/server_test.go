package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"flora-consensus/cmd/consumer/server"
	"flora-consensus/core"
)

type stubBootstrap struct{}

func (stubBootstrap) PetalAccountID(petalID string) (string, bool) { return "", false }
func (stubBootstrap) Participants() ([]string, bool)               { return nil, false }

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("zap.NewDevelopment() error = %v", err)
	}
	return l.Sugar()
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	intake := core.NewIntake(core.IntakeConfig{
		FloraAccountID:       "0.0.100",
		ThresholdFingerprint: "tf-1",
		RegistryTopicID:      "0.0.500",
	}, nil)
	coordinator := core.NewCoordinator(core.CoordinatorConfig{}, noopStore{}, nil, intake, nil, testLogger(t))
	aggregator := core.NewAggregator(1, stubBootstrap{}, coordinator, testLogger(t))

	log := logrus.New()
	log.SetOutput(logOutputDiscard{})

	deps := server.Deps{
		Intake:          intake,
		Aggregator:      aggregator,
		Coordinator:     coordinator,
		Log:             log,
		Network:         "testnet",
		FloraAccountID:  "0.0.100",
		RegistryTopicID: "0.0.500",
		FloraStateTopic: "0.0.200",
	}
	return server.NewRouter(deps, server.RouterConfig{RateLimitRPS: 100, RateLimitBurst: 100})
}

// newTestRouterWithProof seeds the intake's roster with one validated proof
// before constructing the router, for tests that exercise /adapters.
func newTestRouterWithProof(t *testing.T) http.Handler {
	t.Helper()
	intake := core.NewIntake(core.IntakeConfig{
		FloraAccountID:       "0.0.100",
		ThresholdFingerprint: "tf-1",
		RegistryTopicID:      "0.0.500",
	}, nil)
	cfg := core.ProofConfig{
		ThresholdFingerprint: "tf-1",
		RegistryTopicID:      "0.0.500",
		FloraAccountID:       "0.0.100",
		PetalID:              "petal-1",
		PetalAccountID:       "0.0.1",
		PetalStateTopicID:    "0.0.300",
	}
	records := []core.AdapterRecord{{AdapterID: "fixed-hbar-usd", EntityID: "HBAR/USD", Payload: map[string]any{"price": 1.0, "source": "x"}}}
	proof := core.BuildProof(1, records, cfg)
	body, err := json.Marshal(proof)
	if err != nil {
		t.Fatalf("marshalling proof: %v", err)
	}
	if _, err := intake.HandleProof(body); err != nil {
		t.Fatalf("seeding intake: %v", err)
	}

	coordinator := core.NewCoordinator(core.CoordinatorConfig{}, noopStore{}, nil, intake, nil, testLogger(t))
	aggregator := core.NewAggregator(1, stubBootstrap{}, coordinator, testLogger(t))
	log := logrus.New()
	log.SetOutput(logOutputDiscard{})

	deps := server.Deps{
		Intake:          intake,
		Aggregator:      aggregator,
		Coordinator:     coordinator,
		Log:             log,
		Network:         "testnet",
		FloraAccountID:  "0.0.100",
		RegistryTopicID: "0.0.500",
		FloraStateTopic: "0.0.200",
	}
	return server.NewRouter(deps, server.RouterConfig{RateLimitRPS: 100, RateLimitBurst: 100})
}

type logOutputDiscard struct{}

func (logOutputDiscard) Write(p []byte) (int, error) { return len(p), nil }

type noopStore struct{}

func (noopStore) UpsertConsensusEntry(ctx context.Context, entry core.ConsensusEntry) error {
	return nil
}
func (noopStore) LoadHistory(ctx context.Context) ([]core.ConsensusEntry, error) { return nil, nil }
func (noopStore) PutSecret(ctx context.Context, key string, value []byte) error  { return nil }
func (noopStore) GetSecret(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}
func (noopStore) PutState(ctx context.Context, key, value string) error { return nil }
func (noopStore) GetState(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

func TestHandleLatestNotFoundWhenNoHistory(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/price/latest", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleAdaptersListsSeenAdapters(t *testing.T) {
	router := newTestRouterWithProof(t)
	req := httptest.NewRequest(http.MethodGet, "/adapters", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		Adapters []string `json:"adapters"`
		Petals   []struct {
			PetalID   string `json:"petalId"`
			AccountID string `json:"accountId"`
		} `json:"petals"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshalling response: %v", err)
	}
	if len(body.Adapters) != 1 || body.Adapters[0] != "fixed-hbar-usd" {
		t.Fatalf("Adapters = %v, want [fixed-hbar-usd]", body.Adapters)
	}
	if len(body.Petals) != 1 || body.Petals[0].PetalID != "petal-1" || body.Petals[0].AccountID != "0.0.1" {
		t.Fatalf("Petals = %+v, want one entry for petal-1/0.0.1", body.Petals)
	}
}

func TestHandleAdaptersEmptyRosterWhenNoProofsSeen(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/adapters", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		Adapters []string `json:"adapters"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshalling response: %v", err)
	}
	if len(body.Adapters) != 0 {
		t.Fatalf("Adapters = %v, want none", body.Adapters)
	}
}

func TestHandleHealthReportsOK(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestHandleProofRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/proof", bytes.NewBufferString("not json"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHandleProofAcceptsValidProof(t *testing.T) {
	router := newTestRouter(t)
	cfg := core.ProofConfig{
		ThresholdFingerprint: "tf-1",
		RegistryTopicID:      "0.0.500",
		FloraAccountID:       "0.0.100",
		PetalID:              "petal-1",
		PetalAccountID:       "0.0.1",
		PetalStateTopicID:    "0.0.300",
	}
	records := []core.AdapterRecord{{AdapterID: "a1", EntityID: "HBAR/USD", Payload: map[string]any{"price": 1.0, "source": "x"}}}
	proof := core.BuildProof(1, records, cfg)
	body, err := json.Marshal(proof)
	if err != nil {
		t.Fatalf("marshalling proof: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/proof", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rr.Code, rr.Body.String())
	}
}

func TestHandleHistoryRejectsNonIntegerOffset(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/price/history?offset=abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHandleHistoryDefaultsAndClampsLimit(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/price/history?limit=10000", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		Total  int `json:"total"`
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshalling response: %v", err)
	}
	if body.Limit != 200 {
		t.Fatalf("Limit = %d, want clamped to 200", body.Limit)
	}
	if body.Offset != 0 {
		t.Fatalf("Offset = %d, want default 0", body.Offset)
	}
}
